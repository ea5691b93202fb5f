// Copyright The TrustTunnel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics records per-stage submission latency (PipelineTimings)
// and exposes percentile/average views over the recent window, alongside
// a Prometheus view of the same observations for cross-restart scraping.
package metrics

import (
	"sort"
	"sync"
)

const (
	ringCapacity     = 500
	slowThresholdMs  = 1000
	maxSlowRetained  = 50
)

// Timings is one submission's per-stage PipelineTimings record.
type Timings struct {
	QueueMs        float64
	NetworkMs      float64
	ContainerMs    float64
	FileTransferMs float64
	ExecutionMs    float64
	CleanupMs      float64
	TotalMs        float64
	ContainerReused bool
	Language       string
}

var stageNames = []string{"queueMs", "networkMs", "containerMs", "fileTransferMs", "executionMs", "cleanupMs", "totalMs"}

func (t Timings) byStageMs() map[string]float64 {
	return map[string]float64{
		"queueMs":        t.QueueMs,
		"networkMs":      t.NetworkMs,
		"containerMs":    t.ContainerMs,
		"fileTransferMs": t.FileTransferMs,
		"executionMs":    t.ExecutionMs,
		"cleanupMs":      t.CleanupMs,
		"totalMs":        t.TotalMs,
	}
}

// StageStats is the percentile/average summary for one stage.
type StageStats struct {
	P50 float64
	P95 float64
	P99 float64
	Avg float64
}

// LanguageStats is the per-language rollup.
type LanguageStats struct {
	Count    int
	AvgTotal float64
}

// Stats is the Pipeline Metrics getStats() result.
type Stats struct {
	Count           int
	ReuseRate       float64
	ByStage         map[string]StageStats
	ByLanguage      map[string]LanguageStats
	SlowExecutions  []Timings
}

// Tracker is the Pipeline Metrics component (SPEC_FULL §4.6): a capped
// ring buffer of recent Timings plus a rolling list of slow executions.
type Tracker struct {
	mu      sync.Mutex
	ring    []Timings
	next    int
	filled  bool
	slow    []Timings
}

// New constructs an empty Tracker.
func New() *Tracker {
	return &Tracker{ring: make([]Timings, ringCapacity)}
}

// Record appends t to the ring buffer, mirrors each stage into the
// Prometheus histogram, and retains t in the slow-execution list when its
// total exceeds the threshold.
func (tr *Tracker) Record(t Timings) {
	tr.mu.Lock()

	tr.ring[tr.next] = t
	tr.next = (tr.next + 1) % ringCapacity
	if tr.next == 0 {
		tr.filled = true
	}

	if t.TotalMs > slowThresholdMs {
		tr.slow = append(tr.slow, t)
		if len(tr.slow) > maxSlowRetained {
			tr.slow = tr.slow[len(tr.slow)-maxSlowRetained:]
		}
	}

	tr.mu.Unlock()

	for stage, ms := range t.byStageMs() {
		MetricsStageDuration.WithLabelValues(stage, t.Language).Observe(ms)
	}

	MetricsSubmissionsTotal.WithLabelValues(t.Language).Inc()

	reused := "false"
	if t.ContainerReused {
		reused = "true"
	}
	MetricsContainerReuse.WithLabelValues(reused).Inc()
}

func (tr *Tracker) snapshot() []Timings {
	if tr.filled {
		out := make([]Timings, ringCapacity)
		copy(out, tr.ring[tr.next:])
		copy(out[ringCapacity-tr.next:], tr.ring[:tr.next])

		return out
	}

	out := make([]Timings, tr.next)
	copy(out, tr.ring[:tr.next])

	return out
}

// GetStats computes the percentile/average/language rollup over the
// retained window.
func (tr *Tracker) GetStats() Stats {
	tr.mu.Lock()
	records := tr.snapshot()
	slow := make([]Timings, len(tr.slow))
	copy(slow, tr.slow)
	tr.mu.Unlock()

	stats := Stats{
		Count:          len(records),
		ByStage:        make(map[string]StageStats, len(stageNames)),
		ByLanguage:     make(map[string]LanguageStats),
		SlowExecutions: slow,
	}

	if len(records) == 0 {
		for _, stage := range stageNames {
			stats.ByStage[stage] = StageStats{}
		}

		return stats
	}

	reused := 0
	byLang := make(map[string][]float64)

	for _, r := range records {
		if r.ContainerReused {
			reused++
		}

		byLang[r.Language] = append(byLang[r.Language], r.TotalMs)
	}

	stats.ReuseRate = 100 * float64(reused) / float64(len(records))

	for _, stage := range stageNames {
		values := make([]float64, 0, len(records))
		for _, r := range records {
			values = append(values, r.byStageMs()[stage])
		}

		stats.ByStage[stage] = computeStageStats(values)
	}

	for lang, totals := range byLang {
		var sum float64
		for _, v := range totals {
			sum += v
		}

		stats.ByLanguage[lang] = LanguageStats{
			Count:    len(totals),
			AvgTotal: sum / float64(len(totals)),
		}
	}

	return stats
}

// Reset clears every retained record and the slow-execution list.
func (tr *Tracker) Reset() {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	tr.ring = make([]Timings, ringCapacity)
	tr.next = 0
	tr.filled = false
	tr.slow = nil
}

func computeStageStats(values []float64) StageStats {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	return StageStats{
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
		Avg: sum / float64(len(sorted)),
	}
}

// percentile linearly interpolates between the two closest ranks of
// pre-sorted values.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}

	rank := (p / 100) * float64(len(sorted)-1)
	lo := int(rank)
	hi := lo + 1

	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	frac := rank - float64(lo)

	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
