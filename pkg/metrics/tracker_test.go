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

package metrics

import (
	"testing"
	"time"
)

func TestRecordAndGetStatsComputesReuseRateAndAverages(t *testing.T) {
	tr := New()

	tr.Record(Timings{TotalMs: 100, Language: "python", ContainerReused: true})
	tr.Record(Timings{TotalMs: 300, Language: "python", ContainerReused: false})

	stats := tr.GetStats()

	if stats.Count != 2 {
		t.Fatalf("Count = %d, want 2", stats.Count)
	}

	if stats.ReuseRate != 50 {
		t.Errorf("ReuseRate = %v, want 50", stats.ReuseRate)
	}

	lang, ok := stats.ByLanguage["python"]
	if !ok {
		t.Fatal("expected python entry in ByLanguage")
	}

	if lang.Count != 2 || lang.AvgTotal != 200 {
		t.Errorf("ByLanguage[python] = %+v, want {Count:2 AvgTotal:200}", lang)
	}
}

func TestGetStatsRetainsSlowExecutions(t *testing.T) {
	tr := New()

	tr.Record(Timings{TotalMs: 50, Language: "python"})
	tr.Record(Timings{TotalMs: 1500, Language: "python"})

	stats := tr.GetStats()
	if len(stats.SlowExecutions) != 1 {
		t.Fatalf("SlowExecutions = %v, want exactly 1 entry", stats.SlowExecutions)
	}

	if stats.SlowExecutions[0].TotalMs != 1500 {
		t.Errorf("slow execution TotalMs = %v, want 1500", stats.SlowExecutions[0].TotalMs)
	}
}

func TestRingBufferCapsAt500(t *testing.T) {
	tr := New()

	for i := 0; i < 600; i++ {
		tr.Record(Timings{TotalMs: float64(i), Language: "python"})
	}

	stats := tr.GetStats()
	if stats.Count != ringCapacity {
		t.Errorf("Count = %d, want %d", stats.Count, ringCapacity)
	}
}

func TestResetClearsRecords(t *testing.T) {
	tr := New()
	tr.Record(Timings{TotalMs: 100, Language: "python"})
	tr.Reset()

	stats := tr.GetStats()
	if stats.Count != 0 {
		t.Errorf("Count after reset = %d, want 0", stats.Count)
	}
}

func TestStopwatchLapAndTotal(t *testing.T) {
	sw := CreateStopwatch()
	time.Sleep(5 * time.Millisecond)

	lap1 := sw.Lap()
	if lap1 <= 0 {
		t.Errorf("Lap() = %v, want > 0", lap1)
	}

	time.Sleep(5 * time.Millisecond)

	total := sw.Total()
	if total < lap1 {
		t.Errorf("Total() = %v, want >= first lap %v", total, lap1)
	}
}

func TestPercentileOnKnownDistribution(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	if p := percentile(values, 50); p < 5 || p > 6 {
		t.Errorf("p50 = %v, want between 5 and 6", p)
	}

	if p := percentile(values, 99); p < 9 {
		t.Errorf("p99 = %v, want near the top of the distribution", p)
	}
}
