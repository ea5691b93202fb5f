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
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// MetricsStageDuration mirrors every recorded stage duration into a
	// Prometheus histogram so a separate scraper can aggregate across
	// process restarts, independent of the in-process percentile tracker.
	MetricsStageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_stage_duration_ms",
		Help:    "Duration of each execution pipeline stage in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"stage", "language"})

	MetricsSubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_submissions_total",
		Help: "The count of completed submissions by language",
	}, []string{"language"})

	MetricsContainerReuse = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_container_reuse_total",
		Help: "The count of submissions that reused a pooled container, by outcome",
	}, []string{"reused"})
)

func init() {
	prometheus.MustRegister(
		MetricsStageDuration,
		MetricsSubmissionsTotal,
		MetricsContainerReuse,
	)
}
