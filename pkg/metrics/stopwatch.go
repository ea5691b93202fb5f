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

import "time"

// Stopwatch measures successive stage durations within one submission's
// pipeline, from creation and from the previous lap.
type Stopwatch struct {
	start   time.Time
	lastLap time.Time
}

// CreateStopwatch returns a Stopwatch started now.
func CreateStopwatch() *Stopwatch {
	now := time.Now()

	return &Stopwatch{start: now, lastLap: now}
}

// Lap returns the milliseconds elapsed since the previous Lap call (or
// creation, for the first call) and resets the lap origin.
func (s *Stopwatch) Lap() float64 {
	now := time.Now()
	elapsed := now.Sub(s.lastLap)
	s.lastLap = now

	return float64(elapsed.Microseconds()) / 1000.0
}

// Total returns the milliseconds elapsed since creation.
func (s *Stopwatch) Total() float64 {
	return float64(time.Since(s.start).Microseconds()) / 1000.0
}
