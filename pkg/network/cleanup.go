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

package network

import (
	"context"
	"sync"
	"time"
)

// Escalation thresholds for cleanupOrphanedNetworks, per SPEC_FULL §4.2.
const (
	escalationLevel1NetworkCount = 20
	escalationLevel2NetworkCount = 50
	bulkPathNetworkCount         = 100

	escalationLevel1AgeOverride = 30 * time.Second
	escalationLevel2AgeOverride = 0 * time.Second

	emergencyCleanupCooldown = 5 * time.Second
)

// CleanupOrphanedNetworks sweeps every tracked network older than maxAge,
// escalating the effective age threshold as the live network count grows so
// a backlog drains itself instead of accumulating indefinitely.
func (m *Manager) CleanupOrphanedNetworks(ctx context.Context, maxAge time.Duration) (removed int, escalationLevel int) {
	snapshot := m.ListSessionNetworks()
	n := len(snapshot)

	effectiveMaxAge := maxAge

	switch {
	case n > escalationLevel2NetworkCount:
		effectiveMaxAge = escalationLevel2AgeOverride
		escalationLevel = 2
	case n > escalationLevel1NetworkCount:
		effectiveMaxAge = escalationLevel1AgeOverride
		escalationLevel = 1
	}

	now := time.Now()

	for _, net := range snapshot {
		if now.Sub(net.CreatedAt) < effectiveMaxAge {
			continue
		}

		info, err := m.engine.InspectNetwork(ctx, net.Name)
		if err == nil && info.ContainerCount > 0 {
			continue
		}

		sessionKey := net.Name[len(m.prefix):]

		if err := m.DeleteSessionNetwork(ctx, sessionKey); err != nil {
			logger.WithField("network", net.Name).Warnf("orphan cleanup: %v", err)

			continue
		}

		removed++
	}

	return removed, escalationLevel
}

// EmergencyNetworkCleanup runs CleanupOrphanedNetworks with a zero age
// threshold, guarded by a single in-flight lock and a cooldown window so a
// burst of allocation failures cannot trigger a thundering herd of prune
// calls against the engine, which serializes them globally anyway.
func (m *Manager) EmergencyNetworkCleanup(ctx context.Context) (removed int, ran bool) {
	m.emergencyMu.Lock()

	if time.Since(m.lastEmergency) < emergencyCleanupCooldown {
		m.emergencyMu.Unlock()

		return 0, false
	}

	m.lastEmergency = time.Now()
	m.emergencyMu.Unlock()

	removed, _ = m.CleanupOrphanedNetworks(ctx, 0)

	return removed, true
}

// AggressiveBulkNetworkCleanup is the entry point the caller reaches for
// once the live network count exceeds bulkPathNetworkCount: it disconnects
// every container from every managed network, pauses briefly for the
// engine to settle, then removes everything in parallel batches.
func (m *Manager) AggressiveBulkNetworkCleanup(ctx context.Context) int {
	snapshot := m.ListSessionNetworks()
	if len(snapshot) <= bulkPathNetworkCount {
		return 0
	}

	for _, net := range snapshot {
		if err := m.engine.DisconnectAllFromNetwork(ctx, net.Name); err != nil {
			logger.WithField("network", net.Name).Warnf("bulk disconnect: %v", err)
		}
	}

	time.Sleep(200 * time.Millisecond)

	const batchSize = 10

	removed := 0

	var mu sync.Mutex

	for i := 0; i < len(snapshot); i += batchSize {
		end := i + batchSize
		if end > len(snapshot) {
			end = len(snapshot)
		}

		var wg sync.WaitGroup

		for _, net := range snapshot[i:end] {
			wg.Add(1)

			go func(name string) {
				defer wg.Done()

				sessionKey := name[len(m.prefix):]
				if err := m.DeleteSessionNetwork(ctx, sessionKey); err == nil {
					mu.Lock()
					removed++
					mu.Unlock()
				}
			}(net.Name)
		}

		wg.Wait()
	}

	return removed
}
