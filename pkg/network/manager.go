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

	"coderunner-orchestrator/pkg/common/logutil"
	"coderunner-orchestrator/pkg/common/sessionutil"
	"coderunner-orchestrator/pkg/engine"

	"golang.org/x/sync/singleflight"
)

var logger = logutil.GetLogger("network")

// engineClient is the subset of pkg/engine.Client the manager depends on,
// narrowed so this package can be tested against a fake.
type engineClient interface {
	CreateNetwork(ctx context.Context, name, subnet string, labels map[string]string) (string, error)
	NetworkExists(ctx context.Context, name string) (bool, error)
	InspectNetwork(ctx context.Context, name string) (engine.NetworkInfo, error)
	RemoveNetwork(ctx context.Context, name string) error
	ListNetworks(ctx context.Context, prefix string) ([]engine.NetworkInfo, error)
	DisconnectAllFromNetwork(ctx context.Context, name string) error
	PruneNetworks(ctx context.Context, labelFilter map[string]string) ([]string, error)
}

// SessionNetwork is one session's isolated bridge network.
type SessionNetwork struct {
	Name      string
	Subnet    string
	CreatedAt time.Time
}

// Config parameterizes the manager's naming and retry behavior.
type Config struct {
	NamePrefix string
	Pools      []SubnetPool
	Labels     map[string]string
}

// Metrics accumulates counters exposed via getNetworkMetrics.
type Metrics struct {
	Created          int64
	Deleted          int64
	CleanupErrors    int64
	AllocationErrors int64
}

// Manager owns every SessionNetwork and the subnet allocator backing them.
type Manager struct {
	engine engineClient
	prefix string
	labels map[string]string

	allocator *subnetAllocator
	sf        singleflight.Group

	mu       sync.Mutex
	networks map[string]*SessionNetwork

	metricsMu sync.Mutex
	metrics   Metrics

	emergencyMu   sync.Mutex
	lastEmergency time.Time
}

// New constructs a Manager against engine, seeding its subnet allocator
// from any networks the engine already reports (a restart-safety measure:
// a process that crashed and restarted must not reuse a subnet still live
// on the engine).
func New(ctx context.Context, eng engineClient, cfg Config) (*Manager, error) {
	m := &Manager{
		engine:    eng,
		prefix:    cfg.NamePrefix,
		labels:    cfg.Labels,
		allocator: newSubnetAllocator(cfg.Pools),
		networks:  make(map[string]*SessionNetwork),
	}

	existing, err := eng.ListNetworks(ctx, cfg.NamePrefix)
	if err != nil {
		logger.Warnf("list existing networks during startup seed: %v", err)

		return m, nil
	}

	subnets := make([]string, 0, len(existing))
	for _, n := range existing {
		subnets = append(subnets, n.Subnet)
	}

	m.allocator.seedLiveFromEngine(subnets)

	return m, nil
}

func (m *Manager) networkName(sessionKey string) string {
	return m.prefix + sessionKey
}

// GetOrCreateSessionNetwork returns sessionKey's network, creating it if
// this is the session's first execution. Concurrent callers for the same
// session observe exactly one creation attempt via singleflight; the rest
// await its result.
func (m *Manager) GetOrCreateSessionNetwork(ctx context.Context, sessionKey string) (string, error) {
	name := m.networkName(sessionKey)

	m.mu.Lock()
	if _, ok := m.networks[name]; ok {
		m.mu.Unlock()

		return name, nil
	}
	m.mu.Unlock()

	_, err, _ := m.sf.Do(name, func() (interface{}, error) {
		return nil, m.createWithRetry(ctx, name, sessionKey)
	})
	if err != nil {
		return "", err
	}

	return name, nil
}

var backoffSchedule = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}

// createWithRetry allocates a subnet and creates the network, retrying up
// to three times with exponential backoff. If the engine reports the
// network already exists at any attempt, it verifies and adopts the
// existing network instead of failing.
func (m *Manager) createWithRetry(ctx context.Context, name, sessionKey string) error {
	subnet, err := m.allocator.allocate(name)
	if err != nil {
		m.bumpMetric(func(met *Metrics) { met.AllocationErrors++ })

		return sessionutil.Wrap(sessionutil.KindSubnetExhausted, err)
	}

	var lastErr error

	for attempt := 0; attempt < len(backoffSchedule)+1; attempt++ {
		_, createErr := m.engine.CreateNetwork(ctx, name, subnet, m.labels)
		if createErr == nil {
			m.mu.Lock()
			m.networks[name] = &SessionNetwork{Name: name, Subnet: subnet, CreatedAt: time.Now()}
			m.mu.Unlock()

			m.bumpMetric(func(met *Metrics) { met.Created++ })

			return nil
		}

		exists, existsErr := m.engine.NetworkExists(ctx, name)
		if existsErr == nil && exists {
			info, inspectErr := m.engine.InspectNetwork(ctx, name)
			if inspectErr == nil {
				m.mu.Lock()
				m.networks[name] = &SessionNetwork{Name: name, Subnet: info.Subnet, CreatedAt: time.Now()}
				m.mu.Unlock()

				return nil
			}
		}

		lastErr = createErr

		if attempt < len(backoffSchedule) {
			select {
			case <-ctx.Done():
				m.allocator.release(name)

				return sessionutil.Wrap(sessionutil.KindTimeout, ctx.Err())
			case <-time.After(backoffSchedule[attempt]):
			}
		}
	}

	m.allocator.release(name)

	return sessionutil.Wrapf(sessionutil.KindEngineUnavailable, "create network %s after retries: %v", name, lastErr)
}

// DeleteSessionNetwork disconnects every attached container and removes
// sessionKey's network, releasing its subnet back to the allocator.
func (m *Manager) DeleteSessionNetwork(ctx context.Context, sessionKey string) error {
	name := m.networkName(sessionKey)

	if err := m.engine.DisconnectAllFromNetwork(ctx, name); err != nil {
		logger.WithField("network", name).Warnf("disconnect containers before removal: %v", err)
	}

	err := m.engine.RemoveNetwork(ctx, name)

	m.mu.Lock()
	delete(m.networks, name)
	m.mu.Unlock()

	m.allocator.release(name)

	if err != nil {
		m.bumpMetric(func(met *Metrics) { met.CleanupErrors++ })

		return sessionutil.Wrap(sessionutil.KindCleanupFailed, err)
	}

	m.bumpMetric(func(met *Metrics) { met.Deleted++ })

	return nil
}

// ListSessionNetworks returns a snapshot of every network the manager
// currently tracks.
func (m *Manager) ListSessionNetworks() []SessionNetwork {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]SessionNetwork, 0, len(m.networks))
	for _, n := range m.networks {
		out = append(out, *n)
	}

	return out
}

// NetworkStats is the summary returned by GetNetworkStats.
type NetworkStats struct {
	Total          int
	WithContainers int
	Empty          int
	Networks       []NetworkAgeInfo
}

// NetworkAgeInfo describes one network's attachment count and age.
type NetworkAgeInfo struct {
	Name           string
	ContainerCount int
	AgeSeconds     float64
}

// GetNetworkStats inspects every tracked network to report how many
// containers each holds and how old it is.
func (m *Manager) GetNetworkStats(ctx context.Context) NetworkStats {
	snapshot := m.ListSessionNetworks()

	stats := NetworkStats{Total: len(snapshot)}

	for _, n := range snapshot {
		info, err := m.engine.InspectNetwork(ctx, n.Name)

		count := 0
		if err == nil {
			count = info.ContainerCount
		}

		if count > 0 {
			stats.WithContainers++
		} else {
			stats.Empty++
		}

		stats.Networks = append(stats.Networks, NetworkAgeInfo{
			Name:           n.Name,
			ContainerCount: count,
			AgeSeconds:     time.Since(n.CreatedAt).Seconds(),
		})
	}

	return stats
}

// LiveNetworkCount returns the number of networks the manager currently
// tracks, used by the adaptive cleaner to pick a sweep strategy without
// paying for a full GetNetworkStats inspection pass.
func (m *Manager) LiveNetworkCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.networks)
}

// GetSubnetStats reports per-pool subnet allocation counts.
func (m *Manager) GetSubnetStats() []PoolStats {
	return m.allocator.stats()
}

// GetNetworkMetrics returns a snapshot of accumulated counters.
func (m *Manager) GetNetworkMetrics() Metrics {
	m.metricsMu.Lock()
	defer m.metricsMu.Unlock()

	return m.metrics
}

// ResetNetworkMetrics zeroes the accumulated counters.
func (m *Manager) ResetNetworkMetrics() {
	m.metricsMu.Lock()
	defer m.metricsMu.Unlock()

	m.metrics = Metrics{}
}

func (m *Manager) bumpMetric(f func(*Metrics)) {
	m.metricsMu.Lock()
	defer m.metricsMu.Unlock()

	f(&m.metrics)
}
