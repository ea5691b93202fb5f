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

// Package cleaner runs two independent adaptive-interval sweepers —
// container TTL and network orphan cleanup — so resource usage stays
// bounded without adding latency to request handling.
package cleaner

import (
	"context"
	"time"

	"coderunner-orchestrator/pkg/common/logutil"
	"coderunner-orchestrator/pkg/pool"
)

var logger = logutil.GetLogger("cleaner")

const (
	containerIntervalDefault = 30 * time.Second
	containerIntervalMin     = 15 * time.Second
	containerIntervalMax     = 60 * time.Second

	networkIntervalDefault = 120 * time.Second
	networkIntervalMin     = 30 * time.Second
	networkIntervalMax     = 300 * time.Second

	activeSessionsHighWaterMark = 50
	cleanupErrorsHighWaterMark  = 5
	activeSessionsLowWaterMark  = 10

	bulkCleanupOrphanThreshold = 100

	// networkOrphanBaselineAge is the age threshold below escalation; the
	// manager's own CleanupOrphanedNetworks escalates past this once the
	// live network count crosses its own ladder thresholds (SPEC_FULL §4.2).
	networkOrphanBaselineAge = 60 * time.Second
)

// PoolSweeper is the subset of pkg/pool.Pool the container sweeper needs.
type PoolSweeper interface {
	CleanupExpiredContainers(ctx context.Context)
	GetMetrics() pool.Metrics
}

// NetworkSweeper is the subset of pkg/network.Manager the network sweeper
// needs.
type NetworkSweeper interface {
	CleanupOrphanedNetworks(ctx context.Context, maxAge time.Duration) (removed int, escalationLevel int)
	AggressiveBulkNetworkCleanup(ctx context.Context) int
	LiveNetworkCount() int
}

// LegacyPreflight removes any container left over from a prior process
// instance, identified by label rather than in-memory pool state.
type LegacyPreflight interface {
	CleanLegacyContainers(ctx context.Context) (removed int, err error)
}

// Cleaner owns the two sweeper goroutines and their adaptive intervals.
type Cleaner struct {
	pool      PoolSweeper
	network   NetworkSweeper
	preflight LegacyPreflight

	containerInterval time.Duration
}

// New constructs a Cleaner. preflight may be nil when no legacy-container
// sweep is configured. containerInterval seeds the container sweeper's
// adaptive interval (CLEANUP_INTERVAL, SPEC_FULL §6); a value <= 0 falls
// back to containerIntervalDefault.
func New(pool PoolSweeper, network NetworkSweeper, preflight LegacyPreflight, containerInterval time.Duration) *Cleaner {
	if containerInterval <= 0 {
		containerInterval = containerIntervalDefault
	}

	return &Cleaner{pool: pool, network: network, preflight: preflight, containerInterval: containerInterval}
}

// Run starts both sweeper loops and the one-shot legacy preflight; it
// returns once ctx is cancelled and both loops have stopped.
func (c *Cleaner) Run(ctx context.Context) {
	if c.preflight != nil {
		if removed, err := c.preflight.CleanLegacyContainers(ctx); err != nil {
			logger.Warnf("legacy container preflight: %v", err)
		} else if removed > 0 {
			logger.Infof("legacy container preflight removed %d containers", removed)
		}
	}

	done := make(chan struct{}, 2)

	go func() {
		c.runContainerSweeper(ctx)
		done <- struct{}{}
	}()

	go func() {
		c.runNetworkSweeper(ctx)
		done <- struct{}{}
	}()

	<-done
	<-done
}

func (c *Cleaner) runContainerSweeper(ctx context.Context) {
	interval := c.containerInterval

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			interval = c.sweepContainersOnce(ctx, interval)
			timer.Reset(interval)
		}
	}
}

func (c *Cleaner) sweepContainersOnce(ctx context.Context, interval time.Duration) time.Duration {
	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("container sweeper panicked: %v", r)
			}
		}()

		c.pool.CleanupExpiredContainers(ctx)
	}()

	m := c.pool.GetMetrics()

	switch {
	case m.TotalActiveContainers > activeSessionsHighWaterMark || m.CleanupErrors > cleanupErrorsHighWaterMark:
		interval = clamp(time.Duration(float64(interval)*0.8), containerIntervalMin, containerIntervalMax)
	case m.TotalActiveContainers < activeSessionsLowWaterMark && m.CleanupErrors == 0:
		interval = clamp(time.Duration(float64(interval)*1.1), containerIntervalMin, containerIntervalMax)
	}

	return interval
}

func (c *Cleaner) runNetworkSweeper(ctx context.Context) {
	interval := networkIntervalDefault

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			interval = c.sweepNetworksOnce(ctx, interval)
			timer.Reset(interval)
		}
	}
}

func (c *Cleaner) sweepNetworksOnce(ctx context.Context, interval time.Duration) time.Duration {
	var escalation int

	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("network sweeper panicked: %v", r)
			}
		}()

		live := c.network.LiveNetworkCount()

		if live > bulkCleanupOrphanThreshold {
			c.network.AggressiveBulkNetworkCleanup(ctx)
			escalation = 2

			return
		}

		_, escalation = c.network.CleanupOrphanedNetworks(ctx, networkOrphanBaselineAge)
	}()

	switch escalation {
	case 0:
		interval = clamp(time.Duration(float64(interval)*1.2), networkIntervalMin, networkIntervalMax)
	default:
		interval = clamp(time.Duration(float64(interval)*0.7), networkIntervalMin, networkIntervalMax)
	}

	return interval
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}

	if d > hi {
		return hi
	}

	return d
}
