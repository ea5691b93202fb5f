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

// Package pool holds warm containers per (sessionKey, language) under a
// TTL, so a submission that reuses a session's runtime does not pay
// container-create latency again.
package pool

import (
	"context"
	"sync"
	"time"

	"coderunner-orchestrator/pkg/common/logutil"
	"coderunner-orchestrator/pkg/common/sessionutil"
	"coderunner-orchestrator/pkg/language"
)

var logger = logutil.GetLogger("pool")

// LabelPool marks every container the pool creates, so the startup
// legacy-container preflight can find them independent of in-memory state.
const LabelPool = "coderunner.pool"

// Container is a SessionContainer (SPEC_FULL §3).
type Container struct {
	ContainerID string
	Language    string
	SessionKey  string
	NetworkName string
	LastUsedAt  time.Time
	InUse       bool
}

// Metrics exposes the pool's operational counters.
type Metrics struct {
	ContainersCreated     int64
	ContainersReused      int64
	ContainersDeleted     int64
	CleanupErrors         int64
	LastCleanupDuration   time.Duration
	TotalActiveContainers int
	QueueDepth            int
}

// QueueDepthProvider reports how many tasks are currently waiting in the
// execution queue. getMetrics (SPEC_FULL §4.3) reports queueDepth alongside
// the pool's own counters without the pool importing pkg/queue directly.
type QueueDepthProvider interface {
	QueueDepth() int
}

// Stats summarizes the pool's current contents.
type Stats struct {
	TotalContainers int
	BySession       map[string]int
	ByLanguage      map[string]int
}

// Pool owns every SessionContainer record and the mutex protecting it.
type Pool struct {
	engine Engine
	ttl    time.Duration

	mu       sync.Mutex
	sessions map[string]map[string][]*Container // sessionKey -> language -> containers

	metricsMu sync.Mutex
	metrics   Metrics

	queueDepth QueueDepthProvider
}

// healthCheckIntervalMs is the poll interval WaitForHealthy uses between
// readiness checks for languages whose image needs external startup (sql).
const healthCheckIntervalMs = 500

// Engine is the narrowed engine dependency the pool actually exercises;
// kept as its own interface (distinct from network's) since the pool also
// needs ExecInContainer for the cleanup-on-return command.
type Engine interface {
	CreateContainer(ctx context.Context, image string, labels map[string]string, networkName string, memoryBytes int64, nanoCPUs int64, env []string, cmd []string) (string, error)
	StartContainer(ctx context.Context, id string) error
	RemoveContainers(ctx context.Context, ids []string) error
	ExecInContainerSimple(ctx context.Context, id string, command []string, timeoutMs int) (exitCode int, err error)
	WaitForHealthy(ctx context.Context, id string, checkCmd []string, timeoutMs, intervalMs int) error
}

// New constructs a Pool against eng with the given idle TTL.
func New(eng Engine, ttl time.Duration) *Pool {
	return &Pool{
		engine:   eng,
		ttl:      ttl,
		sessions: make(map[string]map[string][]*Container),
	}
}

// SetQueueDepthProvider wires the execution queue's depth into getMetrics.
// Wiring happens after construction since the queue and pool are built
// independently and neither owns the other.
func (p *Pool) SetQueueDepthProvider(q QueueDepthProvider) {
	p.queueDepth = q
}

// GetOrCreateContainer returns an idle container of lang in sessionKey's
// bucket if one exists, or creates a fresh one attached to networkName.
// Reports whether the returned container was reused, for metrics.
func (p *Pool) GetOrCreateContainer(ctx context.Context, lang, sessionKey, networkName string) (containerID string, reused bool, err error) {
	d, err := language.Lookup(lang)
	if err != nil {
		return "", false, sessionutil.Wrap(sessionutil.KindValidation, err)
	}

	p.mu.Lock()
	bucket := p.sessions[sessionKey]
	if bucket == nil {
		bucket = make(map[string][]*Container)
		p.sessions[sessionKey] = bucket
	}

	for _, c := range bucket[lang] {
		if !c.InUse {
			c.InUse = true
			c.LastUsedAt = time.Now()
			p.mu.Unlock()

			p.bumpMetric(func(m *Metrics) { m.ContainersReused++ })

			return c.ContainerID, true, nil
		}
	}
	p.mu.Unlock()

	labels := map[string]string{
		LabelPool:  "1",
		"session":  sessionKey,
		"language": lang,
	}

	id, err := p.engine.CreateContainer(ctx, d.Image, labels, networkName, d.MemoryDefault, int64(d.CPUDefault*1e9), d.Env, d.StartupCmd)
	if err != nil {
		return "", false, sessionutil.Wrap(sessionutil.KindEngineUnavailable, err)
	}

	if err := p.engine.StartContainer(ctx, id); err != nil {
		_ = p.engine.RemoveContainers(ctx, []string{id})

		return "", false, sessionutil.Wrap(sessionutil.KindEngineUnavailable, err)
	}

	if len(d.HealthCheckCmd) > 0 {
		if err := p.engine.WaitForHealthy(ctx, id, d.HealthCheckCmd, d.StartupTimeoutMs, healthCheckIntervalMs); err != nil {
			_ = p.engine.RemoveContainers(ctx, []string{id})

			return "", false, sessionutil.Wrap(sessionutil.KindEngineUnavailable, err)
		}
	}

	c := &Container{
		ContainerID: id,
		Language:    lang,
		SessionKey:  sessionKey,
		NetworkName: networkName,
		LastUsedAt:  time.Now(),
		InUse:       true,
	}

	p.mu.Lock()
	p.sessions[sessionKey][lang] = append(p.sessions[sessionKey][lang], c)
	p.mu.Unlock()

	p.bumpMetric(func(m *Metrics) { m.ContainersCreated++ })

	return id, false, nil
}

// ReturnContainer cleans a container's working directories and marks it
// idle so a later submission in the same session can reuse it.
func (p *Pool) ReturnContainer(ctx context.Context, containerID, sessionKey string) {
	_, _ = p.engine.ExecInContainerSimple(ctx, containerID, []string{"sh", "-c", "rm -rf /app/* /app/.* /tmp/* 2>/dev/null"}, 5000)

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, containers := range p.sessions[sessionKey] {
		for _, c := range containers {
			if c.ContainerID == containerID {
				c.InUse = false
				c.LastUsedAt = time.Now()

				return
			}
		}
	}
}

// CleanupExpiredContainers removes every idle container whose idle time
// exceeds the pool's TTL, deleting any session bucket left empty.
func (p *Pool) CleanupExpiredContainers(ctx context.Context) {
	start := time.Now()

	var toRemove []string

	p.mu.Lock()

	for sessionKey, byLang := range p.sessions {
		for lang, containers := range byLang {
			var kept []*Container

			for _, c := range containers {
				if !c.InUse && time.Since(c.LastUsedAt) > p.ttl {
					toRemove = append(toRemove, c.ContainerID)

					continue
				}

				kept = append(kept, c)
			}

			if len(kept) == 0 {
				delete(byLang, lang)
			} else {
				byLang[lang] = kept
			}
		}

		if len(byLang) == 0 {
			delete(p.sessions, sessionKey)
		}
	}

	p.mu.Unlock()

	if len(toRemove) == 0 {
		return
	}

	if err := p.engine.RemoveContainers(ctx, toRemove); err != nil {
		logger.Warnf("cleanup expired containers: %v", err)

		p.bumpMetric(func(m *Metrics) { m.CleanupErrors++ })
	}

	p.bumpMetric(func(m *Metrics) {
		m.ContainersDeleted += int64(len(toRemove))
		m.LastCleanupDuration = time.Since(start)
	})
}

// CleanupSession removes every container belonging to sessionKey
// regardless of its in-use state, used on socket disconnect.
func (p *Pool) CleanupSession(ctx context.Context, sessionKey string) {
	p.mu.Lock()
	byLang, ok := p.sessions[sessionKey]
	delete(p.sessions, sessionKey)
	p.mu.Unlock()

	if !ok {
		return
	}

	var ids []string
	for _, containers := range byLang {
		for _, c := range containers {
			ids = append(ids, c.ContainerID)
		}
	}

	if len(ids) == 0 {
		return
	}

	if err := p.engine.RemoveContainers(ctx, ids); err != nil {
		logger.WithField("session", sessionKey).Warnf("cleanup session containers: %v", err)

		p.bumpMetric(func(m *Metrics) { m.CleanupErrors++ })

		return
	}

	p.bumpMetric(func(m *Metrics) { m.ContainersDeleted += int64(len(ids)) })
}

// CleanupAll removes every container the pool has ever created, used on
// shutdown.
func (p *Pool) CleanupAll(ctx context.Context) {
	p.mu.Lock()
	sessionKeys := make([]string, 0, len(p.sessions))
	for k := range p.sessions {
		sessionKeys = append(sessionKeys, k)
	}
	p.mu.Unlock()

	for _, k := range sessionKeys {
		p.CleanupSession(ctx, k)
	}
}

// GetMetrics returns a snapshot of the pool's operational counters.
func (p *Pool) GetMetrics() Metrics {
	p.metricsMu.Lock()
	m := p.metrics
	p.metricsMu.Unlock()

	p.mu.Lock()
	for _, byLang := range p.sessions {
		for _, containers := range byLang {
			m.TotalActiveContainers += len(containers)
		}
	}
	p.mu.Unlock()

	if p.queueDepth != nil {
		m.QueueDepth = p.queueDepth.QueueDepth()
	}

	return m
}

// GetStats summarizes the pool's current contents by session and language.
func (p *Pool) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := Stats{BySession: map[string]int{}, ByLanguage: map[string]int{}}

	for sessionKey, byLang := range p.sessions {
		for lang, containers := range byLang {
			stats.TotalContainers += len(containers)
			stats.BySession[sessionKey] += len(containers)
			stats.ByLanguage[lang] += len(containers)
		}
	}

	return stats
}

func (p *Pool) bumpMetric(f func(*Metrics)) {
	p.metricsMu.Lock()
	defer p.metricsMu.Unlock()

	f(&p.metrics)
}
