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

package pool

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeEngine struct {
	mu            sync.Mutex
	created       int
	removed       []string
	healthErr     error
	healthChecked []string
}

func (f *fakeEngine) CreateContainer(ctx context.Context, image string, labels map[string]string, networkName string, memoryBytes int64, nanoCPUs int64, env []string, cmd []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.created++

	return fmt.Sprintf("container-%d", f.created), nil
}

func (f *fakeEngine) StartContainer(ctx context.Context, id string) error {
	return nil
}

func (f *fakeEngine) RemoveContainers(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.removed = append(f.removed, ids...)

	return nil
}

func (f *fakeEngine) ExecInContainerSimple(ctx context.Context, id string, command []string, timeoutMs int) (int, error) {
	return 0, nil
}

func (f *fakeEngine) WaitForHealthy(ctx context.Context, id string, checkCmd []string, timeoutMs, intervalMs int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.healthChecked = append(f.healthChecked, id)

	return f.healthErr
}

func TestGetOrCreateContainerCreatesThenReuses(t *testing.T) {
	eng := &fakeEngine{}
	p := New(eng, time.Minute)

	id1, reused1, err := p.GetOrCreateContainer(context.Background(), "python", "session-a", "net-a")
	if err != nil {
		t.Fatalf("first GetOrCreateContainer: %v", err)
	}

	if reused1 {
		t.Error("expected first call to create, not reuse")
	}

	p.ReturnContainer(context.Background(), id1, "session-a")

	id2, reused2, err := p.GetOrCreateContainer(context.Background(), "python", "session-a", "net-a")
	if err != nil {
		t.Fatalf("second GetOrCreateContainer: %v", err)
	}

	if !reused2 {
		t.Error("expected second call to reuse the returned container")
	}

	if id1 != id2 {
		t.Errorf("expected reuse of %s, got %s", id1, id2)
	}

	if eng.created != 1 {
		t.Errorf("expected exactly 1 container created, got %d", eng.created)
	}
}

func TestGetOrCreateContainerRejectsUnknownLanguage(t *testing.T) {
	p := New(&fakeEngine{}, time.Minute)

	if _, _, err := p.GetOrCreateContainer(context.Background(), "cobol", "session-a", "net-a"); err == nil {
		t.Error("expected error for unknown language")
	}
}

func TestGetOrCreateContainerDoesNotReuseAcrossSessions(t *testing.T) {
	eng := &fakeEngine{}
	p := New(eng, time.Minute)

	id1, _, err := p.GetOrCreateContainer(context.Background(), "python", "session-a", "net-a")
	if err != nil {
		t.Fatalf("GetOrCreateContainer: %v", err)
	}

	p.ReturnContainer(context.Background(), id1, "session-a")

	_, reused, err := p.GetOrCreateContainer(context.Background(), "python", "session-b", "net-b")
	if err != nil {
		t.Fatalf("GetOrCreateContainer: %v", err)
	}

	if reused {
		t.Error("containers must never be reused across sessions")
	}

	if eng.created != 2 {
		t.Errorf("expected 2 containers created, got %d", eng.created)
	}
}

type fakeQueueDepth struct{ depth int }

func (f fakeQueueDepth) QueueDepth() int { return f.depth }

func TestGetMetricsReportsWiredQueueDepth(t *testing.T) {
	p := New(&fakeEngine{}, time.Minute)

	if got := p.GetMetrics().QueueDepth; got != 0 {
		t.Errorf("expected 0 queue depth before wiring, got %d", got)
	}

	p.SetQueueDepthProvider(fakeQueueDepth{depth: 7})

	if got := p.GetMetrics().QueueDepth; got != 7 {
		t.Errorf("expected wired queue depth 7, got %d", got)
	}
}

func TestCleanupExpiredContainersRemovesIdleOverTTL(t *testing.T) {
	eng := &fakeEngine{}
	p := New(eng, 10*time.Millisecond)

	id, _, err := p.GetOrCreateContainer(context.Background(), "python", "session-a", "net-a")
	if err != nil {
		t.Fatalf("GetOrCreateContainer: %v", err)
	}

	p.ReturnContainer(context.Background(), id, "session-a")

	time.Sleep(20 * time.Millisecond)
	p.CleanupExpiredContainers(context.Background())

	if len(eng.removed) != 1 || eng.removed[0] != id {
		t.Errorf("expected %s to be removed, got %v", id, eng.removed)
	}

	stats := p.GetStats()
	if stats.TotalContainers != 0 {
		t.Errorf("expected 0 containers after cleanup, got %d", stats.TotalContainers)
	}
}

func TestGetOrCreateContainerWaitsForHealthOnSQL(t *testing.T) {
	eng := &fakeEngine{}
	p := New(eng, time.Minute)

	id, _, err := p.GetOrCreateContainer(context.Background(), "sql", "session-a", "net-a")
	if err != nil {
		t.Fatalf("GetOrCreateContainer: %v", err)
	}

	if len(eng.healthChecked) != 1 || eng.healthChecked[0] != id {
		t.Errorf("expected health check against %s, got %v", id, eng.healthChecked)
	}
}

func TestGetOrCreateContainerRemovesContainerWhenHealthCheckFails(t *testing.T) {
	eng := &fakeEngine{healthErr: fmt.Errorf("never became ready")}
	p := New(eng, time.Minute)

	if _, _, err := p.GetOrCreateContainer(context.Background(), "sql", "session-a", "net-a"); err == nil {
		t.Error("expected error when the health check never succeeds")
	}

	if len(eng.removed) != 1 {
		t.Errorf("expected the unhealthy container to be removed, got %v", eng.removed)
	}
}

func TestGetOrCreateContainerSkipsHealthCheckForOrdinaryLanguages(t *testing.T) {
	eng := &fakeEngine{}
	p := New(eng, time.Minute)

	if _, _, err := p.GetOrCreateContainer(context.Background(), "python", "session-a", "net-a"); err != nil {
		t.Fatalf("GetOrCreateContainer: %v", err)
	}

	if len(eng.healthChecked) != 0 {
		t.Errorf("expected no health check for python, got %v", eng.healthChecked)
	}
}

func TestCleanupSessionRemovesRegardlessOfInUse(t *testing.T) {
	eng := &fakeEngine{}
	p := New(eng, time.Hour)

	id, _, err := p.GetOrCreateContainer(context.Background(), "python", "session-a", "net-a")
	if err != nil {
		t.Fatalf("GetOrCreateContainer: %v", err)
	}

	p.CleanupSession(context.Background(), "session-a")

	if len(eng.removed) != 1 || eng.removed[0] != id {
		t.Errorf("expected in-use container %s to be force-removed, got %v", id, eng.removed)
	}
}
