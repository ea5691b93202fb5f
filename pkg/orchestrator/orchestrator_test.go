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

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"coderunner-orchestrator/pkg/engine"
	"coderunner-orchestrator/pkg/metrics"
	"coderunner-orchestrator/pkg/queue"
	"coderunner-orchestrator/pkg/wire"
)

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeDispatcher) Enqueue(language string, priority int, work queue.Work) (<-chan error, error) {
	f.mu.Lock()
	f.calls = append(f.calls, language)
	f.mu.Unlock()

	done := make(chan error, 1)
	done <- work(context.Background())

	return done, nil
}

type fakePool struct {
	mu          sync.Mutex
	createErr   error
	failFirstN  int
	nextID      int
	returned    []string
	cleaned     []string
	createCalls int
}

func (p *fakePool) GetOrCreateContainer(ctx context.Context, lang, sessionKey, networkName string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.createCalls++

	if p.createCalls <= p.failFirstN {
		return "", false, p.createErr
	}

	p.nextID++

	return fmt.Sprintf("container-%d", p.nextID), false, nil
}

func (p *fakePool) ReturnContainer(ctx context.Context, containerID, sessionKey string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.returned = append(p.returned, containerID)
}

func (p *fakePool) CleanupSession(ctx context.Context, sessionKey string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleaned = append(p.cleaned, sessionKey)
}

type fakeNetwork struct {
	mu          sync.Mutex
	createErr   error
	createCalls int
	deleteCalls []string
}

func (n *fakeNetwork) GetOrCreateSessionNetwork(ctx context.Context, sessionKey string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.createCalls++

	if n.createErr != nil {
		return "", n.createErr
	}

	return "net-" + sessionKey, nil
}

func (n *fakeNetwork) DeleteSessionNetwork(ctx context.Context, sessionKey string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deleteCalls = append(n.deleteCalls, sessionKey)

	return nil
}

type fakeEngine struct {
	putFilesErr   error
	putFilesCalls [][]engine.FileEntry
	execErr       error
}

func (e *fakeEngine) PutFiles(ctx context.Context, id string, files []engine.FileEntry, destDir string) error {
	e.putFilesCalls = append(e.putFilesCalls, files)

	return e.putFilesErr
}

func (e *fakeEngine) ExecInteractive(ctx context.Context, id string, command []string, opts engine.ExecOptions) (*engine.InteractiveExec, error) {
	if e.execErr != nil {
		return nil, e.execErr
	}

	return nil, errors.New("fakeEngine: ExecInteractive not configured to succeed")
}

type fakeSender struct {
	mu      sync.Mutex
	outputs []wire.OutputFrame
	exits   []wire.ExitFrame
}

func (s *fakeSender) SendOutput(f wire.OutputFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs = append(s.outputs, f)

	return nil
}

func (s *fakeSender) SendExit(f wire.ExitFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exits = append(s.exits, f)

	return nil
}

func (s *fakeSender) outputText() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	for _, o := range s.outputs {
		b.WriteString(o.Data)
	}

	return b.String()
}

func defaultValidation() ValidationConfig {
	return ValidationConfig{MaxFileSize: 1 << 20, MaxTotalSize: 1 << 20, MaxFileCount: 10}
}

func newTestOrchestrator(rateLimit int, pool *fakePool, network *fakeNetwork, eng *fakeEngine) (*Orchestrator, *fakeDispatcher) {
	d := &fakeDispatcher{}
	cfg := Config{Validation: defaultValidation(), RateLimitPerWindow: rateLimit}

	return New(cfg, d, pool, network, eng, metrics.New()), d
}

func TestHandleRunRejectsWhenRateLimited(t *testing.T) {
	eng := &fakeEngine{execErr: errors.New("boom")}
	o, _ := newTestOrchestrator(1, &fakePool{}, &fakeNetwork{}, eng)

	send := &fakeSender{}
	c := o.NewConnection("sess-1", "10.0.0.1", send)

	req := wire.RunFrame{
		SessionKey: "sess-1",
		Language:   "python",
		Files:      []wire.File{{Path: "main.py", Content: "print(1)", ToBeExec: true}},
	}

	o.HandleRun(context.Background(), c, req, send)
	o.HandleRun(context.Background(), c, req, send)

	if len(send.exits) != 2 {
		t.Fatalf("expected 2 exit frames, got %d", len(send.exits))
	}

	if send.exits[0].Code != 1 || send.exits[1].Code != 1 {
		t.Fatalf("expected both submissions to fail, got %+v", send.exits)
	}

	if !strings.Contains(send.outputText(), "rate limit exceeded") {
		t.Fatalf("expected rate limit rejection in output, got %q", send.outputText())
	}
}

func TestHandleRunRejectsEmptyFileSet(t *testing.T) {
	o, d := newTestOrchestrator(10, &fakePool{}, &fakeNetwork{}, &fakeEngine{})

	send := &fakeSender{}
	c := o.NewConnection("sess-2", "10.0.0.1", send)

	req := wire.RunFrame{SessionKey: "sess-2", Language: "python", Files: nil}

	o.HandleRun(context.Background(), c, req, send)

	if len(d.calls) != 0 {
		t.Fatalf("expected validation failure to short-circuit before enqueue, got calls %v", d.calls)
	}

	if len(send.exits) != 1 || send.exits[0].Code != 1 {
		t.Fatalf("expected a single failing exit frame, got %+v", send.exits)
	}

	if !strings.Contains(send.outputText(), "no files submitted") {
		t.Fatalf("expected validation message in output, got %q", send.outputText())
	}
}

func TestHandleRunRejectsUnknownLanguage(t *testing.T) {
	o, d := newTestOrchestrator(10, &fakePool{}, &fakeNetwork{}, &fakeEngine{})

	send := &fakeSender{}
	c := o.NewConnection("sess-3", "10.0.0.1", send)

	req := wire.RunFrame{
		SessionKey: "sess-3",
		Language:   "cobol",
		Files:      []wire.File{{Path: "main.cob", Content: "x", ToBeExec: true}},
	}

	o.HandleRun(context.Background(), c, req, send)

	if len(d.calls) != 0 {
		t.Fatalf("expected unknown-language rejection before enqueue, got calls %v", d.calls)
	}

	if !strings.Contains(send.outputText(), "unknown language") {
		t.Fatalf("expected unknown-language message, got %q", send.outputText())
	}
}

func TestHandleRunRejectsMissingEntryFile(t *testing.T) {
	o, d := newTestOrchestrator(10, &fakePool{}, &fakeNetwork{}, &fakeEngine{})

	send := &fakeSender{}
	c := o.NewConnection("sess-4", "10.0.0.1", send)

	req := wire.RunFrame{
		SessionKey: "sess-4",
		Language:   "python",
		Files:      []wire.File{{Path: "helper.py", Content: "x"}},
	}

	o.HandleRun(context.Background(), c, req, send)

	if len(d.calls) != 0 {
		t.Fatalf("expected missing-entry rejection before enqueue, got calls %v", d.calls)
	}

	if !strings.Contains(send.outputText(), "no entry file") {
		t.Fatalf("expected no-entry-file message, got %q", send.outputText())
	}
}

func TestHandleRunReturnsContainerWhenExecFailsToStart(t *testing.T) {
	pool := &fakePool{}
	network := &fakeNetwork{}
	eng := &fakeEngine{execErr: errors.New("boom")}

	o, d := newTestOrchestrator(10, pool, network, eng)

	send := &fakeSender{}
	c := o.NewConnection("sess-5", "10.0.0.1", send)

	req := wire.RunFrame{
		SessionKey: "sess-5",
		Language:   "python",
		Files:      []wire.File{{Path: "main.py", Content: "print(1)", ToBeExec: true}},
	}

	o.HandleRun(context.Background(), c, req, send)

	if len(d.calls) != 1 || d.calls[0] != "python" {
		t.Fatalf("expected one enqueue for python, got %v", d.calls)
	}

	if len(pool.returned) != 1 {
		t.Fatalf("expected the acquired container to be returned on exec-start failure, got %v", pool.returned)
	}

	if len(eng.putFilesCalls) != 1 {
		t.Fatalf("expected files to have been transferred before exec start, got %d calls", len(eng.putFilesCalls))
	}

	if !strings.Contains(send.outputText(), "failed to start execution") {
		t.Fatalf("expected exec-start failure message, got %q", send.outputText())
	}
}

func TestAcquireLoopRetriesThenSucceeds(t *testing.T) {
	pool := &fakePool{createErr: errors.New("no room"), failFirstN: 1}
	network := &fakeNetwork{}

	o, _ := newTestOrchestrator(10, pool, network, &fakeEngine{})

	_, containerID, _, err := o.acquireLoop(context.Background(), "sess-6", "python")
	if err != nil {
		t.Fatalf("expected acquireLoop to eventually succeed, got %v", err)
	}

	if containerID == "" {
		t.Fatalf("expected a container id")
	}

	if len(network.deleteCalls) != 1 {
		t.Fatalf("expected one network teardown between attempts, got %v", network.deleteCalls)
	}
}

func TestAcquireLoopFailsAfterAttemptsExhausted(t *testing.T) {
	pool := &fakePool{createErr: errors.New("no room"), failFirstN: acquireAttempts}
	network := &fakeNetwork{}

	o, _ := newTestOrchestrator(10, pool, network, &fakeEngine{})

	_, _, _, err := o.acquireLoop(context.Background(), "sess-7", "python")
	if err == nil {
		t.Fatalf("expected acquireLoop to fail after exhausting attempts")
	}

	if pool.createCalls != acquireAttempts {
		t.Fatalf("expected %d attempts, got %d", acquireAttempts, pool.createCalls)
	}

	if len(network.deleteCalls) != acquireAttempts {
		t.Fatalf("expected a teardown per failed attempt, got %v", network.deleteCalls)
	}
}

func TestHandleStopEmitsSystemMessageAndExitFrame(t *testing.T) {
	o, _ := newTestOrchestrator(10, &fakePool{}, &fakeNetwork{}, &fakeEngine{})

	send := &fakeSender{}
	c := o.NewConnection("sess-8", "10.0.0.1", send)

	o.HandleStop(c, send)

	if !c.stopped {
		t.Fatalf("expected connection to be marked stopped")
	}

	if len(send.exits) != 1 || send.exits[0].Code != stoppedExitCode {
		t.Fatalf("expected one exit frame with code %d, got %+v", stoppedExitCode, send.exits)
	}

	if !strings.Contains(send.outputText(), "[Process terminated]") {
		t.Fatalf("expected terminated system message, got %q", send.outputText())
	}
}

func TestHandleInputIsNoOpWithoutALiveExec(t *testing.T) {
	o, _ := newTestOrchestrator(10, &fakePool{}, &fakeNetwork{}, &fakeEngine{})

	send := &fakeSender{}
	c := o.NewConnection("sess-10", "10.0.0.1", send)

	// Must not panic even though no exec has ever been attached.
	o.HandleInput(c, wire.InputFrame{SessionKey: "sess-10", Data: "5\n"})
}

func TestHandleDisconnectCleansUpPoolAndNetwork(t *testing.T) {
	pool := &fakePool{}
	network := &fakeNetwork{}

	o, _ := newTestOrchestrator(10, pool, network, &fakeEngine{})

	send := &fakeSender{}
	c := o.NewConnection("sess-9", "10.0.0.1", send)

	o.HandleDisconnect(context.Background(), c)

	if len(pool.cleaned) != 1 || pool.cleaned[0] != "sess-9" {
		t.Fatalf("expected pool cleanup for sess-9, got %v", pool.cleaned)
	}

	if len(network.deleteCalls) != 1 || network.deleteCalls[0] != "sess-9" {
		t.Fatalf("expected network teardown for sess-9, got %v", network.deleteCalls)
	}
}
