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

// Package orchestrator choreographs one submission end-to-end — admission,
// network/container acquisition, file transfer, interactive execution, and
// output delivery — and owns the per-socket connection lifecycle.
package orchestrator

import (
	"bufio"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"coderunner-orchestrator/pkg/common/logutil"
	"coderunner-orchestrator/pkg/common/sessionutil"
	"coderunner-orchestrator/pkg/engine"
	"coderunner-orchestrator/pkg/language"
	"coderunner-orchestrator/pkg/metrics"
	"coderunner-orchestrator/pkg/queue"
	"coderunner-orchestrator/pkg/wire"
)

var logger = logutil.GetLogger("orchestrator")

const (
	priorityInteractive = 2
	priorityAPI         = 1

	acquireAttempts = 2
	acquireBackoff  = 500 * time.Millisecond

	stoppedExitCode = -1
)

// Dispatcher is the subset of pkg/queue.Queue the orchestrator depends on.
type Dispatcher interface {
	Enqueue(language string, priority int, work queue.Work) (<-chan error, error)
}

// ContainerPool is the subset of pkg/pool.Pool the orchestrator depends on.
type ContainerPool interface {
	GetOrCreateContainer(ctx context.Context, lang, sessionKey, networkName string) (containerID string, reused bool, err error)
	ReturnContainer(ctx context.Context, containerID, sessionKey string)
	CleanupSession(ctx context.Context, sessionKey string)
}

// NetworkManager is the subset of pkg/network.Manager the orchestrator
// depends on.
type NetworkManager interface {
	GetOrCreateSessionNetwork(ctx context.Context, sessionKey string) (string, error)
	DeleteSessionNetwork(ctx context.Context, sessionKey string) error
}

// ContainerEngine is the subset of pkg/engine.Client the orchestrator
// depends on directly (beyond what the pool/network managers already
// wrap) to transfer files and run the submission interactively.
type ContainerEngine interface {
	PutFiles(ctx context.Context, id string, files []engine.FileEntry, destDir string) error
	ExecInteractive(ctx context.Context, id string, command []string, opts engine.ExecOptions) (*engine.InteractiveExec, error)
}

// Config parameterizes the orchestrator's admission and resource policy.
type Config struct {
	Validation         ValidationConfig
	RateLimitPerWindow int
	ExecTimeout        time.Duration
}

// Orchestrator wires the queue, pool, network manager, engine, and
// pipeline metrics tracker into one end-to-end submission pipeline.
type Orchestrator struct {
	cfg     Config
	queue   Dispatcher
	pool    ContainerPool
	network NetworkManager
	engine  ContainerEngine
	tracker *metrics.Tracker
}

// New constructs an Orchestrator.
func New(cfg Config, q Dispatcher, p ContainerPool, n NetworkManager, e ContainerEngine, tracker *metrics.Tracker) *Orchestrator {
	return &Orchestrator{cfg: cfg, queue: q, pool: p, network: n, engine: e, tracker: tracker}
}

// Sender abstracts the websocket connection just enough for the
// orchestrator to emit frames without depending on gorilla/websocket's
// concrete type, so this package is testable without a live socket.
type Sender interface {
	SendOutput(wire.OutputFrame) error
	SendExit(wire.ExitFrame) error
}

// Connection is one socket's session state: its rate limiter, in-flight
// submission's stop flag, and interactive exec handle.
type Connection struct {
	sessionKey string
	sourceIP   string
	limiter    *socketRateLimiter
	batcher    *outputBatcher

	mu      sync.Mutex
	stopped bool
	exec    *engine.InteractiveExec
}

// SessionKey returns the session identifier the connection was opened
// with, so a transport layer can pin every subsequent frame on the same
// socket to this one session.
func (c *Connection) SessionKey() string {
	return c.sessionKey
}

// NewConnection registers a new per-socket session.
func (o *Orchestrator) NewConnection(sessionKey, sourceIP string, send Sender) *Connection {
	return &Connection{
		sessionKey: sessionKey,
		sourceIP:   sourceIP,
		limiter:    newSocketRateLimiter(o.cfg.RateLimitPerWindow),
		batcher: newOutputBatcher(func(f wire.OutputFrame) error {
			return send.SendOutput(f)
		}),
	}
}

// HandleRun admits and runs one submission from a "run" frame, streaming
// output/exit frames to send. It returns once the submission's exec
// stream has ended or failed to start.
func (o *Orchestrator) HandleRun(ctx context.Context, c *Connection, req wire.RunFrame, send Sender) {
	if !c.limiter.allow() {
		c.batcher.Write(req.SessionKey, wire.StreamStderr, "rate limit exceeded\n")
		c.batcher.Flush()
		_ = send.SendExit(wire.NewExitFrame(req.SessionKey, 1, 0))

		return
	}

	if err := ValidateFiles(req.Files, o.cfg.Validation); err != nil {
		c.batcher.Write(req.SessionKey, wire.StreamStderr, err.Error()+"\n")
		c.batcher.Flush()
		_ = send.SendExit(wire.NewExitFrame(req.SessionKey, 1, 0))

		return
	}

	desc, err := language.Lookup(req.Language)
	if err != nil {
		c.batcher.Write(req.SessionKey, wire.StreamStderr, err.Error()+"\n")
		c.batcher.Flush()
		_ = send.SendExit(wire.NewExitFrame(req.SessionKey, 1, 0))

		return
	}

	entryFile, err := language.ResolveEntry(req.Language, toLanguageFiles(req.Files))
	if err != nil {
		c.batcher.Write(req.SessionKey, wire.StreamStderr, err.Error()+"\n")
		c.batcher.Flush()
		_ = send.SendExit(wire.NewExitFrame(req.SessionKey, 1, 0))

		return
	}

	command := desc.BuildCommand(fileNames(req.Files), entryFile)

	auditSubmission(req.SessionKey, req.Language, entryFile, c.sourceIP)

	enqueuedAt := time.Now()

	work := func(ctx context.Context) error {
		return o.runSubmission(ctx, c, req, desc, entryFile, command, send, enqueuedAt)
	}

	priority := priorityInteractive

	done, err := o.queue.Enqueue(req.Language, priority, work)
	if err != nil {
		c.batcher.Write(req.SessionKey, wire.StreamStderr, err.Error()+"\n")
		c.batcher.Flush()
		_ = send.SendExit(wire.NewExitFrame(req.SessionKey, 1, 0))

		return
	}

	<-done
}

func (o *Orchestrator) runSubmission(ctx context.Context, c *Connection, req wire.RunFrame, desc language.Descriptor, entryFile string, command []string, send Sender, enqueuedAt time.Time) error {
	sw := metrics.CreateStopwatch()

	timings := metrics.Timings{
		Language: req.Language,
		QueueMs:  float64(time.Since(enqueuedAt).Microseconds()) / 1000.0,
	}

	_, containerID, reused, err := o.acquireLoop(ctx, req.SessionKey, req.Language)
	timings.NetworkMs = sw.Lap()
	if err != nil {
		c.batcher.Write(req.SessionKey, wire.StreamStderr, "failed to acquire execution environment\n")
		c.batcher.Flush()
		_ = send.SendExit(wire.NewExitFrame(req.SessionKey, 1, 0))

		return err
	}

	timings.ContainerMs = sw.Lap()
	timings.ContainerReused = reused

	files := filterFilesForLanguage(req.Language, req.Files)

	entries := make([]engine.FileEntry, 0, len(files))
	for _, f := range files {
		entries = append(entries, engine.FileEntry{Path: f.Path, Content: []byte(f.Content)})
	}

	if err := o.engine.PutFiles(ctx, containerID, entries, "/app"); err != nil {
		timings.FileTransferMs = sw.Lap()
		o.tracker.Record(timings)
		c.batcher.Write(req.SessionKey, wire.StreamStderr, "failed to transfer files\n")
		c.batcher.Flush()
		_ = send.SendExit(wire.NewExitFrame(req.SessionKey, 1, 0))
		o.pool.ReturnContainer(ctx, containerID, req.SessionKey)

		return err
	}

	timings.FileTransferMs = sw.Lap()

	ie, err := o.engine.ExecInteractive(ctx, containerID, command, engine.ExecOptions{WorkDir: "/app", TimeoutMs: int(o.cfg.ExecTimeout.Milliseconds())})
	if err != nil {
		o.tracker.Record(timings)
		c.batcher.Write(req.SessionKey, wire.StreamStderr, "failed to start execution\n")
		c.batcher.Flush()
		_ = send.SendExit(wire.NewExitFrame(req.SessionKey, 1, 0))
		o.pool.ReturnContainer(ctx, containerID, req.SessionKey)

		return err
	}

	c.mu.Lock()
	c.exec = ie
	c.mu.Unlock()

	var timedOut atomic.Bool
	if o.cfg.ExecTimeout > 0 {
		timer := time.AfterFunc(o.cfg.ExecTimeout, func() {
			timedOut.Store(true)
			ie.Kill()
		})
		defer timer.Stop()
	}

	var wg sync.WaitGroup

	wg.Add(2)

	go streamLines(&wg, ie.Stdout, req.SessionKey, wire.StreamStdout, c.batcher)
	go streamLines(&wg, ie.Stderr, req.SessionKey, wire.StreamStderr, c.batcher)

	wg.Wait()

	timings.ExecutionMs = sw.Lap()

	c.batcher.Flush()

	c.mu.Lock()
	stopped := c.stopped
	c.stopped = false
	c.mu.Unlock()

	if stopped {
		timings.CleanupMs = sw.Lap()
		timings.TotalMs = sw.Total()
		o.tracker.Record(timings)
		o.pool.ReturnContainer(ctx, containerID, req.SessionKey)

		return nil
	}

	exitCode := 1
	if timedOut.Load() {
		c.batcher.Write(req.SessionKey, wire.StreamStderr, "execution timed out\n")
		c.batcher.Flush()
	} else {
		exitCode, _ = ie.ExitCode(ctx)
	}

	executionMs := int64(timings.ExecutionMs)
	_ = send.SendExit(wire.NewExitFrame(req.SessionKey, exitCode, executionMs))

	o.pool.ReturnContainer(ctx, containerID, req.SessionKey)

	timings.CleanupMs = sw.Lap()
	timings.TotalMs = sw.Total()
	o.tracker.Record(timings)

	return nil
}

// acquireLoop creates-or-returns the session network and creates-or-reuses
// a container on it, retrying once with a network teardown in between on
// failure, per SPEC_FULL §4.5 step 6.
func (o *Orchestrator) acquireLoop(ctx context.Context, sessionKey, lang string) (networkName, containerID string, reused bool, err error) {
	var lastErr error

	for attempt := 0; attempt < acquireAttempts; attempt++ {
		networkName, err = o.network.GetOrCreateSessionNetwork(ctx, sessionKey)
		if err == nil {
			containerID, reused, err = o.pool.GetOrCreateContainer(ctx, lang, sessionKey, networkName)
			if err == nil {
				return networkName, containerID, reused, nil
			}
		}

		lastErr = err

		_ = o.network.DeleteSessionNetwork(ctx, sessionKey)

		if attempt < acquireAttempts-1 {
			select {
			case <-ctx.Done():
				return "", "", false, sessionutil.Wrap(sessionutil.KindTimeout, ctx.Err())
			case <-time.After(acquireBackoff):
			}
		}
	}

	return "", "", false, sessionutil.Wrapf(sessionutil.KindEngineUnavailable, "acquire execution environment: %v", lastErr)
}

// HandleInput forwards input-frame bytes to the running exec's stdin,
// best-effort; a closed stream is silently ignored.
func (o *Orchestrator) HandleInput(c *Connection, frame wire.InputFrame) {
	c.mu.Lock()
	ie := c.exec
	c.mu.Unlock()

	if ie == nil || ie.Stdin == nil {
		return
	}

	_, _ = io.WriteString(ie.Stdin, frame.Data)
}

// HandleStop terminates the in-flight exec, flags the connection so the
// natural stream-end handler does not emit a duplicate exit frame, and
// emits the stop's own terminal frames.
func (o *Orchestrator) HandleStop(c *Connection, send Sender) {
	c.mu.Lock()
	c.stopped = true
	ie := c.exec
	c.mu.Unlock()

	if ie != nil {
		ie.Kill()
	}

	c.batcher.Write(c.sessionKey, wire.StreamSystem, "[Process terminated]\n")
	c.batcher.Flush()
	_ = send.SendExit(wire.NewExitFrame(c.sessionKey, stoppedExitCode, 0))
}

// HandleDisconnect tears down everything owned by sessionKey: the
// interactive exec, the batcher timer, every pooled container, and the
// session's network (best-effort).
func (o *Orchestrator) HandleDisconnect(ctx context.Context, c *Connection) {
	c.mu.Lock()
	ie := c.exec
	c.mu.Unlock()

	if ie != nil {
		ie.Kill()
	}

	c.batcher.Stop()

	o.pool.CleanupSession(ctx, c.sessionKey)

	if err := o.network.DeleteSessionNetwork(ctx, c.sessionKey); err != nil {
		logger.WithField("session", c.sessionKey).Warnf("delete session network on disconnect: %v", err)
	}
}

func streamLines(wg *sync.WaitGroup, r io.Reader, sessionKey, stream string, b *outputBatcher) {
	defer wg.Done()

	if r == nil {
		return
	}

	reader := bufio.NewReader(r)

	for {
		chunk := make([]byte, 4096)

		n, err := reader.Read(chunk)
		if n > 0 {
			b.Write(sessionKey, stream, string(chunk[:n]))
		}

		if err != nil {
			return
		}
	}
}

func toLanguageFiles(files []wire.File) []language.File {
	out := make([]language.File, 0, len(files))
	for _, f := range files {
		out = append(out, language.File{Path: f.Path, ToBeExec: f.ToBeExec})
	}

	return out
}

func fileNames(files []wire.File) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Path)
	}

	return out
}

// cSourceExtensions maps the two whole-directory-compile languages to the
// source extensions PutFiles should actually ship, per SPEC_FULL §4.5 step
// 7 ("filter files for C/C++ by entry extension"); every other language
// ships its full submitted file set unfiltered.
var cSourceExtensions = map[string][]string{
	"c":   {".c", ".h"},
	"cpp": {".cpp", ".cc", ".cxx", ".c++", ".hpp", ".h"},
}

func filterFilesForLanguage(lang string, files []wire.File) []wire.File {
	exts, ok := cSourceExtensions[lang]
	if !ok {
		return files
	}

	var out []wire.File

	for _, f := range files {
		for _, ext := range exts {
			if hasSuffix(f.Path, ext) {
				out = append(out, f)

				break
			}
		}
	}

	return out
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}
