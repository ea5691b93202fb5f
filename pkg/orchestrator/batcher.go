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
	"sync"
	"time"

	"coderunner-orchestrator/pkg/wire"
)

const batchFlushInterval = 100 * time.Millisecond

// entry is one buffered (sessionKey, streamType, data) triple awaiting
// flush; adjacent entries of the same (sessionKey, streamType) coalesce by
// string concatenation.
type entry struct {
	sessionKey string
	stream     string
	data       string
}

// outputBatcher buffers outgoing output frames and flushes them on a
// fixed timer, preserving the order stdout/stderr were observed in.
type outputBatcher struct {
	send func(wire.OutputFrame) error

	mu      sync.Mutex
	buf     []entry
	timer   *time.Timer
	stopped bool
}

func newOutputBatcher(send func(wire.OutputFrame) error) *outputBatcher {
	b := &outputBatcher{send: send}
	b.timer = time.AfterFunc(batchFlushInterval, b.onTimer)

	return b
}

// Write appends data under (sessionKey, stream) to the buffer.
func (b *outputBatcher) Write(sessionKey, stream, data string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return
	}

	if n := len(b.buf); n > 0 && b.buf[n-1].sessionKey == sessionKey && b.buf[n-1].stream == stream {
		b.buf[n-1].data += data

		return
	}

	b.buf = append(b.buf, entry{sessionKey: sessionKey, stream: stream, data: data})
}

func (b *outputBatcher) onTimer() {
	b.Flush()

	b.mu.Lock()
	if !b.stopped {
		b.timer.Reset(batchFlushInterval)
	}
	b.mu.Unlock()
}

// Flush emits every buffered entry as one output frame each, in order,
// then clears the buffer.
func (b *outputBatcher) Flush() {
	b.mu.Lock()
	pending := b.buf
	b.buf = nil
	b.mu.Unlock()

	for _, e := range pending {
		_ = b.send(wire.NewOutputFrame(e.sessionKey, e.stream, e.data))
	}
}

// Stop flushes any remaining buffered output and halts the timer.
func (b *outputBatcher) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()

	b.timer.Stop()
	b.Flush()
}
