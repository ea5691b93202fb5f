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

package logutil

import (
	"bytes"

	"github.com/sirupsen/logrus"
)

const (
	maxLength = 512
)

// StdoutTeeLogger mirrors a submission's raw stdout/stderr bytes into the
// structured logger line-by-line, independent of and without slowing down
// the websocket fan-out path. It is an io.Writer, so it can sit behind an
// io.TeeReader on an exec output stream; the orchestrator does not attach
// it.
type StdoutTeeLogger struct {
	buf    []byte
	dataCh chan []byte
	doneCh chan struct{}
	l      *logrus.Entry
}

// NewStdoutTeeLogger creates a new StdoutTeeLogger instance.
func NewStdoutTeeLogger(l *logrus.Entry) *StdoutTeeLogger {
	t := &StdoutTeeLogger{
		buf:    make([]byte, 0, maxLength),
		dataCh: make(chan []byte, 50),
		doneCh: make(chan struct{}),
		l:      l,
	}
	go t.run()

	return t
}

// Write implements io.Writer; it never blocks the caller on log I/O.
func (t *StdoutTeeLogger) Write(p []byte) (int, error) {
	t.dataCh <- p

	return len(p), nil
}

// Destroy stops the background flushing goroutine.
func (t *StdoutTeeLogger) Destroy() {
	close(t.doneCh)
}

// run accumulates bytes and flushes a log line on every newline or once the
// buffer fills, so a submission that never prints a newline still surfaces
// in the logs eventually instead of buffering forever.
func (t *StdoutTeeLogger) run() {
	for {
		var p []byte

		select {
		case <-t.doneCh:
			return
		case p = <-t.dataCh:
			if p == nil {
				t.l.Errorf("BUG: unexpected closure of submission output channel")

				return
			}
		}

		for {
			if len(p) == 0 {
				break
			}

			leftSpace := maxLength - len(t.buf)
			if leftSpace >= len(p) {
				t.buf = append(t.buf, p...)
				p = []byte{}
			} else {
				t.buf = append(t.buf, p[:leftSpace]...)
				p = p[leftSpace:]
			}

			newline := bytes.IndexAny(t.buf, "\r\n")
			if newline != -1 {
				t.l.Infof("output: %s", string(t.buf[:newline]))

				if newline+1 < len(t.buf) {
					t.buf = t.buf[newline+1:]
				} else {
					t.buf = t.buf[:0]
				}
			} else if len(t.buf) == maxLength {
				t.l.Infof("output: %s", string(t.buf))
				t.buf = t.buf[:0]
			}
		}
	}
}
