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

package app

import (
	"context"
	"net/http"
	"sync"

	"coderunner-orchestrator/pkg/orchestrator"
	"coderunner-orchestrator/pkg/wire"

	"github.com/gorilla/websocket"
)

// newUpgrader builds the websocket upgrader for /ws. An empty allowedOrigins
// leaves CheckOrigin nil, which gorilla/websocket treats as same-origin-only;
// a configured CORS_ORIGINS list (SPEC_FULL §6) is checked against the
// request's Origin header instead.
func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	if len(allowedOrigins) == 0 {
		return websocket.Upgrader{}
	}

	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return allowed[r.Header.Get("Origin")]
		},
	}
}

// wsSender adapts a *websocket.Conn to orchestrator.Sender, serializing
// writes behind a mutex since the orchestrator emits output and exit
// frames from the submission's own goroutine concurrently with the
// connection's read loop.
type wsSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSender) SendOutput(f wire.OutputFrame) error {
	return s.writeJSON(f)
}

func (s *wsSender) SendExit(f wire.ExitFrame) error {
	return s.writeJSON(f)
}

func (s *wsSender) writeJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conn.WriteJSON(v)
}

// newWebsocketHandler upgrades each request to a websocket and drives one
// connection's frame loop against orch until the client disconnects. The
// first "run" frame's sessionKey pins the connection; later frames
// carrying a different sessionKey are rejected, since one socket serves
// exactly one session (SPEC_FULL §4.5/§6).
func newWebsocketHandler(orch *orchestrator.Orchestrator, allowedOrigins []string) http.HandlerFunc {
	upgrader := newUpgrader(allowedOrigins)

	return func(w http.ResponseWriter, r *http.Request) {
		requestLogger := logger.WithField("request_from", r.RemoteAddr)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			requestLogger.Warnf("websocket upgrade error: %v", err)

			return
		}
		defer conn.Close()

		send := &wsSender{conn: conn}

		var (
			c    *orchestrator.Connection
			once sync.Once
		)

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				break
			}

			frame, err := wire.ParseInbound(raw)
			if err != nil {
				requestLogger.Warnf("decode frame: %v", err)

				continue
			}

			switch f := frame.(type) {
			case wire.RunFrame:
				once.Do(func() {
					c = orch.NewConnection(f.SessionKey, r.RemoteAddr, send)
				})

				if c == nil || f.SessionKey != c.SessionKey() {
					continue
				}

				go orch.HandleRun(r.Context(), c, f, send)
			case wire.InputFrame:
				if c != nil && f.SessionKey == c.SessionKey() {
					orch.HandleInput(c, f)
				}
			case wire.StopFrame:
				if c != nil && f.SessionKey == c.SessionKey() {
					orch.HandleStop(c, send)
				}
			}
		}

		if c != nil {
			orch.HandleDisconnect(context.Background(), c)
		}
	}
}
