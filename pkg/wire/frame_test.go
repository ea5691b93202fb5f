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

package wire

import (
	"encoding/json"
	"testing"
)

func TestParseInboundRunFrame(t *testing.T) {
	raw := []byte(`{"type":"run","sessionKey":"s1","language":"python","files":[{"path":"main.py","content":"print(1)","toBeExec":true}]}`)

	parsed, err := ParseInbound(raw)
	if err != nil {
		t.Fatalf("ParseInbound: %v", err)
	}

	run, ok := parsed.(RunFrame)
	if !ok {
		t.Fatalf("expected RunFrame, got %T", parsed)
	}

	if run.SessionKey != "s1" || run.Language != "python" || len(run.Files) != 1 {
		t.Errorf("unexpected RunFrame: %+v", run)
	}

	if !run.Files[0].ToBeExec {
		t.Error("expected toBeExec to be true")
	}
}

func TestParseInboundStopFrame(t *testing.T) {
	raw := []byte(`{"type":"stop","sessionKey":"s1"}`)

	parsed, err := ParseInbound(raw)
	if err != nil {
		t.Fatalf("ParseInbound: %v", err)
	}

	if _, ok := parsed.(StopFrame); !ok {
		t.Fatalf("expected StopFrame, got %T", parsed)
	}
}

func TestParseInboundUnknownType(t *testing.T) {
	if _, err := ParseInbound([]byte(`{"type":"bogus"}`)); err == nil {
		t.Error("expected error for unknown frame type")
	}
}

func TestNewExitFrameOmitsZeroExecutionTime(t *testing.T) {
	f := NewExitFrame("s1", 0, 0)

	b, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if _, ok := m["executionTime"]; ok {
		t.Error("expected executionTime to be omitted when zero")
	}
}

func TestNewOutputFrameRoundTrips(t *testing.T) {
	f := NewOutputFrame("s1", StreamStdout, "hi\n")

	b, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got OutputFrame
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got != f {
		t.Errorf("round-trip mismatch: got %+v, want %+v", got, f)
	}
}
