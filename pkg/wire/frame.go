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

// Package wire defines the JSON text frames exchanged between a client and
// the orchestrator over a gorilla/websocket connection, and the
// File/language request shape a "run" frame carries.
package wire

import (
	"encoding/json"
	"fmt"
)

// Frame type discriminators.
const (
	TypeRun    = "run"
	TypeInput  = "input"
	TypeStop   = "stop"
	TypeOutput = "output"
	TypeExit   = "exit"
)

// Output stream tags.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
	StreamSystem = "system"
)

// File is one FileEntry as carried on the wire.
type File struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	ToBeExec bool   `json:"toBeExec,omitempty"`
}

// RunFrame is the client→server "run" frame.
type RunFrame struct {
	Type       string `json:"type"`
	SessionKey string `json:"sessionKey"`
	Language   string `json:"language"`
	Files      []File `json:"files"`
}

// InputFrame is the client→server "input" frame; Data is forwarded
// verbatim to the running program's stdin.
type InputFrame struct {
	Type       string `json:"type"`
	SessionKey string `json:"sessionKey"`
	Data       string `json:"data"`
}

// StopFrame is the client→server "stop" frame.
type StopFrame struct {
	Type       string `json:"type"`
	SessionKey string `json:"sessionKey"`
}

// OutputFrame is the server→client "output" frame.
type OutputFrame struct {
	Type       string `json:"type"`
	SessionKey string `json:"sessionKey"`
	Stream     string `json:"streamType"`
	Data       string `json:"data"`
}

// NewOutputFrame constructs an OutputFrame ready to marshal.
func NewOutputFrame(sessionKey, stream, data string) OutputFrame {
	return OutputFrame{Type: TypeOutput, SessionKey: sessionKey, Stream: stream, Data: data}
}

// ExitFrame is the server→client "exit" frame. ExecutionMs is omitted when
// zero, matching the spec's optional executionTime field.
type ExitFrame struct {
	Type        string `json:"type"`
	SessionKey  string `json:"sessionKey"`
	Code        int    `json:"code"`
	ExecutionMs int64  `json:"executionTime,omitempty"`
}

// NewExitFrame constructs an ExitFrame ready to marshal.
func NewExitFrame(sessionKey string, code int, executionMs int64) ExitFrame {
	return ExitFrame{Type: TypeExit, SessionKey: sessionKey, Code: code, ExecutionMs: executionMs}
}

// ParseInbound decodes raw into its concrete client→server frame type based
// on its "type" field.
func ParseInbound(raw []byte) (any, error) {
	var env struct {
		Type string `json:"type"`
	}

	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode frame envelope: %w", err)
	}

	switch env.Type {
	case TypeRun:
		var f RunFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("decode run frame: %w", err)
		}

		return f, nil
	case TypeInput:
		var f InputFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("decode input frame: %w", err)
		}

		return f, nil
	case TypeStop:
		var f StopFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("decode stop frame: %w", err)
		}

		return f, nil
	default:
		return nil, fmt.Errorf("unknown frame type %q", env.Type)
	}
}
