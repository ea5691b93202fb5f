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

package engine

import (
	"bytes"
	"context"
	"io"
	"time"

	"coderunner-orchestrator/pkg/common/sessionutil"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
)

// ExecResult is the outcome of a bounded, non-interactive exec.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ExecOptions parameterizes both exec flavors. TimeoutMs is applied by
// ExecInContainer only; ExecInteractive ignores it.
type ExecOptions struct {
	WorkDir   string
	TimeoutMs int
	User      string
}

// ExecInContainer runs command inside id to completion, collecting its
// output fully. The engine's single interleaved stream is split into
// logical stdout/stderr via stdcopy.StdCopy rather than the manual 8-byte
// frame parsing the lineage predecessor hand-rolled.
func (c *Client) ExecInContainer(ctx context.Context, id string, command []string, opts ExecOptions) (ExecResult, error) {
	execConfig := types.ExecConfig{
		Cmd:          command,
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   opts.WorkDir,
		User:         opts.User,
	}

	createResp, err := c.api.ContainerExecCreate(ctx, id, execConfig)
	if err != nil {
		return ExecResult{}, sessionutil.Wrapf(sessionutil.KindEngineUnavailable, "create exec: %v", err)
	}

	attachResp, err := c.api.ContainerExecAttach(ctx, createResp.ID, types.ExecStartCheck{})
	if err != nil {
		return ExecResult{}, sessionutil.Wrapf(sessionutil.KindEngineUnavailable, "attach exec: %v", err)
	}
	defer attachResp.Close()

	if opts.TimeoutMs > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	var stdoutBuf, stderrBuf bytes.Buffer

	copyDone := make(chan error, 1)

	go func() {
		_, copyErr := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, attachResp.Reader)
		copyDone <- copyErr
	}()

	select {
	case <-ctx.Done():
		return ExecResult{}, sessionutil.Wrap(sessionutil.KindTimeout, ctx.Err())
	case copyErr := <-copyDone:
		if copyErr != nil && copyErr != io.EOF {
			return ExecResult{}, sessionutil.Wrapf(sessionutil.KindEngineUnavailable, "demux exec stream: %v", copyErr)
		}
	}

	inspect, err := c.api.ContainerExecInspect(ctx, createResp.ID)
	if err != nil {
		return ExecResult{}, sessionutil.Wrapf(sessionutil.KindEngineUnavailable, "inspect exec: %v", err)
	}

	return ExecResult{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		ExitCode: inspect.ExitCode,
	}, nil
}

// ExecInContainerSimple is ExecInContainer for callers that only need the
// exit code, such as the session pool's return-to-idle cleanup command.
func (c *Client) ExecInContainerSimple(ctx context.Context, id string, command []string, timeoutMs int) (int, error) {
	result, err := c.ExecInContainer(ctx, id, command, ExecOptions{TimeoutMs: timeoutMs})
	if err != nil {
		return 0, err
	}

	return result.ExitCode, nil
}

// InteractiveExec is a live, two-stream exec session with a writable stdin.
type InteractiveExec struct {
	Stdout io.Reader
	Stderr io.Reader
	Stdin  io.WriteCloser

	execID string
	api    interface {
		ContainerExecInspect(ctx context.Context, execID string) (types.ContainerExecInspect, error)
		ContainerExecResize(ctx context.Context, execID string, options container.ResizeOptions) error
	}
	hijack types.HijackedResponse
}

// ExecInteractive starts command inside id and returns live stdout/stderr
// readers plus a stdin writer, demultiplexed in a background goroutine so
// callers never see the engine's wire framing.
func (c *Client) ExecInteractive(ctx context.Context, id string, command []string, opts ExecOptions) (*InteractiveExec, error) {
	execConfig := types.ExecConfig{
		Cmd:          command,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   opts.WorkDir,
		User:         opts.User,
	}

	createResp, err := c.api.ContainerExecCreate(ctx, id, execConfig)
	if err != nil {
		return nil, sessionutil.Wrapf(sessionutil.KindEngineUnavailable, "create interactive exec: %v", err)
	}

	hijack, err := c.api.ContainerExecAttach(ctx, createResp.ID, types.ExecStartCheck{})
	if err != nil {
		return nil, sessionutil.Wrapf(sessionutil.KindEngineUnavailable, "attach interactive exec: %v", err)
	}

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	go func() {
		_, copyErr := stdcopy.StdCopy(stdoutW, stderrW, hijack.Reader)
		stdoutW.CloseWithError(copyErr)
		stderrW.CloseWithError(copyErr)
	}()

	return &InteractiveExec{
		Stdout: stdoutR,
		Stderr: stderrR,
		Stdin:  hijack.Conn,
		execID: createResp.ID,
		api:    c.api,
		hijack: hijack,
	}, nil
}

// ExitCode returns the exit status the engine reports for the exec at the
// time of the call, from a single inspect; it does not wait for an exec
// that is still running.
func (ie *InteractiveExec) ExitCode(ctx context.Context) (int, error) {
	inspect, err := ie.api.ContainerExecInspect(ctx, ie.execID)
	if err != nil {
		return 0, err
	}

	return inspect.ExitCode, nil
}

// Resize adjusts the pseudo-terminal size of a tty exec.
func (ie *InteractiveExec) Resize(ctx context.Context, h, w int) error {
	return ie.api.ContainerExecResize(ctx, ie.execID, container.ResizeOptions{Height: uint(h), Width: uint(w)})
}

// Kill tears down the hijacked connection, ending the exec's streams from
// the caller's side. The engine itself reaps the process when the
// connection closes.
func (ie *InteractiveExec) Kill() {
	ie.hijack.Close()
}

// WaitForHealthy polls checkCmd inside id until it exits zero or timeoutMs
// elapses, for image variants (e.g. sql) whose readiness depends on an
// in-container daemon rather than the process exec itself running.
func (c *Client) WaitForHealthy(ctx context.Context, id string, checkCmd []string, timeoutMs, intervalMs int) error {
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)

	for {
		result, err := c.ExecInContainer(ctx, id, checkCmd, ExecOptions{TimeoutMs: intervalMs})
		if err == nil && result.ExitCode == 0 {
			return nil
		}

		if time.Now().After(deadline) {
			return sessionutil.Wrapf(sessionutil.KindTimeout, "container %s did not become healthy within %dms", id, timeoutMs)
		}

		select {
		case <-ctx.Done():
			return sessionutil.Wrap(sessionutil.KindTimeout, ctx.Err())
		case <-time.After(time.Duration(intervalMs) * time.Millisecond):
		}
	}
}
