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

// Package engine mediates every operation against the local container
// engine through the docker/docker/client binding, so the rest of the
// orchestrator never shells out to a CLI per operation.
package engine

import (
	"context"
	"fmt"

	"coderunner-orchestrator/pkg/common/logutil"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	imageTypes "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
)

var logger = logutil.GetLogger("engine")

// idleCmd keeps a freshly created container alive so later execs can attach
// into it instead of paying container-create latency per submission.
var idleCmd = []string{"tail", "-f", "/dev/null"}

// Client wraps the container engine's API client with the operations the
// rest of the orchestrator needs. It carries no session state of its own.
type Client struct {
	api client.CommonAPIClient
}

// New dials the container engine at endpoint, negotiating apiVersion.
func New(endpoint, apiVersion string) (*Client, error) {
	opts := []client.Opt{client.WithHost(endpoint)}
	if apiVersion != "" {
		opts = append(opts, client.WithVersion(apiVersion))
	} else {
		opts = append(opts, client.WithAPIVersionNegotiation())
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("dial container engine: %w", err)
	}

	return &Client{api: cli}, nil
}

// PingDaemon verifies the engine is reachable, used at startup preflight.
func (c *Client) PingDaemon(ctx context.Context) error {
	_, err := c.api.Ping(ctx)

	return err
}

// ImageExists reports whether image is present locally.
func (c *Client) ImageExists(ctx context.Context, image string) (bool, error) {
	_, _, err := c.api.ImageInspectWithRaw(ctx, image)
	if err == nil {
		return true, nil
	}

	if client.IsErrNotFound(err) {
		return false, nil
	}

	return false, err
}

// PullImage pulls image, draining the progress stream without logging every
// line at info level (the daemon emits one per layer).
func (c *Client) PullImage(ctx context.Context, image, registryAuth string) error {
	body, err := c.api.ImagePull(ctx, image, imageTypes.PullOptions{RegistryAuth: registryAuth})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", image, err)
	}
	defer body.Close()

	if _, err := discard(body); err != nil {
		return fmt.Errorf("read pull progress for %s: %w", image, err)
	}

	return nil
}

// CreateContainer creates a detached container on networkName with /app as
// its working directory. An empty cmd yields an idle sentinel process so
// execInContainer / execInteractive can attach into a running container.
func (c *Client) CreateContainer(ctx context.Context, image string, labels map[string]string, networkName string, memoryBytes int64, nanoCPUs int64, env []string, cmd []string) (string, error) {
	if len(cmd) == 0 {
		cmd = idleCmd
	}

	contConfig := &container.Config{
		Image:      image,
		Cmd:        cmd,
		Env:        env,
		Labels:     labels,
		WorkingDir: "/app",
		Tty:        false,
	}

	hostConfig := &container.HostConfig{
		AutoRemove: false,
		Resources: container.Resources{
			Memory:   memoryBytes,
			NanoCPUs: nanoCPUs,
		},
	}

	if networkName != "" {
		hostConfig.NetworkMode = container.NetworkMode(networkName)
	}

	resp, err := c.api.ContainerCreate(ctx, contConfig, hostConfig, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}

	return resp.ID, nil
}

// StartContainer starts a previously created container. Kept separate from
// CreateContainer so callers can inspect or label before the first process
// runs.
func (c *Client) StartContainer(ctx context.Context, id string) error {
	if err := c.api.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %s: %w", id, err)
	}

	return nil
}

// RemoveContainers force-removes every id, swallowing engine 404s since the
// entity being gone already satisfies the caller's intent.
func (c *Client) RemoveContainers(ctx context.Context, ids []string) error {
	var firstErr error

	for _, id := range ids {
		err := c.api.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true})
		if err != nil && !client.IsErrNotFound(err) {
			logger.WithField("container", id).Errorf("remove container: %v", err)

			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// ContainerInfo is the subset of engine-reported container state the
// orchestrator and cleaner need; it insulates callers from the engine
// client's own wire types.
type ContainerInfo struct {
	ID      string
	Image   string
	State   string
	Created int64
	Labels  map[string]string
}

// ListContainers returns every container whose labels match labelFilter
// exactly (key=value equality, ANDed).
func (c *Client) ListContainers(ctx context.Context, labelFilter map[string]string) ([]ContainerInfo, error) {
	args := newLabelFilterArgs(labelFilter)

	raw, err := c.api.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	out := make([]ContainerInfo, 0, len(raw))
	for _, item := range raw {
		out = append(out, ContainerInfo{
			ID:      item.ID,
			Image:   item.Image,
			State:   item.State,
			Created: item.Created,
			Labels:  item.Labels,
		})
	}

	return out, nil
}

// InspectContainer returns the raw engine inspect result, used by
// waitForHealthy and by legacy-container sweeps that need process state.
func (c *Client) InspectContainer(ctx context.Context, id string) (types.ContainerJSON, error) {
	return c.api.ContainerInspect(ctx, id)
}
