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
	"context"
	"fmt"
	"strings"

	"coderunner-orchestrator/pkg/common/sessionutil"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
)

// NetworkInfo is the subset of engine-reported network state the network
// manager needs.
type NetworkInfo struct {
	Name           string
	Subnet         string
	Created        string
	ContainerCount int
}

// CreateNetwork creates a bridge network named name with the given subnet
// and labels. An engine "already exists" error is surfaced unchanged so the
// network manager's create-race suppression can decide whether to verify
// and reuse.
func (c *Client) CreateNetwork(ctx context.Context, name, subnet string, labels map[string]string) (string, error) {
	create := types.NetworkCreate{
		Driver: "bridge",
		Labels: labels,
		IPAM: &network.IPAM{
			Config: []network.IPAMConfig{{Subnet: subnet}},
		},
	}

	resp, err := c.api.NetworkCreate(ctx, name, create)
	if err != nil {
		return "", err
	}

	return resp.ID, nil
}

// NetworkExists reports whether a network named name currently exists.
func (c *Client) NetworkExists(ctx context.Context, name string) (bool, error) {
	_, err := c.api.NetworkInspect(ctx, name, types.NetworkInspectOptions{})
	if err == nil {
		return true, nil
	}

	if client.IsErrNotFound(err) {
		return false, nil
	}

	return false, err
}

// InspectNetwork returns the created time, subnet, and attached-container
// count for name.
func (c *Client) InspectNetwork(ctx context.Context, name string) (NetworkInfo, error) {
	resp, err := c.api.NetworkInspect(ctx, name, types.NetworkInspectOptions{})
	if err != nil {
		return NetworkInfo{}, err
	}

	subnet := ""
	if len(resp.IPAM.Config) > 0 {
		subnet = resp.IPAM.Config[0].Subnet
	}

	return NetworkInfo{
		Name:           resp.Name,
		Subnet:         subnet,
		Created:        resp.Created.String(),
		ContainerCount: len(resp.Containers),
	}, nil
}

// RemoveNetwork removes name, tolerating the engine reporting it already
// gone.
func (c *Client) RemoveNetwork(ctx context.Context, name string) error {
	err := c.api.NetworkRemove(ctx, name)
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("remove network %s: %w", name, err)
	}

	return nil
}

// ListNetworks returns every network whose name starts with prefix. The
// engine's own name filter performs a substring match rather than a strict
// prefix match, so filtering happens client-side.
func (c *Client) ListNetworks(ctx context.Context, prefix string) ([]NetworkInfo, error) {
	all, err := c.api.NetworkList(ctx, types.NetworkListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list networks: %w", err)
	}

	out := make([]NetworkInfo, 0, len(all))

	for _, n := range all {
		if prefix != "" && !strings.HasPrefix(n.Name, prefix) {
			continue
		}

		subnet := ""
		if len(n.IPAM.Config) > 0 {
			subnet = n.IPAM.Config[0].Subnet
		}

		out = append(out, NetworkInfo{
			Name:           n.Name,
			Subnet:         subnet,
			Created:        n.Created.String(),
			ContainerCount: len(n.Containers),
		})
	}

	return out, nil
}

// DisconnectAllFromNetwork force-disconnects every attached container from
// name, a precondition for removing a network the engine otherwise refuses
// to delete while containers remain attached.
func (c *Client) DisconnectAllFromNetwork(ctx context.Context, name string) error {
	resp, err := c.api.NetworkInspect(ctx, name, types.NetworkInspectOptions{})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}

		return fmt.Errorf("inspect network %s: %w", name, err)
	}

	var firstErr error

	for containerID := range resp.Containers {
		if err := c.api.NetworkDisconnect(ctx, name, containerID, true); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// PruneNetworks removes every unused network matching labelFilter. The
// network manager's bulk escalation path does not call it; it deletes each
// session network individually.
func (c *Client) PruneNetworks(ctx context.Context, labelFilter map[string]string) ([]string, error) {
	args := newLabelFilterArgs(labelFilter)

	resp, err := c.api.NetworksPrune(ctx, args)
	if err != nil {
		return nil, sessionutil.Wrapf(sessionutil.KindEngineUnavailable, "prune networks: %v", err)
	}

	return resp.NetworksDeleted, nil
}
