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

package cleaner

import (
	"context"

	"coderunner-orchestrator/pkg/engine"
)

// LegacyEngine is the narrow engine dependency the legacy preflight needs.
type LegacyEngine interface {
	ListContainers(ctx context.Context, labelFilter map[string]string) ([]engine.ContainerInfo, error)
	RemoveContainers(ctx context.Context, ids []string) error
}

// EngineLegacyPreflight removes every container carrying the pool label
// from a prior process instance, since a crash can orphan containers the
// new process's in-memory pool state has no record of.
type EngineLegacyPreflight struct {
	Engine LegacyEngine
	Label  string
}

// NewEngineLegacyPreflight constructs a preflight scoped to label.
func NewEngineLegacyPreflight(eng LegacyEngine, label string) *EngineLegacyPreflight {
	return &EngineLegacyPreflight{Engine: eng, Label: label}
}

// CleanLegacyContainers implements LegacyPreflight.
func (p *EngineLegacyPreflight) CleanLegacyContainers(ctx context.Context) (int, error) {
	containers, err := p.Engine.ListContainers(ctx, map[string]string{p.Label: "1"})
	if err != nil {
		return 0, err
	}

	if len(containers) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, c.ID)
	}

	if err := p.Engine.RemoveContainers(ctx, ids); err != nil {
		return 0, err
	}

	return len(ids), nil
}
