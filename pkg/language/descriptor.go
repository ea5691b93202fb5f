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

// Package language holds the per-language runtime table: which image runs
// a submission, what command compiles and/or executes it, and the
// resource/startup defaults the session pool applies when no override is
// configured.
package language

import "fmt"

// Descriptor is the tagged-variant entry both the session pool (resource
// defaults, startup semantics) and the orchestrator (command construction)
// consult for one language.
type Descriptor struct {
	Language string
	Image    string

	// BuildCommand constructs the shell command to run inside /app given
	// the submitted file paths and the resolved entry file.
	BuildCommand func(files []string, entry string) []string

	// NeedsEntry is false only for languages where compilation is
	// whole-directory and an explicit entry file is optional (c, cpp).
	NeedsEntry bool

	MemoryDefault    int64
	CPUDefault       float64
	StartupTimeoutMs int

	// Env lists KEY=VALUE container environment entries applied at create
	// time. Only sql needs this (POSTGRES_* init vars); every other
	// language runs with no extra environment.
	Env []string

	// StartupCmd, if set, is passed as the container's cmd instead of
	// leaving it empty. An empty cmd makes the engine substitute its idle
	// sentinel so later execs can attach into the container; sql instead
	// needs its image's own server process to actually run, so it sets
	// this to the image's normal startup invocation.
	StartupCmd []string

	// HealthCheckCmd, if set, is polled via the engine client's
	// WaitForHealthy after the container starts, for images (sql) whose
	// readiness depends on an in-container daemon rather than the create
	// call itself.
	HealthCheckCmd []string
}

var descriptors = map[string]Descriptor{
	"python": {
		Language:         "python",
		Image:            "python:3.12-slim",
		BuildCommand:     buildPythonCommand,
		NeedsEntry:       true,
		MemoryDefault:    256 * 1024 * 1024,
		CPUDefault:       0.5,
		StartupTimeoutMs: 5000,
	},
	"javascript": {
		Language:         "javascript",
		Image:            "node:20-slim",
		BuildCommand:     buildJavaScriptCommand,
		NeedsEntry:       true,
		MemoryDefault:    256 * 1024 * 1024,
		CPUDefault:       0.5,
		StartupTimeoutMs: 5000,
	},
	"c": {
		Language:         "c",
		Image:            "gcc:13",
		BuildCommand:     buildCCommand,
		NeedsEntry:       false,
		MemoryDefault:    256 * 1024 * 1024,
		CPUDefault:       0.5,
		StartupTimeoutMs: 5000,
	},
	"cpp": {
		Language:         "cpp",
		Image:            "gcc:13",
		BuildCommand:     buildCppCommand,
		NeedsEntry:       false,
		MemoryDefault:    256 * 1024 * 1024,
		CPUDefault:       0.5,
		StartupTimeoutMs: 5000,
	},
	"java": {
		Language:         "java",
		Image:            "eclipse-temurin:21-jdk",
		BuildCommand:     buildJavaCommand,
		NeedsEntry:       true,
		MemoryDefault:    512 * 1024 * 1024,
		CPUDefault:       1,
		StartupTimeoutMs: 8000,
	},
	"sql": {
		Language:         "sql",
		Image:            "postgres:16-alpine",
		BuildCommand:     buildSQLCommand,
		NeedsEntry:       true,
		MemoryDefault:    512 * 1024 * 1024,
		CPUDefault:       0.5,
		StartupTimeoutMs: 15000,
		Env: []string{
			"POSTGRES_USER=runner",
			"POSTGRES_PASSWORD=" + sqlPassword,
			"POSTGRES_DB=runner",
			"PGPASSWORD=" + sqlPassword,
		},
		StartupCmd:     []string{"postgres"},
		HealthCheckCmd: []string{"pg_isready", "-U", "runner", "-d", "runner"},
	},
}

// ApplyResourceDefaults overrides every descriptor's resource defaults from
// the operator-configured MEM/CPUS baseline (SPEC_FULL §6), preserving each
// runtime's relative headroom over that baseline: java (compiles before it
// runs) and sql (runs a full database server) keep the 2x memory multiplier
// they carry over the plain interpreters' default; sql keeps the plain CPU
// default since its bottleneck is memory, not compute.
func ApplyResourceDefaults(baseMem int64, baseCPU float64) {
	for lang, d := range descriptors {
		switch lang {
		case "java":
			d.MemoryDefault = baseMem * 2
			d.CPUDefault = baseCPU * 2
		case "sql":
			d.MemoryDefault = baseMem * 2
			d.CPUDefault = baseCPU
		default:
			d.MemoryDefault = baseMem
			d.CPUDefault = baseCPU
		}

		descriptors[lang] = d
	}
}

// Lookup returns the descriptor for language, or an error if it is unknown
// (a validation failure — an unrecognized language fails the submission
// immediately rather than falling back to a default runtime).
func Lookup(lang string) (Descriptor, error) {
	d, ok := descriptors[lang]
	if !ok {
		return Descriptor{}, fmt.Errorf("unknown language %q", lang)
	}

	return d, nil
}
