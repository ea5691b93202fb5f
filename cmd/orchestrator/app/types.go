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
	"time"

	"coderunner-orchestrator/pkg/network"
	"coderunner-orchestrator/pkg/orchestrator"
)

// LogConfig mirrors the fields logutil exposes control over.
type LogConfig struct {
	Level      string `toml:"level"`
	ExpireDays int    `toml:"expire_days"`
}

// EngineConfig points at the container engine this process drives.
type EngineConfig struct {
	Endpoint   string `toml:"endpoint"`
	APIVersion string `toml:"api_version"`
}

// Option is the top-level configuration for the orchestrator process,
// decoded from TOML with environment-variable overrides applied on top
// (SPEC_FULL's Configuration section).
type Option struct {
	Host string `toml:"host"`
	Port string `toml:"port"`

	LogConfig     LogConfig     `toml:"log_config"`
	EngineConfig  EngineConfig  `toml:"engine_config"`
	NetworkConfig network.Config `toml:"network_config"`

	PoolIdleTTLSeconds     int `toml:"pool_idle_ttl_seconds"`
	CleanupIntervalSeconds int `toml:"cleanup_interval_seconds"`

	QueueMaxConcurrent  int `toml:"queue_max_concurrent"`
	QueueMaxQueueSize   int `toml:"queue_max_queue_size"`
	QueueTimeoutSeconds int `toml:"queue_timeout_seconds"`

	Validation orchestrator.ValidationConfig `toml:"validation_config"`

	RateLimitPerWindow int `toml:"rate_limit_per_window"`
	ExecTimeoutSeconds int `toml:"exec_timeout_seconds"`

	// MemDefault/CPUDefault are the baseline per-container resource caps
	// (MEM/CPUS, SPEC_FULL §6); language.ApplyResourceDefaults scales the
	// notebook-like (java) and database-like (sql) runtimes off them.
	MemDefault string  `toml:"mem_default"`
	CPUDefault float64 `toml:"cpu_default"`

	// CORSOrigins lists browser origins allowed to open the /ws socket.
	// Empty means same-origin only.
	CORSOrigins []string `toml:"cors_origins"`

	// MonitorAddr is the /metrics server's bind address.
	MonitorAddr string `toml:"monitor_addr"`
}

// applyDefaults fills in every field the config file (or its absence)
// left at its zero value, so a minimal or missing config file still
// produces a runnable process.
func (o *Option) applyDefaults() {
	if o.Host == "" {
		o.Host = "0.0.0.0"
	}

	if o.Port == "" {
		o.Port = "8080"
	}

	if o.LogConfig.Level == "" {
		o.LogConfig.Level = "info"
	}

	if o.LogConfig.ExpireDays == 0 {
		o.LogConfig.ExpireDays = 7
	}

	if o.EngineConfig.Endpoint == "" {
		o.EngineConfig.Endpoint = "unix:///var/run/docker.sock"
	}

	if len(o.NetworkConfig.Pools) == 0 {
		o.NetworkConfig.Pools = []network.SubnetPool{
			{Name: "default", BaseOctets: [4]byte{172, 30, 0, 0}, HostBitsPerSubnet: 4, Capacity: 4096},
		}
	}

	if o.NetworkConfig.NamePrefix == "" {
		o.NetworkConfig.NamePrefix = "coderunner"
	}

	if o.PoolIdleTTLSeconds == 0 {
		o.PoolIdleTTLSeconds = 30
	}

	if o.QueueMaxConcurrent == 0 {
		o.QueueMaxConcurrent = 20
	}

	if o.QueueMaxQueueSize == 0 {
		o.QueueMaxQueueSize = 200
	}

	if o.QueueTimeoutSeconds == 0 {
		o.QueueTimeoutSeconds = 60
	}

	if o.Validation.MaxFileCount == 0 {
		o.Validation.MaxFileCount = 50
	}

	if o.Validation.MaxFileSize == 0 {
		o.Validation.MaxFileSize = 1 << 20
	}

	if o.Validation.MaxTotalSize == 0 {
		o.Validation.MaxTotalSize = 10 << 20
	}

	if o.RateLimitPerWindow == 0 {
		o.RateLimitPerWindow = 5
	}

	if o.ExecTimeoutSeconds == 0 {
		o.ExecTimeoutSeconds = 30
	}

	if o.CleanupIntervalSeconds == 0 {
		o.CleanupIntervalSeconds = 30
	}

	if o.MemDefault == "" {
		o.MemDefault = "256m"
	}

	if o.CPUDefault == 0 {
		o.CPUDefault = 0.5
	}

	if o.MonitorAddr == "" {
		o.MonitorAddr = "0.0.0.0:19104"
	}
}

func (o *Option) poolIdleTTL() time.Duration {
	return time.Duration(o.PoolIdleTTLSeconds) * time.Second
}

func (o *Option) queueTimeout() time.Duration {
	return time.Duration(o.QueueTimeoutSeconds) * time.Second
}

func (o *Option) execTimeout() time.Duration {
	return time.Duration(o.ExecTimeoutSeconds) * time.Second
}

func (o *Option) cleanupInterval() time.Duration {
	return time.Duration(o.CleanupIntervalSeconds) * time.Second
}
