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
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"coderunner-orchestrator/pkg/common/sessionutil"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	Version    string
	configPath string
)

// Environment variables recognized by the orchestrator process
// (SPEC_FULL §6), letting operationally hot settings be flipped without a
// config redeploy.
const (
	envHost               = "ORCHESTRATOR_HOST"
	envPort               = "ORCHESTRATOR_PORT"
	envConcurrentLimit    = "CONCURRENT_LIMIT"
	envMaxQueueSize       = "MAX_QUEUE_SIZE"
	envQueueTimeout       = "QUEUE_TIMEOUT"
	envSessionTTL         = "SESSION_TTL"
	envCleanupInterval    = "CLEANUP_INTERVAL"
	envMem                = "MEM"
	envCPUs               = "CPUS"
	envExecTimeout        = "EXEC_TIMEOUT"
	envRateLimitSocketRun = "RATE_LIMIT_SOCKET_RUN"
	envNetworkPrefix      = "NETWORK_PREFIX"
	envCORSOrigins        = "CORS_ORIGINS"
	envMonitorAddr        = "MONITOR_ADDR"
)

// NewCommand creates and returns a new cobra command object.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coderunner-orchestrator",
		Short: "coderunner-orchestrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			var options Option
			if err := loadConfigFromToml(&options); err != nil {
				return fmt.Errorf("failed to load config from toml: %w", err)
			}

			options.applyDefaults()
			applyEnvOverrides(&options)

			if err := runServer(&options); err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
				os.Exit(1)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.toml", "path to the config file")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Display the current version of coderunner-orchestrator",
		Long:  "Display the current version of coderunner-orchestrator",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version)
		},
	}
	cmd.AddCommand(versionCmd)

	return cmd
}

// loadConfigFromToml loads the configuration from the given TOML file. A
// missing file is not fatal — applyDefaults fills a runnable configuration
// from zero values, matching the teacher's own tolerant startup.
func loadConfigFromToml(config *Option) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	_, err := toml.DecodeFile(configPath, config)
	if err != nil {
		return fmt.Errorf("error reading %s: %w", configPath, err)
	}

	return nil
}

// applyEnvOverrides lets a handful of operationally hot settings be
// flipped without a config redeploy, mirroring logutil's own
// environment-variable override pattern. ORCHESTRATOR_LOG_LEVEL and
// ORCHESTRATOR_LOG_STDOUT are read directly by logutil and need no
// handling here.
func applyEnvOverrides(opt *Option) {
	if v := os.Getenv(envHost); v != "" {
		opt.Host = v
	}

	if v := os.Getenv(envPort); v != "" {
		opt.Port = v
	}

	if v := os.Getenv(envConcurrentLimit); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opt.QueueMaxConcurrent = n
		}
	}

	if v := os.Getenv(envMaxQueueSize); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opt.QueueMaxQueueSize = n
		}
	}

	if v := os.Getenv(envQueueTimeout); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opt.QueueTimeoutSeconds = n
		}
	}

	if v := os.Getenv(envSessionTTL); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opt.PoolIdleTTLSeconds = n
		}
	}

	if v := os.Getenv(envCleanupInterval); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opt.CleanupIntervalSeconds = n
		}
	}

	if v := os.Getenv(envMem); v != "" {
		opt.MemDefault = v
	}

	if v := os.Getenv(envCPUs); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			opt.CPUDefault = f
		}
	}

	if v := os.Getenv(envExecTimeout); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opt.ExecTimeoutSeconds = n
		}
	}

	if v := os.Getenv(envRateLimitSocketRun); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opt.RateLimitPerWindow = n
		}
	}

	if v := os.Getenv(envNetworkPrefix); v != "" {
		opt.NetworkConfig.NamePrefix = v
	}

	if v := os.Getenv(envCORSOrigins); v != "" {
		opt.CORSOrigins = strings.Split(v, ",")
	}

	if v := os.Getenv(envMonitorAddr); v != "" {
		opt.MonitorAddr = v
	}
}

// logGlobalConfig logs the global configuration and the host identity this
// process is running under, so operators correlating logs/metrics across a
// multi-host deployment can tell instances apart without shelling in.
func logGlobalConfig(opt *Option) {
	logrus.Info("coderunner-orchestrator start...")

	hostName, _ := sessionutil.GetHostName()
	mainIP := sessionutil.GetMainIP()
	logrus.Infof("host: name=%s ip=%s", hostName, mainIP)

	b, _ := json.Marshal(opt)
	logrus.Infof("config: %s", string(b))
}
