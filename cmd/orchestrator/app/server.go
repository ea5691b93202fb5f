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
	"errors"
	"fmt"
	"net"
	"net/http"

	"coderunner-orchestrator/pkg/cleaner"
	"coderunner-orchestrator/pkg/common/logutil"
	"coderunner-orchestrator/pkg/engine"
	"coderunner-orchestrator/pkg/language"
	"coderunner-orchestrator/pkg/metrics"
	"coderunner-orchestrator/pkg/network"
	"coderunner-orchestrator/pkg/orchestrator"
	"coderunner-orchestrator/pkg/pool"
	"coderunner-orchestrator/pkg/queue"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var logger = logutil.GetLogger("coderunner-orchestrator")

// runServer configures and starts the orchestrator process: it dials the
// container engine, wires the network/pool/queue/metrics stack, starts
// the adaptive cleaner and the metrics server, then serves /ws until
// ctx is cancelled by a shutdown signal.
func runServer(opt *Option) error {
	level, err := logrus.ParseLevel(opt.LogConfig.Level)
	if err != nil {
		return err
	}

	logutil.SetLevel(level)
	logutil.SetExpireDay(opt.LogConfig.ExpireDays)

	ctx, cancel := context.WithCancel(context.Background())
	setupSignal(cancel)

	logGlobalConfig(opt)

	baseMem, err := engine.ParseMemory(opt.MemDefault)
	if err != nil {
		return fmt.Errorf("mem_default %q: %w", opt.MemDefault, err)
	}
	language.ApplyResourceDefaults(baseMem, opt.CPUDefault)

	eng, err := engine.New(opt.EngineConfig.Endpoint, opt.EngineConfig.APIVersion)
	if err != nil {
		return err
	}

	netManager, err := network.New(ctx, eng, opt.NetworkConfig)
	if err != nil {
		return err
	}

	containerPool := pool.New(eng, opt.poolIdleTTL())
	tracker := metrics.New()

	q := queue.New(ctx, queue.Config{
		MaxConcurrent: opt.QueueMaxConcurrent,
		MaxQueueSize:  opt.QueueMaxQueueSize,
		QueueTimeout:  opt.queueTimeout(),
	})
	containerPool.SetQueueDepthProvider(q)

	orch := orchestrator.New(orchestrator.Config{
		Validation:         opt.Validation,
		RateLimitPerWindow: opt.RateLimitPerWindow,
		ExecTimeout:        opt.execTimeout(),
	}, q, containerPool, netManager, eng, tracker)

	preflight := cleaner.NewEngineLegacyPreflight(eng, pool.LabelPool)
	sweeper := cleaner.New(containerPool, netManager, preflight, opt.cleanupInterval())

	go sweeper.Run(ctx)
	go startMonitorServer(opt.MonitorAddr)

	r := mux.NewRouter()
	r.HandleFunc("/ws", newWebsocketHandler(orch, opt.CORSOrigins))

	addr := net.JoinHostPort(opt.Host, opt.Port)
	server := &http.Server{Addr: addr, Handler: requestLoggingMiddleware(r)}

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	err = server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		containerPool.CleanupAll(context.Background())

		return nil
	}

	return err
}

// requestLoggingMiddleware logs each request's outcome once the handler
// returns, using httpsnoop to capture the status code and duration without
// requiring every handler to report them itself. The websocket upgrade
// on /ws hijacks the connection, so this only reports its own completion
// once the socket closes.
func requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)

		logger.WithFields(logrus.Fields{
			"path":     r.URL.Path,
			"status":   m.Code,
			"duration": m.Duration,
		}).Debug("request handled")
	})
}

// startMonitorServer starts the Prometheus scrape endpoint on addr.
func startMonitorServer(addr string) {
	r := mux.NewRouter()
	r.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	server := &http.Server{Addr: addr, Handler: r}
	if err := server.ListenAndServe(); err != nil {
		logger.Warnf("monitor server stopped: %v", err)
	}
}
