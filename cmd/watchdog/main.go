// Copyright 2025 CogniFlight Edge
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// The watchdog supervises the edge service fleet: every service writes a
// heartbeat file, and a service whose heartbeat goes missing or stale gets
// its systemd unit restarted. When a service cannot be recovered the
// watchdog force-transitions the global state to system_crashed so the rest
// of the fleet can react.
package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"github.com/united-manufacturing-hub/umh-utils/logger"
	"go.uber.org/zap"

	"github.com/cogniflight-edge/cognicore/internal"
	"github.com/cogniflight-edge/cognicore/pkg/cognicore"
)

const serviceName = "watchdog"

// defaultServices is the fleet monitored when WATCHDOG_SERVICES is unset.
var defaultServices = []string{
	"alert_manager",
	"bio_monitor",
	"https_client",
	"vision_processor",
	"network_connector",
	"predictor",
	"env_monitor",
	"motion_controller",
}

func main() {
	logLevel, _ := env.GetAsString("LOGGING_LEVEL", false, "PRODUCTION") //nolint:errcheck
	log := logger.New(logLevel)
	defer func(logger *zap.SugaredLogger) {
		err := logger.Sync()
		if err != nil {
			panic(err)
		}
	}(log)

	hbDir, err := env.GetAsString("HEARTBEAT_DIR", false, cognicore.DefaultHeartbeatDir)
	if err != nil {
		zap.S().Error(err)
	}
	maxAgeSec, err := env.GetAsInt("HEARTBEAT_MAX_AGE", false, 15)
	if err != nil {
		zap.S().Error(err)
	}
	intervalSec, err := env.GetAsInt("WATCHDOG_INTERVAL", false, 5)
	if err != nil {
		zap.S().Error(err)
	}
	servicesRaw, err := env.GetAsString("WATCHDOG_SERVICES", false, strings.Join(defaultServices, ","))
	if err != nil {
		zap.S().Error(err)
	}
	services := strings.Split(servicesRaw, ",")
	for i := range services {
		services[i] = strings.TrimSpace(services[i])
	}

	cfg, err := cognicore.LoadConfig()
	if err != nil {
		zap.S().Error(err)
	}
	core, err := cognicore.New(context.Background(), serviceName, cfg)
	if err != nil {
		zap.S().Fatalf("Failed to connect to redis: %s", err)
	}

	zap.S().Debugf("Setting up healthcheck")
	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(1000000))
	health.AddReadinessCheck("redis", core.HealthCheck())
	go func() {
		/* #nosec G114 */
		err := http.ListenAndServe("0.0.0.0:8086", health)
		if err != nil {
			zap.S().Errorf("Error starting healthcheck: %s", err)
		}
	}()

	mon := newMonitor(hbDir, time.Duration(maxAgeSec)*time.Second, services)
	mon.onUnrecoverable = func(service string) {
		_, err := core.ForceState(context.Background(), cognicore.StateSystemCrashed,
			"Service "+service+" could not be recovered", "",
			map[string]interface{}{"service": service})
		if err != nil {
			zap.S().Errorf("Failed to announce crash of %s: %s", service, err)
		}
	}

	gs := internal.NewGracefulShutdown(func() error {
		core.Shutdown()
		return nil
	})

	zap.S().Infof("Watchdog started, monitoring %d services (heartbeat dir %s)", len(services), hbDir)

	ticker := time.NewTicker(time.Duration(intervalSec) * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if gs.ShuttingDown() {
			break
		}
		if err := cognicore.WriteHeartbeat(hbDir, serviceName); err != nil {
			zap.S().Warnf("Failed to write own heartbeat: %s", err)
		}
		mon.checkAll(context.Background())
	}
	gs.Wait()
}
