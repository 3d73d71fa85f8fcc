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

package main

import (
	"context"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/cogniflight-edge/cognicore/internal"
	"github.com/cogniflight-edge/cognicore/pkg/cognicore"
)

// maxRecoveryAttempts is how many consecutive failed restarts a service gets
// before the watchdog declares it unrecoverable.
const maxRecoveryAttempts = 3

// monitor tracks heartbeat freshness for the fleet and drives restarts.
type monitor struct {
	hbDir    string
	maxAge   time.Duration
	services []string

	// failures counts consecutive failed restart attempts per service.
	failures map[string]int64

	// restart and onUnrecoverable are injectable for tests.
	restart         func(ctx context.Context, service string) error
	onUnrecoverable func(service string)
}

func newMonitor(hbDir string, maxAge time.Duration, services []string) *monitor {
	return &monitor{
		hbDir:    hbDir,
		maxAge:   maxAge,
		services: services,
		failures: make(map[string]int64),
		restart:  restartUnit,
	}
}

func (m *monitor) checkAll(ctx context.Context) {
	for _, svc := range m.services {
		if svc == "" {
			continue
		}
		m.checkService(ctx, svc)
	}
}

func (m *monitor) checkService(ctx context.Context, svc string) {
	ts, err := cognicore.ReadHeartbeat(m.hbDir, svc)
	if err != nil {
		zap.S().Warnf("%s: no heartbeat file, restarting service", svc)
		m.recover(ctx, svc)
		return
	}
	if age := time.Since(ts); age > m.maxAge {
		zap.S().Warnf("%s: heartbeat stale (%.1fs), restarting service", svc, age.Seconds())
		m.recover(ctx, svc)
		return
	}
	m.failures[svc] = 0
}

// recover attempts a restart, backing off on repeated failures. A service
// that keeps failing past the attempt budget is reported once and then left
// alone until a restart succeeds.
func (m *monitor) recover(ctx context.Context, svc string) {
	if m.failures[svc] > 0 {
		internal.SleepBackedOff(m.failures[svc], 500*time.Millisecond, 10*time.Second)
	}
	if err := m.restart(ctx, svc); err != nil {
		m.failures[svc]++
		zap.S().Errorf("%s: restart failed (attempt %d): %s", svc, m.failures[svc], err)
		if m.failures[svc] == maxRecoveryAttempts && m.onUnrecoverable != nil {
			zap.S().Errorf("%s: giving up after %d attempts", svc, maxRecoveryAttempts)
			m.onUnrecoverable(svc)
		}
		return
	}
	zap.S().Infof("%s: service restarted", svc)
	m.failures[svc] = 0
}

// restartUnit restarts the systemd unit behind a service name.
func restartUnit(ctx context.Context, service string) error {
	/* #nosec G204 -- service names come from the operator's configuration */
	return exec.CommandContext(ctx, "systemctl", "restart", service+".service").Run()
}
