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

package cognicore

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultHeartbeatDir is where each service drops its heartbeat file for the
// watchdog.
const DefaultHeartbeatDir = "/run/edge_hb"

// WriteHeartbeat writes <dir>/<service>.hb containing the current epoch
// second. Services call this periodically from their main loop; the watchdog
// restarts services whose heartbeat goes stale. The write is atomic
// (temp file + rename) so the watchdog never reads a half-written file.
func WriteHeartbeat(dir, service string) error {
	if service == "" {
		return &ValidationError{Reason: "service name must be non-empty"}
	}
	if dir == "" {
		dir = DefaultHeartbeatDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := heartbeatPath(dir, service)
	tmp := path + ".tmp"
	content := strconv.FormatInt(time.Now().Unix(), 10)
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadHeartbeat returns the timestamp of the last heartbeat a service wrote.
// A missing file is an error; the watchdog treats it the same as a stale
// heartbeat.
func ReadHeartbeat(dir, service string) (time.Time, error) {
	if dir == "" {
		dir = DefaultHeartbeatDir
	}
	raw, err := os.ReadFile(heartbeatPath(dir, service))
	if err != nil {
		return time.Time{}, err
	}
	sec, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0), nil
}

func heartbeatPath(dir, service string) string {
	return filepath.Join(dir, service+".hb")
}
