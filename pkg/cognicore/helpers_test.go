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
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

// testConfig points a Config at an in-process redis. Keyspace-notification
// enablement is skipped: miniredis does not implement CONFIG SET, which is
// exactly the managed-server situation AssumeEventsEnabled exists for.
func testConfig(t *testing.T, mr *miniredis.Miniredis) Config {
	t.Helper()
	host, portStr, err := net.SplitHostPort(mr.Addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Host = host
	cfg.Port = port
	cfg.ConnectionTimeout = 2 * time.Second
	cfg.AssumeEventsEnabled = true
	return cfg
}

func newTestCore(t *testing.T, mr *miniredis.Miniredis, service string) *Core {
	t.Helper()
	core, err := New(context.Background(), service, testConfig(t, mr))
	require.NoError(t, err)
	t.Cleanup(core.Shutdown)
	return core
}
