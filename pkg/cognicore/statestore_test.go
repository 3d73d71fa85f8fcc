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
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetStateWritesKeyAndHistory(t *testing.T) {
	mr := miniredis.RunT(t)
	core := newTestCore(t, mr, "vision_processor")
	ctx := context.Background()

	snap, err := core.SetState(ctx, StateScanning, "camera up", "", nil)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, StateScanning, snap.State)
	assert.Equal(t, "vision_processor", snap.Service)

	stored, err := core.readStateKey(ctx)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, *snap, *stored)

	history, err := core.StateHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, *snap, history[0])
}

func TestSetStatePermissionDenied(t *testing.T) {
	mr := miniredis.RunT(t)
	core := newTestCore(t, mr, "env_monitor")
	ctx := context.Background()

	snap, err := core.SetState(ctx, StateMonitoringActive, "not my call", "dl-1", nil)
	var permErr *PermissionError
	require.ErrorAs(t, err, &permErr)
	assert.Nil(t, snap)
	assert.Equal(t, "env_monitor", permErr.Service)

	// Nothing was written.
	stored, err := core.readStateKey(ctx)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestSetStateRejectsUnserializableData(t *testing.T) {
	mr := miniredis.RunT(t)
	core := newTestCore(t, mr, "vision_processor")

	_, err := core.SetState(context.Background(), StateScanning, "boot", "", map[string]interface{}{
		"bad": make(chan int),
	})
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)

	// The local machine did not commit either.
	assert.Nil(t, core.CurrentSnapshot())
}

func TestForceStateBypassesGraphAndPermissions(t *testing.T) {
	mr := miniredis.RunT(t)
	core := newTestCore(t, mr, "env_monitor")
	ctx := context.Background()

	snap, err := core.ForceState(ctx, StateSystemCrashed, "recovery exhausted", "", nil)
	require.NoError(t, err)
	require.NotNil(t, snap)

	got, ok := core.CurrentState()
	require.True(t, ok)
	assert.Equal(t, StateSystemCrashed, got)
}

func TestStateHistoryNewestFirstAndCapped(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr)
	cfg.HistoryLimit = 3
	core, err := New(context.Background(), "predictor", cfg)
	require.NoError(t, err)
	t.Cleanup(core.Shutdown)
	ctx := context.Background()

	steps := []State{StateMonitoringActive, StateAlertMild, StateAlertModerate, StateAlertSevere}
	for _, s := range steps {
		_, err := core.SetState(ctx, s, "step", "dl-1", nil)
		require.NoError(t, err)
	}

	history, err := core.StateHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 3, "history is trimmed to the configured limit")
	assert.Equal(t, StateAlertSevere, history[0].State)
	assert.Equal(t, StateAlertModerate, history[1].State)
	assert.Equal(t, StateAlertMild, history[2].State)
}

func TestStateHistorySkipsUnparseableEntries(t *testing.T) {
	mr := miniredis.RunT(t)
	core := newTestCore(t, mr, "vision_processor")
	ctx := context.Background()

	_, err := core.SetState(ctx, StateScanning, "boot", "", nil)
	require.NoError(t, err)
	_, err = mr.Lpush(stateHistoryKey, "{corrupt")
	require.NoError(t, err)

	history, err := core.StateHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, StateScanning, history[0].State)
}

func TestStateChangeReachesOtherProcess(t *testing.T) {
	mr := miniredis.RunT(t)
	writer := newTestCore(t, mr, "vision_processor")
	reader := newTestCore(t, mr, "alert_manager")
	ctx := context.Background()

	var mu sync.Mutex
	var seen []Snapshot
	reader.SubscribeState(func(snap Snapshot) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, snap)
		return nil
	})

	sent, err := writer.SetState(ctx, StateScanning, "camera up", "", map[string]interface{}{"fps": 30.0})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, 3*time.Second, 10*time.Millisecond, "broadcast must reach the other core")

	mu.Lock()
	got := seen[0]
	mu.Unlock()
	assert.Equal(t, sent.State, got.State)
	assert.Equal(t, sent.Timestamp, got.Timestamp)
	assert.Equal(t, sent.Service, got.Service)
	assert.Equal(t, map[string]interface{}{"fps": 30.0}, got.Data)

	// The remote core's local view now tracks the global state.
	cur, ok := reader.CurrentState()
	require.True(t, ok)
	assert.Equal(t, StateScanning, cur)
}

func TestDuplicateDeliveryPathsCollapse(t *testing.T) {
	mr := miniredis.RunT(t)
	writer := newTestCore(t, mr, "vision_processor")
	reader := newTestCore(t, mr, "alert_manager")
	ctx := context.Background()

	var mu sync.Mutex
	calls := 0
	reader.SubscribeState(func(Snapshot) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return nil
	})

	_, err := writer.SetState(ctx, StateScanning, "camera up", "", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, 3*time.Second, 10*time.Millisecond)

	// The same transition arriving again over the keyspace-event path must
	// not be re-dispatched.
	reader.listener.handleKeyEvent(ctx, stateKey, "hset")

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls, "duplicate delivery of one transition must collapse")
}

func TestWriterDoesNotReDispatchItsOwnEcho(t *testing.T) {
	mr := miniredis.RunT(t)
	core := newTestCore(t, mr, "vision_processor")
	ctx := context.Background()

	var mu sync.Mutex
	calls := 0
	core.SubscribeState(func(Snapshot) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return nil
	})

	_, err := core.SetState(ctx, StateScanning, "camera up", "", nil)
	require.NoError(t, err)

	// The local dispatch fires synchronously; the broadcast echo arrives on
	// the listener shortly after and must be recognized as already current.
	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls, "a writer must see its own transition exactly once")
}

func TestStateKeyEventWithNoSubscribersIsHarmless(t *testing.T) {
	mr := miniredis.RunT(t)
	core := newTestCore(t, mr, "vision_processor")
	ctx := context.Background()

	// No state was ever written; the event re-read finds nothing.
	core.listener.handleKeyEvent(ctx, stateKey, "hset")
	assert.Nil(t, core.CurrentSnapshot())
}
