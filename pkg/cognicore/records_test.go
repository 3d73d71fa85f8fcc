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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishGetRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	core := newTestCore(t, mr, "hr_monitor")
	ctx := context.Background()

	err := core.Publish(ctx, "hr_sensor", Fields{
		"hr":        72,
		"rri":       []interface{}{812.0, 798.0},
		"sensor":    "XOSS-X2",
		"connected": true,
	})
	require.NoError(t, err)

	fields, err := core.Get(ctx, "hr_sensor")
	require.NoError(t, err)
	require.NotNil(t, fields)

	// JSON numbers come back as float64.
	assert.Equal(t, float64(72), fields["hr"])
	assert.Equal(t, []interface{}{812.0, 798.0}, fields["rri"])
	assert.Equal(t, "XOSS-X2", fields["sensor"])
	assert.Equal(t, true, fields["connected"])

	// Injected metadata.
	assert.Equal(t, "hr_monitor", fields["service"])
	ts, ok := fields["timestamp"].(float64)
	require.True(t, ok)
	assert.InDelta(t, epochSeconds(time.Now()), ts, 5)
}

func TestPublishReplacesFieldSet(t *testing.T) {
	mr := miniredis.RunT(t)
	core := newTestCore(t, mr, "env_monitor")
	ctx := context.Background()

	require.NoError(t, core.Publish(ctx, "env", Fields{"temp": 21.5, "humidity": 40}))
	require.NoError(t, core.Publish(ctx, "env", Fields{"temp": 22.0}))

	fields, err := core.Get(ctx, "env")
	require.NoError(t, err)
	assert.Equal(t, 22.0, fields["temp"])
	// No partial merge: the stale humidity field is gone.
	assert.NotContains(t, fields, "humidity")
}

func TestGetAbsentIsNotAnError(t *testing.T) {
	mr := miniredis.RunT(t)
	core := newTestCore(t, mr, "predictor")

	fields, err := core.Get(context.Background(), "never_written")
	require.NoError(t, err)
	assert.Nil(t, fields)
}

func TestPublishValidation(t *testing.T) {
	mr := miniredis.RunT(t)
	core := newTestCore(t, mr, "predictor")
	ctx := context.Background()

	var valErr *ValidationError
	require.ErrorAs(t, core.Publish(ctx, "", Fields{"a": 1}), &valErr)
	require.ErrorAs(t, core.Publish(ctx, "vision", nil), &valErr)
	require.ErrorAs(t, core.Publish(ctx, "vision", Fields{"bad": make(chan int)}), &valErr)

	_, err := core.Get(ctx, "")
	require.ErrorAs(t, err, &valErr)
}

func TestEphemeralRecordExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	core := newTestCore(t, mr, "vision_processor")
	ctx := context.Background()

	require.NoError(t, core.Publish(ctx, "vision", Fields{"ear": 0.25}))

	ttl := core.client.TTL(ctx, dataKey("vision")).Val()
	assert.Greater(t, ttl, time.Duration(0), "ephemeral records carry a TTL")

	mr.FastForward(core.cfg.RecordTTL + time.Second)
	fields, err := core.Get(ctx, "vision")
	require.NoError(t, err)
	assert.Nil(t, fields, "expired record reads back as absent")
}

func TestDurableRecordNeverExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	core := newTestCore(t, mr, "https_client")
	ctx := context.Background()

	require.NoError(t, core.Publish(ctx, "pilot_cache:123", Fields{"profile": "x"}))
	require.NoError(t, core.Publish(ctx, "network_outbox", Fields{"queued": 3}))

	mr.FastForward(core.cfg.RecordTTL * 2)

	for _, name := range []string{"pilot_cache:123", "network_outbox"} {
		fields, err := core.Get(ctx, name)
		require.NoError(t, err)
		assert.NotNil(t, fields, "durable record %s must survive the TTL window", name)
	}
}

func TestDurabilityRequestOnlyAppliesToUnmatchedNames(t *testing.T) {
	mr := miniredis.RunT(t)
	core := newTestCore(t, mr, "network_connector")
	ctx := context.Background()

	// Unmatched name: the caller's request wins.
	require.NoError(t, core.PublishDurable(ctx, "calibration", Fields{"offset": 1.5}))
	assert.Less(t, core.client.TTL(ctx, dataKey("calibration")).Val(), time.Duration(0))

	// Matched name: classification is authoritative, caller intent ignored.
	require.NoError(t, core.PublishDurable(ctx, "vision", Fields{"ear": 0.1}))
	_ = core.Publish(ctx, "vision", Fields{"ear": 0.1})
	assert.Greater(t, core.client.TTL(ctx, dataKey("vision")).Val(), time.Duration(0))
}

func TestDeleteRecord(t *testing.T) {
	mr := miniredis.RunT(t)
	core := newTestCore(t, mr, "https_client")
	ctx := context.Background()

	require.NoError(t, core.Publish(ctx, "pilot_cache:99", Fields{"profile": "y"}))
	require.NoError(t, core.Delete(ctx, "pilot_cache:99"))

	fields, err := core.Get(ctx, "pilot_cache:99")
	require.NoError(t, err)
	assert.Nil(t, fields)
}

func TestPartiallyCorruptRecordStillReadable(t *testing.T) {
	mr := miniredis.RunT(t)
	core := newTestCore(t, mr, "predictor")
	ctx := context.Background()

	require.NoError(t, core.Publish(ctx, "fusion", Fields{"score": 0.42}))
	// Corrupt one field behind the store's back.
	mr.HSet(dataKey("fusion"), "extra", "{not json")

	fields, err := core.Get(ctx, "fusion")
	require.NoError(t, err)
	assert.Equal(t, 0.42, fields["score"])
	assert.Equal(t, "{not json", fields["extra"], "unparseable values fall back to the raw string")
}

func TestClearAll(t *testing.T) {
	mr := miniredis.RunT(t)
	core := newTestCore(t, mr, "predictor")
	ctx := context.Background()

	require.NoError(t, core.Publish(ctx, "vision", Fields{"a": 1}))
	require.NoError(t, core.Publish(ctx, "pilot_cache:1", Fields{"b": 2}))
	require.NoError(t, core.ClearAll(ctx))

	for _, name := range []string{"vision", "pilot_cache:1"} {
		fields, err := core.Get(ctx, name)
		require.NoError(t, err)
		assert.Nil(t, fields)
	}

	// Clearing an empty namespace is fine.
	require.NoError(t, core.ClearAll(ctx))
}

func TestCoreStats(t *testing.T) {
	mr := miniredis.RunT(t)
	core := newTestCore(t, mr, "predictor")
	ctx := context.Background()

	require.NoError(t, core.Publish(ctx, "vision", Fields{"a": 1}))
	core.SubscribeRecord("vision", func(string, Fields) error { return nil })
	core.SubscribeState(func(Snapshot) error { return nil })

	stats, err := core.CoreStats(ctx)
	require.NoError(t, err)
	assert.True(t, stats.Connected)
	assert.Equal(t, 1, stats.TotalKeys)
	assert.Equal(t, 1, stats.RecordSubscribers)
	assert.Equal(t, 1, stats.StateSubscribers)
	assert.Equal(t, "predictor", stats.Service)
}

func TestInfoField(t *testing.T) {
	info := "# Server\r\nredis_version:7.2.4\r\nused_memory_human:1.04M\r\n"
	assert.Equal(t, "7.2.4", infoField(info, "redis_version"))
	assert.Equal(t, "1.04M", infoField(info, "used_memory_human"))
	assert.Equal(t, "", infoField(info, "missing"))
}
