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
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/cogniflight-edge/cognicore/internal"
)

// listener is the per-process background receiver that turns backing-store
// events into local callback dispatch. It runs on a dedicated connection and
// consumes three feeds: keyspace events for the record namespace, keyspace
// events for the state key, and the state-change broadcast channel.
type listener struct {
	core    *Core
	pubsub  *redis.PubSub
	prefix  string // "__keyspace@<db>__:"
	stopped atomic.Bool
	done    chan struct{}
}

func newListener(c *Core) *listener {
	return &listener{
		core:   c,
		prefix: fmt.Sprintf("__keyspace@%d__:", c.cfg.DB),
		done:   make(chan struct{}),
	}
}

func (l *listener) start(ctx context.Context) error {
	l.pubsub = l.core.sub.PSubscribe(ctx,
		l.prefix+dataKeyPrefix+"*",
		l.prefix+stateKey,
	)
	// The broadcast channel exists because keyspace events are best-effort
	// on some configurations; state changes must not depend on them alone.
	if err := l.pubsub.Subscribe(ctx, stateChannel); err != nil {
		_ = l.pubsub.Close()
		return &ConnectivityError{Op: "subscribe", Err: err}
	}
	go l.run()
	zap.S().Debugf("cognicore [%s] listener started", l.core.service)
	return nil
}

// run blocks on the subscription until stop is called. Receive errors back
// off and retry; the subscription itself is re-established by the client.
func (l *listener) run() {
	defer close(l.done)
	ctx := context.Background()
	var failures int64
	for {
		msg, err := l.pubsub.ReceiveMessage(ctx)
		if err != nil {
			if l.stopped.Load() {
				return
			}
			failures++
			zap.S().Errorf("listener receive failed: %s", err)
			internal.SleepBackedOff(failures, 100*time.Millisecond, 5*time.Second)
			continue
		}
		failures = 0
		l.handle(ctx, msg)
	}
}

func (l *listener) handle(ctx context.Context, msg *redis.Message) {
	switch {
	case msg.Channel == stateChannel:
		// The payload carries the full snapshot; no extra read needed.
		var snap Snapshot
		if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
			zap.S().Errorf("malformed state change payload: %s", err)
			return
		}
		l.dispatchSnapshot(snap)
	case strings.HasPrefix(msg.Channel, l.prefix):
		key := strings.TrimPrefix(msg.Channel, l.prefix)
		l.handleKeyEvent(ctx, key, msg.Payload)
	}
}

// handleKeyEvent reacts to one keyspace notification. The payload of a
// keyspace event is the command that touched the key.
func (l *listener) handleKeyEvent(ctx context.Context, key, op string) {
	switch op {
	case "hset", "hmset", "hdel", "del", "expired":
	default:
		return
	}

	if key == stateKey {
		snap, err := l.core.readStateKey(ctx)
		if err != nil {
			zap.S().Errorf("failed to re-read state after change event: %s", err)
			return
		}
		if snap != nil {
			l.dispatchSnapshot(*snap)
		}
		return
	}

	if !strings.HasPrefix(key, dataKeyPrefix) {
		return
	}
	name := strings.TrimPrefix(key, dataKeyPrefix)
	if !l.core.registry.recordSubscribed(name) {
		return
	}
	fields, err := l.core.Get(ctx, name)
	if err != nil {
		zap.S().Errorf("failed to re-read record %s after change event: %s", name, err)
		return
	}
	// fields is nil when the record vanished; subscribers get that too.
	l.core.registry.dispatchRecord(name, fields)
}

// dispatchSnapshot installs an externally observed snapshot; the state
// manager queues it for subscriber dispatch behind any earlier local
// transition. A snapshot already current (our own write echoed back, or the
// second leg of the dual delivery path) is dropped, keeping duplicate
// deliveries bounded.
func (l *listener) dispatchSnapshot(snap Snapshot) {
	l.core.state.observeRemote(snap)
}

// stop flags the loop, closes the subscription to unblock the receive, and
// joins with a bound so process exit is never held hostage.
func (l *listener) stop() {
	l.stopped.Store(true)
	if l.pubsub != nil {
		_ = l.pubsub.Close()
	}
	select {
	case <-l.done:
	case <-time.After(2 * time.Second):
		zap.S().Warnf("listener did not shut down cleanly")
	}
}
