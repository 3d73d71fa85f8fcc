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

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// SetState transitions the global operational state. The transition is
// validated and applied locally first (permission table, transition graph,
// local callbacks), then written to the state key, broadcast on the
// state-change channel and appended to the durable history.
//
// A non-nil snapshot with a non-nil error means the transition was accepted
// locally but could not be fully propagated; the error is a
// *ConnectivityError callers may retry by re-announcing the state.
func (c *Core) SetState(ctx context.Context, state State, message, pilotID string, data map[string]interface{}) (*Snapshot, error) {
	return c.setState(ctx, state, message, pilotID, data, false)
}

// ForceState is SetState bypassing the permission table and the transition
// graph. Recovery tooling only; every use is logged as an emergency
// override.
func (c *Core) ForceState(ctx context.Context, state State, message, pilotID string, data map[string]interface{}) (*Snapshot, error) {
	return c.setState(ctx, state, message, pilotID, data, true)
}

func (c *Core) setState(ctx context.Context, state State, message, pilotID string, data map[string]interface{}, force bool) (*Snapshot, error) {
	// Catch unserializable data before the local transition is committed.
	if data != nil {
		if _, err := json.Marshal(data); err != nil {
			return nil, &ValidationError{Reason: "state data not serializable: " + err.Error()}
		}
	}

	snap, err := c.state.Transition(state, message, pilotID, data, force)
	if err != nil {
		return nil, err
	}
	if err := c.writeState(ctx, snap); err != nil {
		return snap, err
	}
	return snap, nil
}

// writeState propagates an accepted snapshot: state key for late readers,
// broadcast channel for live subscribers in other processes, capped history
// list for audits. A failed broadcast is logged but not fatal since the
// keyspace event covers the same transition.
func (c *Core) writeState(ctx context.Context, snap *Snapshot) error {
	hash, err := snap.hashFields()
	if err != nil {
		return err
	}
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, stateKey)
	pipe.HSet(ctx, stateKey, hash)
	if _, err := pipe.Exec(ctx); err != nil {
		zap.S().Errorf("failed to write state key: %s", err)
		return &ConnectivityError{Op: "write state", Err: err}
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return &ValidationError{Reason: "snapshot not serializable: " + err.Error()}
	}
	if err := c.client.Publish(ctx, stateChannel, payload).Err(); err != nil {
		zap.S().Errorf("failed to broadcast state change: %s", err)
	}

	hist := c.client.TxPipeline()
	hist.LPush(ctx, stateHistoryKey, payload)
	hist.LTrim(ctx, stateHistoryKey, 0, int64(c.cfg.HistoryLimit-1))
	if _, err := hist.Exec(ctx); err != nil {
		zap.S().Errorf("failed to update state history: %s", err)
		return &ConnectivityError{Op: "write state history", Err: err}
	}
	return nil
}

// readStateKey loads the snapshot stored at the state key, nil when no state
// has been written yet.
func (c *Core) readStateKey(ctx context.Context) (*Snapshot, error) {
	raw, err := c.client.HGetAll(ctx, stateKey).Result()
	if err != nil {
		return nil, &ConnectivityError{Op: "read state", Err: err}
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return snapshotFromHash(raw), nil
}

// StateHistory reads back up to limit snapshots from the durable history
// list, newest first. limit <= 0 reads the full retained history. Entries
// that no longer parse are skipped.
func (c *Core) StateHistory(ctx context.Context, limit int) ([]Snapshot, error) {
	if limit <= 0 || limit > c.cfg.HistoryLimit {
		limit = c.cfg.HistoryLimit
	}
	payloads, err := c.client.LRange(ctx, stateHistoryKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, &ConnectivityError{Op: "read state history", Err: err}
	}
	history := make([]Snapshot, 0, len(payloads))
	for _, payload := range payloads {
		var snap Snapshot
		if err := json.Unmarshal([]byte(payload), &snap); err != nil {
			zap.S().Warnf("skipping unparseable state history entry: %s", err)
			continue
		}
		history = append(history, snap)
	}
	return history, nil
}
