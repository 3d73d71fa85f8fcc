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
	"sync"
	"time"

	"go.uber.org/zap"
)

// StateManager serializes all transitions of the single global operational
// state within one process. It enforces the transition graph and the
// per-service permission table, keeps a bounded in-memory history, and hands
// every accepted snapshot to the notify function in acceptance order.
//
// Locking: current snapshot, history and the dispatch queue live under mu.
// Accepted snapshots (local transitions and remote installs alike) are
// appended to the queue under mu and delivered by a single draining
// goroutine holding the dispatching flag, with mu released around each
// notify call. Callbacks therefore run outside the state lock: they may
// re-enter reads, and a callback may even start a further Transition —
// the nested snapshot is queued and delivered after the one currently in
// flight, preserving acceptance order without deadlock.
type StateManager struct {
	mu sync.RWMutex

	service      string
	historyLimit int
	current      *Snapshot
	history      []Snapshot
	notify       func(Snapshot)

	// queue holds accepted snapshots not yet handed to notify, in
	// acceptance order. dispatching marks that some goroutine is draining
	// it; everyone else appends and returns.
	queue       []Snapshot
	dispatching bool
}

// NewStateManager returns a manager for the given service identity. notify
// may be nil; when set it is invoked once per accepted transition. The
// manager starts with no current state: the first transition is always
// accepted regardless of the transition graph.
func NewStateManager(service string, historyLimit int, notify func(Snapshot)) *StateManager {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &StateManager{
		service:      service,
		historyLimit: historyLimit,
		notify:       notify,
	}
}

// Transition validates and applies a state change. Unless force is set, the
// service must be permitted to set state and state must be reachable from the
// current state (self-transitions always pass). Force bypasses both checks
// and is meant for recovery tooling only.
func (m *StateManager) Transition(state State, message, pilotID string, data map[string]interface{}, force bool) (*Snapshot, error) {
	if !state.Valid() {
		return nil, &ValidationError{Reason: "unknown state " + string(state)}
	}

	m.mu.Lock()
	if !force {
		if !servicePermitted(m.service, state) {
			m.mu.Unlock()
			return nil, &PermissionError{Service: m.service, Requested: state, Allowed: AllowedStates(m.service)}
		}
		if m.current != nil && !ValidTransition(m.current.State, state) {
			from := m.current.State
			m.mu.Unlock()
			return nil, &TransitionError{From: from, To: state}
		}
	}

	snap := Snapshot{
		State:     state,
		Message:   message,
		PilotID:   pilotID,
		Timestamp: epochSeconds(time.Now()),
		Service:   m.service,
		Data:      data,
	}

	previous := "none"
	if m.current != nil {
		previous = string(m.current.State)
	}
	m.current = &snap
	m.history = append(m.history, snap)
	if len(m.history) > m.historyLimit {
		copy(m.history, m.history[len(m.history)-m.historyLimit:])
		m.history = m.history[:m.historyLimit]
	}

	if force {
		zap.S().Warnf("forced state transition: %s -> %s (service: %s)", previous, state, m.service)
	} else {
		zap.S().Infof("system state: %s -> %s (service: %s, pilot: %s)", previous, state, m.service, pilotID)
	}

	m.enqueueAndDrain(snap)
	return &snap, nil
}

// enqueueAndDrain appends one accepted snapshot to the dispatch queue and
// drains the queue unless another goroutine already is. Called with mu held;
// mu is released on return.
func (m *StateManager) enqueueAndDrain(snap Snapshot) {
	m.queue = append(m.queue, snap)
	if m.dispatching {
		// The active drainer delivers this snapshot after the one in
		// flight. This is also what makes a Transition issued from inside
		// a callback safe: it lands here and returns immediately.
		m.mu.Unlock()
		return
	}
	m.dispatching = true
	for len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		if m.notify != nil {
			m.notify(next)
		}
		m.mu.Lock()
	}
	m.dispatching = false
	m.mu.Unlock()
}

// observeRemote installs a snapshot another process accepted; validation
// already happened at the writer. Returns false when the snapshot is already
// current, which is how re-deliveries from the dual notification path are
// suppressed. An installed snapshot is queued for dispatch behind any local
// transition accepted earlier, so subscribers see one interleaved order.
func (m *StateManager) observeRemote(snap Snapshot) bool {
	m.mu.Lock()
	if m.current != nil &&
		m.current.State == snap.State &&
		m.current.Timestamp == snap.Timestamp &&
		m.current.Service == snap.Service {
		m.mu.Unlock()
		return false
	}
	m.current = &snap
	m.history = append(m.history, snap)
	if len(m.history) > m.historyLimit {
		copy(m.history, m.history[len(m.history)-m.historyLimit:])
		m.history = m.history[:m.historyLimit]
	}
	m.enqueueAndDrain(snap)
	return true
}

// Current returns a copy of the current snapshot, or nil before the first
// transition.
func (m *StateManager) Current() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil
	}
	snap := *m.current
	return &snap
}

// CurrentState returns the current state enum. ok is false before the first
// transition.
func (m *StateManager) CurrentState() (state State, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return "", false
	}
	return m.current.State, true
}

// History returns up to limit of the most recent snapshots, oldest first.
// limit <= 0 returns everything retained.
func (m *StateManager) History(limit int) []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start := 0
	if limit > 0 && len(m.history) > limit {
		start = len(m.history) - limit
	}
	return append([]Snapshot(nil), m.history[start:]...)
}

// ClearHistory drops the retained history. The current snapshot is kept.
func (m *StateManager) ClearHistory() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = nil
}
