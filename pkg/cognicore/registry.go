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
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RecordCallback receives change notifications for one record. fields is nil
// when the record was deleted or expired; that is delivered deliberately so
// subscribers can react to disappearance. A non-nil error (or a panic) counts
// toward the subscription's failure budget.
type RecordCallback func(name string, fields Fields) error

// StateCallback receives every accepted state transition, local and remote.
// Delivery is at-least-once; callbacks must tolerate duplicate snapshots.
type StateCallback func(snap Snapshot) error

// Subscription identifies one callback registration. Go functions are not
// comparable, so unsubscription works on the handle returned at registration
// time rather than on the callback value itself.
type Subscription string

// maxCallbackFailures is the number of consecutive failures after which a
// subscription is deregistered.
const maxCallbackFailures = 5

type recordSub struct {
	id       Subscription
	name     string
	cb       RecordCallback
	failures int
}

type stateSub struct {
	id       Subscription
	cb       StateCallback
	failures int
}

// subscriberRegistry tracks callback registrations for record-change and
// state-change events and isolates callback failures from each other and from
// the publisher. Dispatch order is registration order.
type subscriberRegistry struct {
	mu      sync.RWMutex
	records map[string][]*recordSub
	state   []*stateSub
}

func newSubscriberRegistry() *subscriberRegistry {
	return &subscriberRegistry{
		records: make(map[string][]*recordSub),
	}
}

func (r *subscriberRegistry) subscribeRecord(name string, cb RecordCallback) Subscription {
	id := Subscription(uuid.NewString())
	r.mu.Lock()
	r.records[name] = append(r.records[name], &recordSub{id: id, name: name, cb: cb})
	r.mu.Unlock()
	zap.S().Debugf("subscribed to record %s changes", name)
	return id
}

func (r *subscriberRegistry) subscribeState(cb StateCallback) Subscription {
	id := Subscription(uuid.NewString())
	r.mu.Lock()
	r.state = append(r.state, &stateSub{id: id, cb: cb})
	r.mu.Unlock()
	return id
}

// unsubscribe removes the registration behind id. Unknown or already-removed
// handles are a no-op.
func (r *subscriberRegistry) unsubscribe(id Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, subs := range r.records {
		for i, s := range subs {
			if s.id == id {
				r.records[name] = append(subs[:i], subs[i+1:]...)
				if len(r.records[name]) == 0 {
					delete(r.records, name)
				}
				return
			}
		}
	}
	for i, s := range r.state {
		if s.id == id {
			r.state = append(r.state[:i], r.state[i+1:]...)
			return
		}
	}
}

// recordSubscribed reports whether any callback is registered for the exact
// record name. The listener uses this to skip re-reads nobody wants.
func (r *subscriberRegistry) recordSubscribed(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records[name]) > 0
}

func (r *subscriberRegistry) counts() (records, state int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, subs := range r.records {
		records += len(subs)
	}
	return records, len(r.state)
}

func (r *subscriberRegistry) dispatchRecord(name string, fields Fields) {
	r.mu.RLock()
	subs := append([]*recordSub(nil), r.records[name]...)
	r.mu.RUnlock()

	for _, s := range subs {
		err := invokeRecord(s.cb, name, fields)
		r.noteRecordResult(s.id, name, err)
	}
}

func (r *subscriberRegistry) dispatchState(snap Snapshot) {
	r.mu.RLock()
	subs := append([]*stateSub(nil), r.state...)
	r.mu.RUnlock()

	for _, s := range subs {
		err := invokeState(s.cb, snap)
		r.noteStateResult(s.id, err)
	}
}

// invokeRecord guards one callback invocation; a panic is converted into an
// error so one misbehaving subscriber cannot stop delivery to the rest.
func invokeRecord(cb RecordCallback, name string, fields Fields) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("callback panic: %v", rec)
		}
	}()
	return cb(name, fields)
}

func invokeState(cb StateCallback, snap Snapshot) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("callback panic: %v", rec)
		}
	}()
	return cb(snap)
}

func (r *subscriberRegistry) noteRecordResult(id Subscription, name string, err error) {
	if err != nil {
		zap.S().Errorf("error in subscriber callback for record %s: %s", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := r.records[name]
	for i, s := range subs {
		if s.id != id {
			continue
		}
		if err == nil {
			s.failures = 0
			return
		}
		s.failures++
		if s.failures >= maxCallbackFailures {
			r.records[name] = append(subs[:i], subs[i+1:]...)
			if len(r.records[name]) == 0 {
				delete(r.records, name)
			}
			zap.S().Errorf("record subscriber for %s removed after %d consecutive failures", name, s.failures)
		}
		return
	}
}

func (r *subscriberRegistry) noteStateResult(id Subscription, err error) {
	if err != nil {
		zap.S().Errorf("error in state subscriber callback: %s", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.state {
		if s.id != id {
			continue
		}
		if err == nil {
			s.failures = 0
			return
		}
		s.failures++
		if s.failures >= maxCallbackFailures {
			r.state = append(r.state[:i], r.state[i+1:]...)
			zap.S().Errorf("state subscriber removed after %d consecutive failures", s.failures)
		}
		return
	}
}
