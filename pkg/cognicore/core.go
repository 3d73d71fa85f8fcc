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

	"github.com/go-redis/redis/v8"
	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

// Fields is the flat field set of one record.
type Fields map[string]interface{}

// Core is one process's handle on the shared-state layer. Construct exactly
// one per process with New and pass it to every component that needs it; Core
// is safe for concurrent use.
type Core struct {
	service  string
	cfg      Config
	client   *redis.Client
	sub      *redis.Client
	registry *subscriberRegistry
	state    *StateManager
	listener *listener
}

// New connects to the backing store and starts the change-notification
// listener. serviceName is the writer identity stamped on every record and
// consulted by the state permission table.
//
// Failure to enable keyspace notifications is fatal: multiple services'
// correctness depends on live updates, so degrading silently to "no change
// events" is not an option. Set Config.AssumeEventsEnabled when the server
// forbids CONFIG SET and has the events enabled out of band.
func New(ctx context.Context, serviceName string, cfg Config) (*Core, error) {
	if serviceName == "" {
		return nil, &ValidationError{Reason: "service name must be non-empty"}
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.RecordTTL <= 0 {
		cfg.RecordTTL = DefaultRecordTTL
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = DefaultConnectionTimeout
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	client := redis.NewClient(&redis.Options{
		Addr:               addr,
		DB:                 cfg.DB,
		DialTimeout:        cfg.ConnectionTimeout,
		ReadTimeout:        cfg.ConnectionTimeout,
		WriteTimeout:       cfg.ConnectionTimeout,
		PoolSize:           cfg.PoolSize,
		IdleCheckFrequency: cfg.HealthCheckInterval,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, &ConnectivityError{Op: "connect", Err: err}
	}

	// The listener gets its own connection so a blocking subscribe never
	// starves ordinary reads and writes.
	sub := redis.NewClient(&redis.Options{
		Addr:        addr,
		DB:          cfg.DB,
		DialTimeout: cfg.ConnectionTimeout,
	})

	if !cfg.AssumeEventsEnabled {
		// K = keyspace events, g = generic (DEL), h = hash commands,
		// x = expired. Without g and x, record disappearance would be
		// invisible to subscribers.
		if err := client.ConfigSet(ctx, "notify-keyspace-events", "Kghx").Err(); err != nil {
			_ = client.Close()
			_ = sub.Close()
			return nil, &ConnectivityError{Op: "enable keyspace notifications", Err: err}
		}
	}

	c := &Core{
		service:  serviceName,
		cfg:      cfg,
		client:   client,
		sub:      sub,
		registry: newSubscriberRegistry(),
	}
	c.state = NewStateManager(serviceName, cfg.HistoryLimit, c.registry.dispatchState)
	c.listener = newListener(c)
	if err := c.listener.start(ctx); err != nil {
		_ = client.Close()
		_ = sub.Close()
		return nil, err
	}

	zap.S().Infof("cognicore [%s] connected to redis at %s (db %d)", serviceName, addr, cfg.DB)
	return c, nil
}

// Service returns the writer identity this core was constructed with.
func (c *Core) Service() string {
	return c.service
}

// SubscribeRecord registers cb for change notifications on the named record.
// The returned handle is passed to Unsubscribe.
func (c *Core) SubscribeRecord(name string, cb RecordCallback) Subscription {
	return c.registry.subscribeRecord(name, cb)
}

// SubscribeState registers cb for every accepted state transition, local or
// remote.
func (c *Core) SubscribeState(cb StateCallback) Subscription {
	return c.registry.subscribeState(cb)
}

// Unsubscribe removes a registration. Unknown handles are a no-op.
func (c *Core) Unsubscribe(sub Subscription) {
	c.registry.unsubscribe(sub)
}

// StateManager exposes the in-process state machine for direct reads.
func (c *Core) StateManager() *StateManager {
	return c.state
}

// CurrentSnapshot returns the current local state snapshot, nil before the
// first observed transition.
func (c *Core) CurrentSnapshot() *Snapshot {
	return c.state.Current()
}

// CurrentState returns the current state enum; ok is false before the first
// observed transition.
func (c *Core) CurrentState() (State, bool) {
	return c.state.CurrentState()
}

// History returns up to limit recent local snapshots, oldest first.
func (c *Core) History(limit int) []Snapshot {
	return c.state.History(limit)
}

// HealthCheck returns a check that pings the backing store, for registration
// with a healthcheck handler.
func (c *Core) HealthCheck() healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectionTimeout)
		defer cancel()
		return c.client.Ping(ctx).Err()
	}
}

// Connected reports whether the backing store currently answers pings.
func (c *Core) Connected(ctx context.Context) bool {
	return c.client.Ping(ctx).Err() == nil
}

// Shutdown stops the listener and closes both connections. The listener join
// is bounded; shutdown proceeds (with a warning) even if it does not exit in
// time.
func (c *Core) Shutdown() {
	zap.S().Infof("cognicore [%s] shutting down", c.service)
	c.listener.stop()
	if err := c.sub.Close(); err != nil {
		zap.S().Errorf("error closing subscriber connection: %s", err)
	}
	if err := c.client.Close(); err != nil {
		zap.S().Errorf("error closing redis client: %s", err)
	}
	zap.S().Infof("cognicore [%s] shutdown complete", c.service)
}
