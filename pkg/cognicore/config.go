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
	"time"

	"github.com/united-manufacturing-hub/umh-utils/env"
)

// Defaults for the environment-sourced configuration surface.
const (
	DefaultRedisHost           = "localhost"
	DefaultRedisPort           = 6379
	DefaultConnectionTimeout   = 5 * time.Second
	DefaultRecordTTL           = 300 * time.Second
	DefaultHistoryLimit        = 1000
	DefaultHealthCheckInterval = 30 * time.Second
	DefaultPoolSize            = 10
)

// Config holds the backing-store connection settings. All fields have
// defaults; services normally obtain one via LoadConfig and tests construct
// one directly.
type Config struct {
	Host                string
	Port                int
	DB                  int
	ConnectionTimeout   time.Duration
	RecordTTL           time.Duration
	HistoryLimit        int
	HealthCheckInterval time.Duration
	PoolSize            int

	// AssumeEventsEnabled skips the CONFIG SET enabling keyspace
	// notifications at startup. Managed Redis deployments forbid CONFIG;
	// setting this asserts that notify-keyspace-events already covers hash
	// writes, generic commands and expiry on the server side.
	AssumeEventsEnabled bool
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Host:                DefaultRedisHost,
		Port:                DefaultRedisPort,
		DB:                  0,
		ConnectionTimeout:   DefaultConnectionTimeout,
		RecordTTL:           DefaultRecordTTL,
		HistoryLimit:        DefaultHistoryLimit,
		HealthCheckInterval: DefaultHealthCheckInterval,
		PoolSize:            DefaultPoolSize,
	}
}

// LoadConfig reads the configuration from the environment, falling back to
// the defaults for anything unset. REDIS_TIMEOUT, REDIS_TTL and
// REDIS_HEALTH_CHECK are in seconds.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	host, err := env.GetAsString("REDIS_HOST", false, cfg.Host)
	if err != nil {
		return cfg, err
	}
	cfg.Host = host

	port, err := env.GetAsInt("REDIS_PORT", false, cfg.Port)
	if err != nil {
		return cfg, err
	}
	cfg.Port = port

	db, err := env.GetAsInt("REDIS_DB", false, cfg.DB)
	if err != nil {
		return cfg, err
	}
	cfg.DB = db

	timeoutSec, err := env.GetAsInt("REDIS_TIMEOUT", false, int(cfg.ConnectionTimeout/time.Second))
	if err != nil {
		return cfg, err
	}
	cfg.ConnectionTimeout = time.Duration(timeoutSec) * time.Second

	ttlSec, err := env.GetAsInt("REDIS_TTL", false, int(cfg.RecordTTL/time.Second))
	if err != nil {
		return cfg, err
	}
	cfg.RecordTTL = time.Duration(ttlSec) * time.Second

	historyLimit, err := env.GetAsInt("STATE_HISTORY_LIMIT", false, cfg.HistoryLimit)
	if err != nil {
		return cfg, err
	}
	cfg.HistoryLimit = historyLimit

	healthSec, err := env.GetAsInt("REDIS_HEALTH_CHECK", false, int(cfg.HealthCheckInterval/time.Second))
	if err != nil {
		return cfg, err
	}
	cfg.HealthCheckInterval = time.Duration(healthSec) * time.Second

	poolSize, err := env.GetAsInt("REDIS_POOL_SIZE", false, cfg.PoolSize)
	if err != nil {
		return cfg, err
	}
	cfg.PoolSize = poolSize

	assume, err := env.GetAsBool("REDIS_ASSUME_EVENTS_ENABLED", false, false)
	if err != nil {
		return cfg, err
	}
	cfg.AssumeEventsEnabled = assume

	return cfg, nil
}
