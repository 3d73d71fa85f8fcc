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
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Publish writes the full field set of a record, replacing any prior value.
// Persistence class is derived from the record name: names matching a durable
// pattern never expire, everything else gets the configured TTL. timestamp
// and service metadata are injected on every write.
func (c *Core) Publish(ctx context.Context, name string, fields Fields) error {
	return c.publish(ctx, name, fields, false)
}

// PublishDurable is Publish with a request to skip the TTL. The name-pattern
// classification still wins when the name matches a known pattern; the
// request only applies to names the classifier does not recognize.
func (c *Core) PublishDurable(ctx context.Context, name string, fields Fields) error {
	return c.publish(ctx, name, fields, true)
}

func (c *Core) publish(ctx context.Context, name string, fields Fields, wantDurable bool) error {
	if name == "" {
		return &ValidationError{Reason: "record name must be non-empty"}
	}
	if fields == nil {
		return &ValidationError{Reason: "fields must be a map"}
	}

	durable, matched := ClassifyPersistence(name)
	if !matched {
		durable = wantDurable
	}

	encoded := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		ev, err := encodeValue(v)
		if err != nil {
			return &ValidationError{Reason: fmt.Sprintf("field %q not serializable: %v", k, err)}
		}
		encoded[k] = ev
	}
	encoded["timestamp"] = epochSeconds(time.Now())
	encoded["service"] = c.service

	key := dataKey(name)
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, encoded)
	if !durable {
		pipe.Expire(ctx, key, c.cfg.RecordTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		zap.S().Errorf("failed to publish record %s: %s", name, err)
		return &ConnectivityError{Op: "publish " + name, Err: err}
	}
	return nil
}

// Get reads the full field set of a record. A missing record (expired or
// never written) returns nil, nil: absence is a normal outcome, not an
// error.
func (c *Core) Get(ctx context.Context, name string) (Fields, error) {
	if name == "" {
		return nil, &ValidationError{Reason: "record name must be non-empty"}
	}
	raw, err := c.client.HGetAll(ctx, dataKey(name)).Result()
	if err != nil {
		zap.S().Errorf("failed to get record %s: %s", name, err)
		return nil, &ConnectivityError{Op: "get " + name, Err: err}
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return decodeFields(raw), nil
}

// Delete removes a record explicitly. Durable records live until this is
// called; ephemeral records normally just expire.
func (c *Core) Delete(ctx context.Context, name string) error {
	if name == "" {
		return &ValidationError{Reason: "record name must be non-empty"}
	}
	if err := c.client.Del(ctx, dataKey(name)).Err(); err != nil {
		return &ConnectivityError{Op: "delete " + name, Err: err}
	}
	return nil
}

// encodeValue prepares one field value for hash storage: strings pass through
// verbatim, everything else is JSON-encoded.
func encodeValue(v interface{}) (interface{}, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// decodeFields reverses encodeValue per field. A value that does not parse as
// JSON is kept as its raw string, so a partially corrupt record stays
// partially usable.
func decodeFields(raw map[string]string) Fields {
	fields := make(Fields, len(raw))
	for k, v := range raw {
		var out interface{}
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			fields[k] = v
			continue
		}
		fields[k] = out
	}
	return fields
}

// Stats summarizes this core's view of the shared-state layer.
type Stats struct {
	Connected         bool
	RedisVersion      string
	MemoryUsed        string
	TotalKeys         int
	RecordSubscribers int
	StateSubscribers  int
	Service           string
}

// CoreStats collects usage statistics for debugging dashboards.
func (c *Core) CoreStats(ctx context.Context) (Stats, error) {
	records, state := c.registry.counts()
	stats := Stats{
		RecordSubscribers: records,
		StateSubscribers:  state,
		Service:           c.service,
	}

	keys, err := c.client.Keys(ctx, Namespace+":*").Result()
	if err != nil {
		return stats, &ConnectivityError{Op: "stats", Err: err}
	}
	stats.Connected = true
	stats.TotalKeys = len(keys)

	if info, err := c.client.Info(ctx).Result(); err == nil {
		stats.RedisVersion = infoField(info, "redis_version")
		stats.MemoryUsed = infoField(info, "used_memory_human")
	}
	return stats, nil
}

// ClearAll deletes every key under the namespace. Test and debug tooling
// only.
func (c *Core) ClearAll(ctx context.Context) error {
	keys, err := c.client.Keys(ctx, Namespace+":*").Result()
	if err != nil {
		return &ConnectivityError{Op: "clear", Err: err}
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return &ConnectivityError{Op: "clear", Err: err}
	}
	zap.S().Infof("cleared %d %s keys", len(keys), Namespace)
	return nil
}

// infoField extracts one "key:value" line from an INFO response.
func infoField(info, field string) string {
	for _, line := range strings.Split(info, "\n") {
		if strings.HasPrefix(line, field+":") {
			return strings.TrimSpace(strings.TrimPrefix(line, field+":"))
		}
	}
	return ""
}
