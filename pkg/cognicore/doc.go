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

// Package cognicore is the Redis-backed communication layer shared by every
// CogniFlight Edge service. Services publish the latest value of a logical
// signal as a named hash record, subscribe to change notifications for the
// records they care about, and coordinate on a single global operational
// state through a permissioned state machine.
//
// Records live under cognicore:data:<name> and carry injected timestamp and
// service metadata. Records expire after a TTL unless their name matches one
// of the durable patterns (pilot caches, the network outbox, face
// embeddings). The current operational state lives at cognicore:state, with a
// capped durable history at cognicore:state_history.
//
// Change delivery is at-least-once: state transitions reach subscribers both
// through Redis keyspace notifications and through the cognicore:state_changes
// broadcast channel, so a subscriber may observe the same snapshot twice.
// Callbacks must be idempotent.
package cognicore
