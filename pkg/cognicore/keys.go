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

import "strings"

// Namespace is the fixed key prefix shared by every process in the fleet.
const Namespace = "cognicore"

const (
	dataKeyPrefix   = Namespace + ":data:"
	stateKey        = Namespace + ":state"
	stateHistoryKey = Namespace + ":state_history"
	stateChannel    = Namespace + ":state_changes"
)

func dataKey(name string) string {
	return dataKeyPrefix + name
}

// Records whose names match these patterns survive process churn via Redis
// persistence (RDB/AOF) instead of expiring with the record TTL.
var (
	durablePrefixes = []string{
		"pilot_cache:", // cached pilot profiles
		"embedding:",   // face embeddings
	}
	durableNames = []string{
		"network_outbox", // telemetry queued while offline
	}
)

// ClassifyPersistence reports whether records named name are durable. It is a
// pure function of the name: matched is true when the name hit one of the
// known durable patterns, in which case the classification is authoritative
// and caller intent is ignored. Callers may only request durability for names
// the classifier does not recognize.
func ClassifyPersistence(name string) (durable bool, matched bool) {
	for _, prefix := range durablePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true, true
		}
	}
	for _, exact := range durableNames {
		if name == exact {
			return true, true
		}
	}
	return false, false
}
