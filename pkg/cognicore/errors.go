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

import "fmt"

// ValidationError reports caller-fixable bad input (empty record name,
// unserializable field value). It is raised before any I/O and is never worth
// retrying.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// ConnectivityError wraps a failed Redis operation. The core never retries
// internally; callers decide between retry and drop.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("redis %s failed: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// PermissionError reports that a service requested a state it is not allowed
// to set without force.
type PermissionError struct {
	Service   string
	Requested State
	Allowed   []State
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("service %q is not permitted to set state %q (allowed: %v)",
		e.Service, e.Requested, e.Allowed)
}

// TransitionError reports that the requested state is not reachable from the
// current state without force.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition %q -> %q", e.From, e.To)
}
