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
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// State is the global operational state of the edge system.
type State string

const (
	StateScanning         State = "scanning"          // looking for a pilot or reconnecting sensors
	StateIntruderDetected State = "intruder_detected" // unknown person in the cabin
	StateMonitoringActive State = "monitoring_active" // pilot identified, no fatigue detected
	StateAlertMild        State = "alert_mild"
	StateAlertModerate    State = "alert_moderate"
	StateAlertSevere      State = "alert_severe"
	StateAlcoholDetected  State = "alcohol_detected"
	StateSystemError      State = "system_error"
	StateSystemCrashed    State = "system_crashed" // watchdog could not recover a service
)

// States lists every valid operational state.
var States = []State{
	StateScanning,
	StateIntruderDetected,
	StateMonitoringActive,
	StateAlertMild,
	StateAlertModerate,
	StateAlertSevere,
	StateAlcoholDetected,
	StateSystemError,
	StateSystemCrashed,
}

// Valid reports whether s is one of the known operational states.
func (s State) Valid() bool {
	for _, known := range States {
		if s == known {
			return true
		}
	}
	return false
}

// transitionGraph holds the states reachable from each state in one step.
// Self-transitions are always allowed and are not listed.
var transitionGraph = map[State][]State{
	StateScanning:         {StateMonitoringActive, StateIntruderDetected, StateAlcoholDetected, StateSystemError},
	StateIntruderDetected: {StateScanning, StateAlcoholDetected, StateSystemError},
	StateMonitoringActive: {StateAlertMild, StateAlcoholDetected, StateScanning, StateSystemError},
	StateAlertMild:        {StateAlertModerate, StateMonitoringActive, StateAlcoholDetected, StateSystemError},
	StateAlertModerate:    {StateAlertSevere, StateAlertMild, StateMonitoringActive, StateAlcoholDetected, StateSystemError},
	StateAlertSevere:      {StateAlertModerate, StateMonitoringActive, StateAlcoholDetected, StateSystemError, StateSystemCrashed},
	StateAlcoholDetected:  {StateMonitoringActive, StateAlertMild, StateAlertModerate, StateAlertSevere, StateSystemError},
	StateSystemError:      {StateScanning, StateSystemCrashed},
	StateSystemCrashed:    {StateScanning},
}

// ValidTransition reports whether to is reachable from from in one step.
// A state may always re-announce itself.
func ValidTransition(from, to State) bool {
	if from == to {
		return true
	}
	for _, next := range transitionGraph[from] {
		if next == to {
			return true
		}
	}
	return false
}

// statePermissions maps each service of the fleet to the states it may set
// without force. Services not listed may set nothing.
var statePermissions = map[string][]State{
	"vision_processor":  {StateScanning, StateIntruderDetected, StateMonitoringActive, StateSystemError},
	"face_recognition":  {StateScanning, StateIntruderDetected, StateSystemError},
	"predictor":         {StateMonitoringActive, StateAlertMild, StateAlertModerate, StateAlertSevere, StateSystemError},
	"bio_monitor":       {StateAlcoholDetected, StateMonitoringActive, StateSystemError},
	"alert_manager":     {StateSystemError},
	"https_client":      {StateSystemError},
	"network_connector": {StateSystemError},
	"env_monitor":       {StateSystemError},
	"motion_controller": {StateSystemError},
	"watchdog":          {StateScanning, StateSystemError, StateSystemCrashed},
}

// AllowedStates returns the states service may set without force.
func AllowedStates(service string) []State {
	return append([]State(nil), statePermissions[service]...)
}

func servicePermitted(service string, s State) bool {
	for _, allowed := range statePermissions[service] {
		if allowed == s {
			return true
		}
	}
	return false
}

// Snapshot is an immutable capture of the global operational state at one
// instant. A transition always produces a new Snapshot; the current one is
// never edited in place.
type Snapshot struct {
	State     State                  `json:"state"`
	Message   string                 `json:"message"`
	PilotID   string                 `json:"pilot_id,omitempty"`
	Timestamp float64                `json:"timestamp"`
	Service   string                 `json:"service"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// hashFields flattens the snapshot into the field set stored at the state
// key. The free-form data map is JSON-encoded like any structured record
// value.
func (s *Snapshot) hashFields() (map[string]interface{}, error) {
	data, err := json.Marshal(s.Data)
	if err != nil {
		return nil, &ValidationError{Reason: "state data not serializable: " + err.Error()}
	}
	return map[string]interface{}{
		"state":     string(s.State),
		"message":   s.Message,
		"pilot_id":  s.PilotID,
		"timestamp": s.Timestamp,
		"service":   s.Service,
		"data":      string(data),
	}, nil
}

// snapshotFromHash rebuilds a Snapshot from the raw field set of the state
// key. Individual fields degrade independently so a partially corrupt state
// record is still usable.
func snapshotFromHash(raw map[string]string) *Snapshot {
	snap := &Snapshot{
		State:   State(raw["state"]),
		Message: raw["message"],
		PilotID: raw["pilot_id"],
		Service: raw["service"],
	}
	if ts, err := strconv.ParseFloat(raw["timestamp"], 64); err == nil {
		snap.Timestamp = ts
	}
	if encoded, ok := raw["data"]; ok && encoded != "" {
		var data map[string]interface{}
		if err := json.Unmarshal([]byte(encoded), &data); err == nil {
			snap.Data = data
		}
	}
	return snap
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
