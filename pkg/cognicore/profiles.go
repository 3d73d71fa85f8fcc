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

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// PilotProfile is the cached profile of one pilot.
type PilotProfile struct {
	ID                     string                 `json:"id"`
	Name                   string                 `json:"name"`
	FlightHours            float64                `json:"flightHours"`
	Baseline               map[string]interface{} `json:"baseline"`
	EnvironmentPreferences map[string]interface{} `json:"environmentPreferences"`
}

const activePilotRecord = "active_pilot"

func pilotCacheRecord(id string) string {
	return "pilot_cache:" + id
}

// SetActivePilot publishes the active-pilot record. The record is ephemeral:
// the pilot must be re-announced while present, and the slot frees itself via
// TTL when recognition stops.
func (c *Core) SetActivePilot(ctx context.Context, profile PilotProfile) error {
	if profile.ID == "" {
		return &ValidationError{Reason: "pilot profile must have an id"}
	}
	err := c.Publish(ctx, activePilotRecord, Fields{
		"pilot_id":               profile.ID,
		"profile_loaded":         true,
		"loaded_by":              c.service,
		"name":                   profile.Name,
		"flightHours":            profile.FlightHours,
		"baseline":               profile.Baseline,
		"environmentPreferences": profile.EnvironmentPreferences,
	})
	if err != nil {
		return err
	}
	zap.S().Infof("set active pilot profile: %s", profile.ID)
	return nil
}

// CachePilotProfile stores a profile under its durable cache record so it
// survives restarts and offline periods.
func (c *Core) CachePilotProfile(ctx context.Context, profile PilotProfile) error {
	if profile.ID == "" {
		return &ValidationError{Reason: "pilot profile must have an id"}
	}
	return c.Publish(ctx, pilotCacheRecord(profile.ID), Fields{
		"profile_data": profile,
	})
}

// ActivePilotID returns the id of the currently active pilot, "" when no
// pilot is active or the slot was cleared.
func (c *Core) ActivePilotID(ctx context.Context) (string, error) {
	fields, err := c.Get(ctx, activePilotRecord)
	if err != nil {
		return "", err
	}
	if fields == nil {
		return "", nil
	}
	// Tolerate numeric ids written by older services.
	id := strings.TrimSpace(fmt.Sprintf("%v", fields["pilot_id"]))
	if id == "" || id == "<nil>" {
		return "", nil
	}
	return id, nil
}

// PilotProfileByID loads a profile, preferring the durable cache and falling
// back to a matching active-pilot record. nil, nil when the pilot is
// unknown.
func (c *Core) PilotProfileByID(ctx context.Context, id string) (*PilotProfile, error) {
	if id == "" {
		return nil, &ValidationError{Reason: "pilot id must be non-empty"}
	}

	cached, err := c.Get(ctx, pilotCacheRecord(id))
	if err != nil {
		return nil, err
	}
	if cached != nil {
		if profile := profileFromValue(cached["profile_data"]); profile != nil {
			return profile, nil
		}
		zap.S().Errorf("unparseable cached profile data for pilot %s", id)
	}

	active, err := c.Get(ctx, activePilotRecord)
	if err != nil {
		return nil, err
	}
	if active != nil && fmt.Sprintf("%v", active["pilot_id"]) == id {
		if profile := profileFromActiveFields(id, active); profile != nil {
			return profile, nil
		}
	}
	return nil, nil
}

// ActivePilotProfile loads the profile of the currently active pilot, nil
// when nobody is active.
func (c *Core) ActivePilotProfile(ctx context.Context) (*PilotProfile, error) {
	id, err := c.ActivePilotID(ctx)
	if err != nil || id == "" {
		return nil, err
	}
	return c.PilotProfileByID(ctx, id)
}

// ClearActivePilot overwrites the active-pilot record with an empty pilot id
// rather than deleting it, so the change event carries the handover to
// subscribers immediately instead of waiting for expiry.
func (c *Core) ClearActivePilot(ctx context.Context, reason string) error {
	err := c.Publish(ctx, activePilotRecord, Fields{
		"pilot_id": "",
		"cleared":  true,
		"reason":   reason,
	})
	if err != nil {
		return err
	}
	zap.S().Infof("active pilot cleared (%s)", reason)
	return nil
}

// profileFromValue rebuilds a profile from the decoded profile_data field.
func profileFromValue(v interface{}) *PilotProfile {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var profile PilotProfile
	if err := json.Unmarshal(raw, &profile); err != nil || profile.ID == "" {
		return nil
	}
	return &profile
}

// profileFromActiveFields rebuilds a profile from the flat active-pilot
// record fields.
func profileFromActiveFields(id string, fields Fields) *PilotProfile {
	profile := &PilotProfile{ID: id}
	if name, ok := fields["name"].(string); ok {
		profile.Name = name
	}
	if hours, ok := fields["flightHours"].(float64); ok {
		profile.FlightHours = hours
	}
	if baseline, ok := fields["baseline"].(map[string]interface{}); ok {
		profile.Baseline = baseline
	}
	if prefs, ok := fields["environmentPreferences"].(map[string]interface{}); ok {
		profile.EnvironmentPreferences = prefs
	}
	if profile.Name == "" && profile.FlightHours == 0 {
		return nil
	}
	return profile
}
