package safeguard

import (
	"time"

	"github.com/google/uuid"
)

// TimeWindow bounds an analysis period. From is inclusive, To exclusive.
type TimeWindow struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Duration returns the window length.
func (w TimeWindow) Duration() time.Duration {
	return w.To.Sub(w.From)
}

// Contains reports whether t falls inside the window.
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

// ContactAction is the kind of change attempted on the protected user's
// contact list.
type ContactAction string

const (
	ContactAdded    ContactAction = "added"
	ContactModified ContactAction = "modified"
	ContactDeleted  ContactAction = "deleted"
	ContactBlocked  ContactAction = "blocked"
)

// ContactEvent is one contact-modification attempt by the caregiver.
type ContactEvent struct {
	Action      ContactAction `json:"action"`
	ContactName string        `json:"contact_name"`
	// Frequent marks contacts the user communicates with regularly; removing
	// or blocking them is a signal of isolation.
	Frequent   bool      `json:"frequent"`
	OccurredAt time.Time `json:"occurred_at"`
}

// PermissionEvent is one permission change performed by the caregiver.
type PermissionEvent struct {
	Permission string `json:"permission"`
	Granted    bool   `json:"granted"`
	// Baseline marks permissions that were part of the caregiver's original
	// grant; non-baseline grants are escalations.
	Baseline   bool      `json:"baseline"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EmergencyInteraction is the kind of interaction with emergency features.
type EmergencyInteraction string

const (
	EmergencyTriggered    EmergencyInteraction = "triggered"
	EmergencyCancelled    EmergencyInteraction = "cancelled"
	EmergencyConfigChange EmergencyInteraction = "config_change"
)

// EmergencyEvent is one caregiver interaction with the emergency subsystem.
type EmergencyEvent struct {
	Kind       EmergencyInteraction `json:"kind"`
	Detail     string               `json:"detail,omitempty"`
	OccurredAt time.Time            `json:"occurred_at"`
}

// BehaviorSnapshot is the pre-aggregated caregiver activity record the
// evaluation pipeline consumes. It is constructed fresh per evaluation by the
// snapshot provider and never persisted by this engine.
type BehaviorSnapshot struct {
	CaregiverID uuid.UUID `json:"caregiver_id"`
	UserID      uuid.UUID `json:"user_id"`
	Window      TimeWindow

	ContactEvents    []ContactEvent    `json:"contact_events"`
	PermissionEvents []PermissionEvent `json:"permission_events"`
	EmergencyEvents  []EmergencyEvent  `json:"emergency_events"`

	// PriorAssessments are recent assessments for the same pair, newest last.
	PriorAssessments []*Assessment `json:"prior_assessments,omitempty"`
}

// EventCount returns the total number of raw events in the snapshot.
func (s *BehaviorSnapshot) EventCount() int {
	return len(s.ContactEvents) + len(s.PermissionEvents) + len(s.EmergencyEvents)
}

// EventTimes returns the timestamps of every raw event, unordered.
func (s *BehaviorSnapshot) EventTimes() []time.Time {
	times := make([]time.Time, 0, s.EventCount())
	for _, e := range s.ContactEvents {
		times = append(times, e.OccurredAt)
	}
	for _, e := range s.PermissionEvents {
		times = append(times, e.OccurredAt)
	}
	for _, e := range s.EmergencyEvents {
		times = append(times, e.OccurredAt)
	}
	return times
}
