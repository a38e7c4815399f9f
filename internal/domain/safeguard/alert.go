package safeguard

import (
	"time"

	"github.com/google/uuid"

	"github.com/caresentry/caregiver-safeguard-backend/internal/domain/errors"
)

// AlertType records what triggered an alert.
type AlertType string

const (
	AlertPatternDetected    AlertType = "pattern_detected"
	AlertThresholdExceeded  AlertType = "threshold_exceeded"
	AlertEscalationDetected AlertType = "escalation_detected"
)

// AlertStatus is the alert lifecycle state. ACTIVE is the only non-terminal
// state; RESOLVED and DISMISSED are terminal.
type AlertStatus string

const (
	AlertStatusActive    AlertStatus = "ACTIVE"
	AlertStatusResolved  AlertStatus = "RESOLVED"
	AlertStatusDismissed AlertStatus = "DISMISSED"
)

// ParseAlertStatus converts a string to an AlertStatus.
func ParseAlertStatus(s string) (AlertStatus, error) {
	switch AlertStatus(s) {
	case AlertStatusActive, AlertStatusResolved, AlertStatusDismissed:
		return AlertStatus(s), nil
	default:
		return "", errors.NewValidationError("INVALID_ALERT_STATUS", "unknown alert status: "+s)
	}
}

// NotificationRecord documents one delivery of the alert to a recipient.
type NotificationRecord struct {
	Channel   string    `json:"channel"`
	Recipient string    `json:"recipient"`
	SentAt    time.Time `json:"sent_at"`
}

// Alert is a safety alert raised against a caregiver. Status and resolution
// fields are the only mutable parts; everything else is fixed at creation.
// Invariant: resolution fields are non-nil iff status is terminal.
type Alert struct {
	ID          uuid.UUID `json:"id"`
	CaregiverID uuid.UUID `json:"caregiver_id"`
	UserID      uuid.UUID `json:"user_id"`

	Level                   RiskLevel `json:"level"`
	Type                    AlertType `json:"type"`
	Message                 string    `json:"message"`
	RecommendedActions      []string  `json:"recommended_actions"`
	RequiresImmediateAction bool      `json:"requires_immediate_action"`

	// TriggeredBy references the assessment that raised the alert. Nil for
	// alerts raised purely by escalation analysis across several assessments.
	TriggeredBy *uuid.UUID `json:"triggered_by,omitempty"`

	Status        AlertStatus          `json:"status"`
	Notifications []NotificationRecord `json:"notifications,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`

	ResolutionDetails *string    `json:"resolution_details,omitempty"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
}

// NewAlert creates an ACTIVE alert.
func NewAlert(caregiverID, userID uuid.UUID, level RiskLevel, alertType AlertType, message string) *Alert {
	return &Alert{
		ID:          uuid.New(),
		CaregiverID: caregiverID,
		UserID:      userID,
		Level:       level,
		Type:        alertType,
		Message:     message,
		Status:      AlertStatusActive,
		CreatedAt:   time.Now().UTC(),
	}
}

// IsTerminal reports whether the alert has left the ACTIVE state.
func (a *Alert) IsTerminal() bool {
	return a.Status != AlertStatusActive
}

// Resolve transitions ACTIVE -> RESOLVED. Resolution details are required;
// the transition fails with an invalid-state error on terminal alerts.
func (a *Alert) Resolve(details string, at time.Time) error {
	if a.IsTerminal() {
		return errors.ErrAlertNotActive
	}
	if details == "" {
		return errors.NewValidationError("RESOLUTION_DETAILS_REQUIRED", "resolution details cannot be empty")
	}
	a.Status = AlertStatusResolved
	a.ResolutionDetails = &details
	a.ResolvedAt = &at
	return nil
}

// Dismiss transitions ACTIVE -> DISMISSED (no action taken).
func (a *Alert) Dismiss(at time.Time) error {
	if a.IsTerminal() {
		return errors.ErrAlertNotActive
	}
	a.Status = AlertStatusDismissed
	a.ResolvedAt = &at
	return nil
}

// RecordNotification appends a delivery record.
func (a *Alert) RecordNotification(channel, recipient string, at time.Time) {
	a.Notifications = append(a.Notifications, NotificationRecord{
		Channel:   channel,
		Recipient: recipient,
		SentAt:    at,
	})
}
