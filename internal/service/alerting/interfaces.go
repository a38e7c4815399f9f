package alerting

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/caresentry/caregiver-safeguard-backend/internal/domain/safeguard"
)

// Service generates alerts from assessments and manages their lifecycle.
type Service interface {
	// ProcessAssessment inspects a freshly persisted assessment (and recent
	// history) and raises an alert when warranted.
	ProcessAssessment(ctx context.Context, assessment *safeguard.Assessment) error
	// DetectEscalation analyzes a pair's chronological assessments for a
	// worsening trend over the lookback window.
	DetectEscalation(ctx context.Context, caregiverID, userID uuid.UUID, window time.Duration) (*safeguard.EscalationPattern, error)

	GetAlert(ctx context.Context, id uuid.UUID) (*safeguard.Alert, error)
	GetActiveAlerts(ctx context.Context, userID uuid.UUID) ([]*safeguard.Alert, error)
	GetAlertsRequiringImmediateAction(ctx context.Context, userID uuid.UUID) ([]*safeguard.Alert, error)

	// ResolveAlert transitions ACTIVE -> RESOLVED with the given details. Only
	// ACTIVE alerts may transition; concurrent losers get a conflict error.
	ResolveAlert(ctx context.Context, id uuid.UUID, details string, at time.Time) (*safeguard.Alert, error)
	// DismissAlert transitions ACTIVE -> DISMISSED.
	DismissAlert(ctx context.Context, id uuid.UUID, at time.Time) (*safeguard.Alert, error)
}

// AlertStore persists alerts. Status updates are compare-and-swap on the
// ACTIVE state.
type AlertStore interface {
	Insert(ctx context.Context, alert *safeguard.Alert) error
	GetByID(ctx context.Context, id uuid.UUID) (*safeguard.Alert, error)
	ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]*safeguard.Alert, error)
	// ListImmediateByUser returns alerts flagged requires_immediate_action,
	// independent of status.
	ListImmediateByUser(ctx context.Context, userID uuid.UUID) ([]*safeguard.Alert, error)
	// TransitionFromActive atomically moves an ACTIVE alert to the given
	// terminal status, setting resolution fields. It fails with an
	// invalid-state error when the alert is already terminal and a not-found
	// error when the id is unknown.
	TransitionFromActive(ctx context.Context, id uuid.UUID, status safeguard.AlertStatus, details *string, at time.Time) (*safeguard.Alert, error)
	CountByUserSince(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error)
}

// Recipient identifies a notification target class.
type Recipient string

const (
	RecipientAdvocate   Recipient = "elder_rights_advocate"
	RecipientCaregiver  Recipient = "caregiver"
	RecipientLauncherUI Recipient = "launcher_ui"
)

// NotificationSink delivers alerts outward (push, SMS, UI). Delivery is
// best-effort; the alert is durable regardless.
type NotificationSink interface {
	Deliver(ctx context.Context, alert *safeguard.Alert, recipient Recipient) (channel string, err error)
}

// Publisher exposes alert creation and status changes to subscribers such as
// the launcher UI and the permission manager.
type Publisher interface {
	PublishAlertCreated(alert *safeguard.Alert)
	PublishAlertStatusChanged(alert *safeguard.Alert)
}
