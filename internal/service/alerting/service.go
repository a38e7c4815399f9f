package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/caresentry/caregiver-safeguard-backend/internal/domain/errors"
	"github.com/caresentry/caregiver-safeguard-backend/internal/domain/safeguard"
	"github.com/caresentry/caregiver-safeguard-backend/internal/metrics"
	"github.com/caresentry/caregiver-safeguard-backend/internal/service/detection"
)

// Config tunes alert generation and escalation analysis.
type Config struct {
	// MinSequence is the minimum number of assessments a worsening run must
	// span before it counts as escalation.
	MinSequence int
	// MinNetIncrease is the minimum first-to-last score increase.
	MinNetIncrease int
	// EscalationLookback is the history window inspected per assessment.
	EscalationLookback time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MinSequence:        3,
		MinNetIncrease:     20,
		EscalationLookback: 30 * 24 * time.Hour,
	}
}

// service implements the Service interface
type service struct {
	alerts      AlertStore
	assessments detection.AssessmentStore
	sink        NotificationSink
	publisher   Publisher
	cfg         Config
	logger      *slog.Logger
	metrics     *metrics.Registry
}

// NewService creates the alert generator and lifecycle manager. sink,
// publisher and metrics may be nil.
func NewService(
	alerts AlertStore,
	assessments detection.AssessmentStore,
	sink NotificationSink,
	publisher Publisher,
	cfg Config,
	logger *slog.Logger,
	m *metrics.Registry,
) Service {
	def := DefaultConfig()
	if cfg.MinSequence < 2 {
		cfg.MinSequence = def.MinSequence
	}
	if cfg.MinNetIncrease <= 0 {
		cfg.MinNetIncrease = def.MinNetIncrease
	}
	if cfg.EscalationLookback <= 0 {
		cfg.EscalationLookback = def.EscalationLookback
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &service{
		alerts:      alerts,
		assessments: assessments,
		sink:        sink,
		publisher:   publisher,
		cfg:         cfg,
		logger:      logger,
		metrics:     m,
	}
}

// ProcessAssessment decides whether the assessment warrants an alert and
// raises at most one.
func (s *service) ProcessAssessment(ctx context.Context, assessment *safeguard.Assessment) error {
	if assessment == nil {
		return errors.NewValidationError("INVALID_ASSESSMENT", "assessment cannot be nil")
	}

	escalation, err := s.DetectEscalation(ctx, assessment.CaregiverID, assessment.UserID, s.cfg.EscalationLookback)
	if err != nil {
		// Escalation analysis is supplementary; threshold alerts must not be
		// suppressed by a history read failure.
		s.logger.Warn("escalation analysis failed", "caregiver_id", assessment.CaregiverID,
			"user_id", assessment.UserID, "error", err)
		escalation = &safeguard.EscalationPattern{}
	}

	thresholdHit := assessment.Level.AtLeast(safeguard.LevelHigh)
	immediateFactor := false
	for _, f := range assessment.Factors {
		if f.RequiresImmediateAction {
			immediateFactor = true
			break
		}
	}

	if !thresholdHit && !immediateFactor && !escalation.Detected {
		return nil
	}

	alert := s.buildAlert(assessment, escalation, thresholdHit, immediateFactor)
	s.notify(ctx, alert)

	if err := s.alerts.Insert(ctx, alert); err != nil {
		return errors.NewInternalError("failed to persist alert").WithCause(err)
	}

	if s.metrics != nil {
		s.metrics.RecordAlert(ctx, string(alert.Type), string(alert.Level))
	}
	if s.publisher != nil {
		s.publisher.PublishAlertCreated(alert)
	}

	s.logger.Info("alert raised",
		"alert_id", alert.ID,
		"caregiver_id", alert.CaregiverID,
		"user_id", alert.UserID,
		"type", alert.Type,
		"level", alert.Level,
		"immediate_action", alert.RequiresImmediateAction)

	return nil
}

// buildAlert assembles the alert record for the triggering condition.
func (s *service) buildAlert(assessment *safeguard.Assessment, escalation *safeguard.EscalationPattern, thresholdHit, immediateFactor bool) *safeguard.Alert {
	var (
		alertType safeguard.AlertType
		message   string
	)

	switch {
	case thresholdHit:
		alertType = safeguard.AlertThresholdExceeded
		message = fmt.Sprintf("caregiver risk score %d (%s) exceeds the safety threshold", assessment.Score, assessment.Level)
	case immediateFactor:
		alertType = safeguard.AlertPatternDetected
		message = "a detection rule flagged caregiver behavior requiring immediate review"
	default:
		alertType = safeguard.AlertEscalationDetected
		message = fmt.Sprintf("caregiver risk escalated from %d to %d across %d assessments",
			escalation.FirstScore, escalation.LastScore, len(escalation.Assessments))
	}

	alert := safeguard.NewAlert(assessment.CaregiverID, assessment.UserID, assessment.Level, alertType, message)
	alert.RequiresImmediateAction = assessment.RequiresImmediateAction()
	if alertType != safeguard.AlertEscalationDetected {
		id := assessment.ID
		alert.TriggeredBy = &id
	}
	alert.RecommendedActions = recommendedActions(assessment, alert.RequiresImmediateAction)
	return alert
}

// recommendedActions derives reviewer guidance from the contributing factors.
func recommendedActions(assessment *safeguard.Assessment, immediate bool) []string {
	actions := make([]string, 0, 4)
	if immediate {
		actions = append(actions, "Notify the elder rights advocate")
	}
	seen := make(map[safeguard.FactorType]bool)
	for _, f := range assessment.Factors {
		if seen[f.Type] {
			continue
		}
		seen[f.Type] = true
		switch f.Type {
		case safeguard.FactorContactManipulation, safeguard.FactorIsolationPattern:
			actions = append(actions, "Review recent contact list changes with the user")
		case safeguard.FactorPermissionEscalation:
			actions = append(actions, "Audit caregiver permission grants against the original baseline")
		case safeguard.FactorEmergencyTampering:
			actions = append(actions, "Verify emergency features are functional and restore defaults")
		case safeguard.FactorBurstActivity, safeguard.FactorNightActivity:
			actions = append(actions, "Review the caregiver activity timeline for this period")
		}
	}
	actions = append(actions, "Consider restricting caregiver permissions pending review")
	return actions
}

// notify performs best-effort delivery and records what was sent.
func (s *service) notify(ctx context.Context, alert *safeguard.Alert) {
	if s.sink == nil {
		return
	}
	recipients := []Recipient{RecipientLauncherUI}
	if alert.RequiresImmediateAction {
		recipients = append(recipients, RecipientAdvocate)
	}
	for _, recipient := range recipients {
		channel, err := s.sink.Deliver(ctx, alert, recipient)
		if err != nil {
			s.logger.Warn("alert notification delivery failed",
				"alert_id", alert.ID, "recipient", recipient, "error", err)
			continue
		}
		alert.RecordNotification(channel, string(recipient), time.Now().UTC())
	}
}

// DetectEscalation tests for a monotonically non-decreasing score run with a
// meaningful net increase. See Service.
func (s *service) DetectEscalation(ctx context.Context, caregiverID, userID uuid.UUID, window time.Duration) (*safeguard.EscalationPattern, error) {
	if window <= 0 {
		window = s.cfg.EscalationLookback
	}
	since := time.Now().UTC().Add(-window)

	history, err := s.assessments.ListSince(ctx, caregiverID, userID, since)
	if err != nil {
		return nil, errors.NewInternalError("failed to load assessment history").WithCause(err)
	}

	pattern := &safeguard.EscalationPattern{
		CaregiverID: caregiverID,
		UserID:      userID,
		Assessments: history,
	}
	if len(history) == 0 {
		return pattern, nil
	}

	pattern.FirstScore = history[0].Score
	pattern.LastScore = history[len(history)-1].Score
	pattern.NetIncrease = pattern.LastScore - pattern.FirstScore

	if len(history) < s.cfg.MinSequence {
		return pattern, nil
	}
	for i := 1; i < len(history); i++ {
		if history[i].Score < history[i-1].Score {
			return pattern, nil
		}
	}
	pattern.Detected = pattern.NetIncrease >= s.cfg.MinNetIncrease
	return pattern, nil
}

func (s *service) GetAlert(ctx context.Context, id uuid.UUID) (*safeguard.Alert, error) {
	alert, err := s.alerts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, errors.ErrAlertNotFound
	}
	return alert, nil
}

func (s *service) GetActiveAlerts(ctx context.Context, userID uuid.UUID) ([]*safeguard.Alert, error) {
	return s.alerts.ListActiveByUser(ctx, userID)
}

func (s *service) GetAlertsRequiringImmediateAction(ctx context.Context, userID uuid.UUID) ([]*safeguard.Alert, error) {
	return s.alerts.ListImmediateByUser(ctx, userID)
}

func (s *service) ResolveAlert(ctx context.Context, id uuid.UUID, details string, at time.Time) (*safeguard.Alert, error) {
	if details == "" {
		return nil, errors.NewValidationError("RESOLUTION_DETAILS_REQUIRED", "resolution details cannot be empty")
	}
	return s.transition(ctx, id, safeguard.AlertStatusResolved, &details, at)
}

func (s *service) DismissAlert(ctx context.Context, id uuid.UUID, at time.Time) (*safeguard.Alert, error) {
	return s.transition(ctx, id, safeguard.AlertStatusDismissed, nil, at)
}

func (s *service) transition(ctx context.Context, id uuid.UUID, status safeguard.AlertStatus, details *string, at time.Time) (*safeguard.Alert, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	alert, err := s.alerts.TransitionFromActive(ctx, id, status, details, at)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordAlertClosed(ctx, string(status))
	}
	if s.publisher != nil {
		s.publisher.PublishAlertStatusChanged(alert)
	}
	s.logger.Info("alert transitioned", "alert_id", id, "status", status)
	return alert, nil
}
