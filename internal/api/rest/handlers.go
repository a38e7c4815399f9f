package rest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/caresentry/caregiver-safeguard-backend/internal/domain/errors"
	"github.com/caresentry/caregiver-safeguard-backend/internal/domain/safeguard"
	"github.com/caresentry/caregiver-safeguard-backend/internal/infrastructure/cache"
	"github.com/caresentry/caregiver-safeguard-backend/internal/service/alerting"
	"github.com/caresentry/caregiver-safeguard-backend/internal/service/analytics"
	"github.com/caresentry/caregiver-safeguard-backend/internal/service/detection"
	"github.com/caresentry/caregiver-safeguard-backend/internal/service/retention"
)

// HandlerConfig carries the defaults endpoint handlers need.
type HandlerConfig struct {
	Version         string
	DefaultWindow   time.Duration
	RetentionMaxAge time.Duration
}

// RiskStateReader serves the cached latest risk state for a pair.
type RiskStateReader interface {
	Get(ctx context.Context, caregiverID, userID uuid.UUID) (*cache.RiskState, error)
}

// Handler routes HTTP requests to the safeguard services.
type Handler struct {
	*BaseHandler

	cfg        HandlerConfig
	detection  detection.Service
	alerting   alerting.Service
	analytics  analytics.Service
	retention  *retention.Service
	riskStates RiskStateReader
}

func NewHandler(
	cfg HandlerConfig,
	detectionSvc detection.Service,
	alertingSvc alerting.Service,
	analyticsSvc analytics.Service,
	retentionSvc *retention.Service,
	logger *slog.Logger,
) *Handler {
	if cfg.DefaultWindow <= 0 {
		cfg.DefaultWindow = 7 * 24 * time.Hour
	}
	if cfg.RetentionMaxAge <= 0 {
		cfg.RetentionMaxAge = 365 * 24 * time.Hour
	}
	return &Handler{
		BaseHandler: NewBaseHandler(logger),
		cfg:         cfg,
		detection:   detectionSvc,
		alerting:    alertingSvc,
		analytics:   analyticsSvc,
		retention:   retentionSvc,
	}
}

// WithRiskStates enables the cached current-risk read path.
func (h *Handler) WithRiskStates(reader RiskStateReader) *Handler {
	h.riskStates = reader
	return h
}

// Evaluation

func (h *Handler) handleEvaluateCaregiver(w http.ResponseWriter, r *http.Request) {
	caregiverID, err := h.PathUUID(r, "caregiverID")
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	userID, err := h.PathUUID(r, "userID")
	if err != nil {
		h.WriteError(w, r, err)
		return
	}

	window := h.cfg.DefaultWindow
	if r.ContentLength > 0 {
		var req EvaluateRequest
		if err := h.DecodeAndValidate(r, &req); err != nil {
			h.WriteError(w, r, err)
			return
		}
		if req.Window != "" {
			parsed, perr := time.ParseDuration(req.Window)
			if perr != nil || parsed <= 0 {
				h.WriteError(w, r, errors.NewValidationError("INVALID_WINDOW",
					fmt.Sprintf("invalid window: %q", req.Window)))
				return
			}
			window = parsed
		}
	}

	assessment, err := h.detection.EvaluateCaregiver(r.Context(), caregiverID, userID, window)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusCreated, assessment)
}

func (h *Handler) handleGetAssessment(w http.ResponseWriter, r *http.Request) {
	id, err := h.PathUUID(r, "id")
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	assessment, err := h.detection.GetAssessment(r.Context(), id)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, assessment)
}

// handleListAssessments returns a pair's recent assessments. With ?level= it
// filters by risk level instead of the trailing window.
func (h *Handler) handleListAssessments(w http.ResponseWriter, r *http.Request) {
	caregiverID, err := h.PathUUID(r, "caregiverID")
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	userID, err := h.PathUUID(r, "userID")
	if err != nil {
		h.WriteError(w, r, err)
		return
	}

	if raw := r.URL.Query().Get("level"); raw != "" {
		level, perr := safeguard.ParseRiskLevel(raw)
		if perr != nil {
			h.WriteError(w, r, errors.NewValidationError("INVALID_LEVEL",
				fmt.Sprintf("invalid risk level: %q", raw)))
			return
		}
		assessments, lerr := h.detection.GetAssessmentsByLevel(r.Context(), caregiverID, userID, level)
		if lerr != nil {
			h.WriteError(w, r, lerr)
			return
		}
		h.WriteJSON(w, http.StatusOK, assessments)
		return
	}

	window, err := h.QueryWindow(r, h.cfg.DefaultWindow)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	assessments, err := h.detection.GetRecentAssessments(r.Context(), caregiverID, userID, window)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, assessments)
}

// handleGetCurrentRisk serves the latest risk state for a pair, preferring
// the cache and falling back to the assessment history.
func (h *Handler) handleGetCurrentRisk(w http.ResponseWriter, r *http.Request) {
	caregiverID, err := h.PathUUID(r, "caregiverID")
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	userID, err := h.PathUUID(r, "userID")
	if err != nil {
		h.WriteError(w, r, err)
		return
	}

	if h.riskStates != nil {
		if state, cerr := h.riskStates.Get(r.Context(), caregiverID, userID); cerr == nil {
			h.WriteJSON(w, http.StatusOK, state)
			return
		}
	}

	assessments, err := h.detection.GetRecentAssessments(r.Context(), caregiverID, userID, h.cfg.DefaultWindow)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	if len(assessments) == 0 {
		h.WriteError(w, r, errors.NewNotFoundError("risk state"))
		return
	}
	latest := assessments[len(assessments)-1]
	h.WriteJSON(w, http.StatusOK, cache.RiskState{
		AssessmentID: latest.ID,
		Score:        latest.Score,
		Level:        latest.Level,
		AssessedAt:   latest.AssessedAt,
	})
}

// Rules

func (h *Handler) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if err := h.DecodeAndValidate(r, &req); err != nil {
		h.WriteError(w, r, err)
		return
	}
	rule := safeguard.NewDetectionRule(req.Name, safeguard.RuleType(req.Type), req.Config)
	if err := h.detection.InsertRule(r.Context(), rule); err != nil {
		h.WriteError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusCreated, rule)
}

func (h *Handler) handleListRules(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("type"); raw != "" {
		rules, err := h.detection.GetRulesByType(r.Context(), safeguard.RuleType(raw))
		if err != nil {
			h.WriteError(w, r, err)
			return
		}
		h.WriteJSON(w, http.StatusOK, rules)
		return
	}
	rules, err := h.detection.GetEnabledRules(r.Context())
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, rules)
}

func (h *Handler) handleUpdateRuleConfig(w http.ResponseWriter, r *http.Request) {
	id, err := h.PathUUID(r, "id")
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	var req UpdateRuleConfigRequest
	if err := h.DecodeAndValidate(r, &req); err != nil {
		h.WriteError(w, r, err)
		return
	}
	rule, err := h.detection.UpdateRuleConfiguration(r.Context(), id, req.Config)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, rule)
}

func (h *Handler) handleEnableRule(w http.ResponseWriter, r *http.Request) {
	h.setRuleEnabled(w, r, true)
}

func (h *Handler) handleDisableRule(w http.ResponseWriter, r *http.Request) {
	h.setRuleEnabled(w, r, false)
}

func (h *Handler) setRuleEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id, err := h.PathUUID(r, "id")
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	rule, err := h.detection.SetRuleEnabled(r.Context(), id, enabled)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, rule)
}

// Alerts

func (h *Handler) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id, err := h.PathUUID(r, "id")
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	alert, err := h.alerting.GetAlert(r.Context(), id)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, alert)
}

func (h *Handler) handleListActiveAlerts(w http.ResponseWriter, r *http.Request) {
	userID, err := h.PathUUID(r, "userID")
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	alerts, err := h.alerting.GetActiveAlerts(r.Context(), userID)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, alerts)
}

func (h *Handler) handleListImmediateAlerts(w http.ResponseWriter, r *http.Request) {
	userID, err := h.PathUUID(r, "userID")
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	alerts, err := h.alerting.GetAlertsRequiringImmediateAction(r.Context(), userID)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, alerts)
}

func (h *Handler) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	id, err := h.PathUUID(r, "id")
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	var req ResolveAlertRequest
	if err := h.DecodeAndValidate(r, &req); err != nil {
		h.WriteError(w, r, err)
		return
	}
	alert, err := h.alerting.ResolveAlert(r.Context(), id, req.Details, time.Now().UTC())
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, alert)
}

func (h *Handler) handleDismissAlert(w http.ResponseWriter, r *http.Request) {
	id, err := h.PathUUID(r, "id")
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	alert, err := h.alerting.DismissAlert(r.Context(), id, time.Now().UTC())
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, alert)
}

func (h *Handler) handleDetectEscalation(w http.ResponseWriter, r *http.Request) {
	caregiverID, err := h.PathUUID(r, "caregiverID")
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	userID, err := h.PathUUID(r, "userID")
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	window, err := h.QueryWindow(r, 0)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	pattern, err := h.alerting.DetectEscalation(r.Context(), caregiverID, userID, window)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, pattern)
}

// Analytics

func (h *Handler) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	userID, err := h.PathUUID(r, "userID")
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	window, err := h.QueryWindow(r, 0)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	summary, err := h.analytics.GetStatisticsSummary(r.Context(), userID, window)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleGetRiskTrend(w http.ResponseWriter, r *http.Request) {
	caregiverID, err := h.PathUUID(r, "caregiverID")
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	userID, err := h.PathUUID(r, "userID")
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	window, err := h.QueryWindow(r, 0)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	trend, err := h.analytics.GetRiskTrend(r.Context(), caregiverID, userID, window)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, trend)
}

func (h *Handler) handleGetFrequentFactors(w http.ResponseWriter, r *http.Request) {
	caregiverID, err := h.PathUUID(r, "caregiverID")
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	userID, err := h.PathUUID(r, "userID")
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	window, err := h.QueryWindow(r, 0)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	factors, err := h.analytics.GetMostFrequentRiskFactors(r.Context(), caregiverID, userID, window)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, factors)
}

// Administration

func (h *Handler) handleRetentionCleanup(w http.ResponseWriter, r *http.Request) {
	cutoff := time.Now().UTC().Add(-h.cfg.RetentionMaxAge)
	if r.ContentLength > 0 {
		var req CleanupRequest
		if err := h.DecodeAndValidate(r, &req); err != nil {
			h.WriteError(w, r, err)
			return
		}
		if req.Cutoff != nil {
			cutoff = req.Cutoff.UTC()
		}
	}

	deleted, err := h.retention.CleanupOldData(r.Context(), cutoff)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, CleanupResponse{Cutoff: cutoff, Deleted: deleted})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.WriteJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: h.cfg.Version,
		Time:    time.Now().UTC(),
	})
}
