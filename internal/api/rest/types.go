package rest

import "time"

// EvaluateRequest triggers an evaluation run for a caregiver/user pair. A
// zero Window falls back to the configured default.
type EvaluateRequest struct {
	Window string `json:"window,omitempty"`
}

// CreateRuleRequest defines a new detection rule.
type CreateRuleRequest struct {
	Name   string            `json:"name" validate:"required,min=1,max=200"`
	Type   string            `json:"type" validate:"required"`
	Config map[string]string `json:"config,omitempty"`
}

// UpdateRuleConfigRequest replaces a rule's configuration wholesale.
type UpdateRuleConfigRequest struct {
	Config map[string]string `json:"config" validate:"required"`
}

// ResolveAlertRequest closes an alert with an explanation.
type ResolveAlertRequest struct {
	Details string `json:"details" validate:"required,min=1,max=2000"`
}

// CleanupRequest triggers a retention sweep. When Cutoff is omitted the
// configured maximum age decides it.
type CleanupRequest struct {
	Cutoff *time.Time `json:"cutoff,omitempty"`
}

// CleanupResponse reports a completed sweep.
type CleanupResponse struct {
	Cutoff  time.Time `json:"cutoff"`
	Deleted int64     `json:"deleted"`
}

// HealthResponse reports service health.
type HealthResponse struct {
	Status  string    `json:"status"`
	Version string    `json:"version"`
	Time    time.Time `json:"time"`
}
