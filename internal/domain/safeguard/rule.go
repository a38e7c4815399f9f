package safeguard

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// RuleType selects the evaluator that interprets a detection rule.
type RuleType string

const (
	RuleContactManipulation  RuleType = "contact_manipulation"
	RulePermissionEscalation RuleType = "permission_escalation"
	RuleBurstActivity        RuleType = "burst_activity"
	RuleEmergencyTampering   RuleType = "emergency_tampering"
	RuleNightActivity        RuleType = "night_activity"
	RuleIsolationPattern     RuleType = "isolation_pattern"
)

// KnownRuleTypes lists every rule type with a built-in evaluator.
func KnownRuleTypes() []RuleType {
	return []RuleType{
		RuleContactManipulation,
		RulePermissionEscalation,
		RuleBurstActivity,
		RuleEmergencyTampering,
		RuleNightActivity,
		RuleIsolationPattern,
	}
}

// DetectionRule is an administrator-configured detection rule. Disabling a
// rule excludes it from future evaluations without touching history.
type DetectionRule struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Type    RuleType  `json:"type"`
	Enabled bool      `json:"enabled"`

	// Config holds free-form string-keyed parameters (thresholds,
	// multipliers). Evaluators read it through the typed accessors below.
	Config map[string]string `json:"config"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewDetectionRule creates an enabled rule with the given configuration.
func NewDetectionRule(name string, ruleType RuleType, config map[string]string) *DetectionRule {
	now := time.Now().UTC()
	if config == nil {
		config = make(map[string]string)
	}
	return &DetectionRule{
		ID:        uuid.New(),
		Name:      name,
		Type:      ruleType,
		Enabled:   true,
		Config:    config,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks the rule definition. Config values are validated lazily by
// the typed accessors; malformed values fall back to evaluator defaults.
func (r *DetectionRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name cannot be empty")
	}
	for _, t := range KnownRuleTypes() {
		if r.Type == t {
			return nil
		}
	}
	return fmt.Errorf("unknown rule type: %q", r.Type)
}

// Disable marks the rule excluded from future evaluations.
func (r *DetectionRule) Disable() {
	r.Enabled = false
	r.UpdatedAt = time.Now().UTC()
}

// Enable marks the rule active again.
func (r *DetectionRule) Enable() {
	r.Enabled = true
	r.UpdatedAt = time.Now().UTC()
}

// ReplaceConfig swaps the rule configuration.
func (r *DetectionRule) ReplaceConfig(config map[string]string) {
	if config == nil {
		config = make(map[string]string)
	}
	r.Config = config
	r.UpdatedAt = time.Now().UTC()
}

// ConfigInt reads an integer parameter, returning def when the key is absent
// or malformed.
func (r *DetectionRule) ConfigInt(key string, def int) int {
	raw, ok := r.Config[key]
	if !ok {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// ConfigFloat reads a float parameter with a default.
func (r *DetectionRule) ConfigFloat(key string, def float64) float64 {
	raw, ok := r.Config[key]
	if !ok {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

// ConfigBool reads a boolean parameter with a default.
func (r *DetectionRule) ConfigBool(key string, def bool) bool {
	raw, ok := r.Config[key]
	if !ok {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}
