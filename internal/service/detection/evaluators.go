package detection

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/caresentry/caregiver-safeguard-backend/internal/domain/safeguard"
)

// Evaluator applies one rule type's logic to a behavior snapshot. It returns
// nil when the rule produces no finding. Evaluators must be pure functions of
// the rule and the snapshot.
type Evaluator func(rule *safeguard.DetectionRule, snap *safeguard.BehaviorSnapshot) (*safeguard.RiskFactor, error)

// Registry maps rule types to evaluators. Adding a detection rule type is a
// local registration, not a change to a central branch.
type Registry struct {
	mu         sync.RWMutex
	evaluators map[safeguard.RuleType]Evaluator
}

// NewRegistry returns a registry with every built-in evaluator installed.
func NewRegistry() *Registry {
	r := &Registry{evaluators: make(map[safeguard.RuleType]Evaluator)}
	r.Register(safeguard.RuleContactManipulation, evaluateContactManipulation)
	r.Register(safeguard.RulePermissionEscalation, evaluatePermissionEscalation)
	r.Register(safeguard.RuleBurstActivity, evaluateBurstActivity)
	r.Register(safeguard.RuleEmergencyTampering, evaluateEmergencyTampering)
	r.Register(safeguard.RuleNightActivity, evaluateNightActivity)
	r.Register(safeguard.RuleIsolationPattern, evaluateIsolationPattern)
	return r
}

// Register installs or replaces the evaluator for a rule type.
func (r *Registry) Register(ruleType safeguard.RuleType, ev Evaluator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluators[ruleType] = ev
}

// Lookup returns the evaluator for a rule type.
func (r *Registry) Lookup(ruleType safeguard.RuleType) (Evaluator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ev, ok := r.evaluators[ruleType]
	return ev, ok
}

// Apply runs one rule against the snapshot, recovering evaluator panics so a
// defect in one rule never suppresses detection by the others.
func (r *Registry) Apply(rule *safeguard.DetectionRule, snap *safeguard.BehaviorSnapshot) (factor *safeguard.RiskFactor, err error) {
	ev, ok := r.Lookup(rule.Type)
	if !ok {
		return nil, fmt.Errorf("no evaluator registered for rule type %q", rule.Type)
	}

	defer func() {
		if rec := recover(); rec != nil {
			factor = nil
			err = fmt.Errorf("evaluator for rule %q panicked: %v", rule.Name, rec)
		}
	}()

	return ev(rule, snap)
}

// Shared config keys read by the built-in evaluators.
const (
	cfgThreshold       = "threshold"
	cfgMultiplier      = "multiplier"
	cfgPerEventScore   = "per_event_score"
	cfgImmediateAction = "immediate_action"
	cfgWindowMinutes   = "window_minutes"
	cfgQuietStartHour  = "quiet_start_hour"
	cfgQuietEndHour    = "quiet_end_hour"
)

// scaledScore computes count-driven scores: per-event points scaled by the
// rule's severity multiplier and clamped into range.
func scaledScore(count, perEvent int, multiplier float64) int {
	return safeguard.ClampScore(int(float64(count*perEvent) * multiplier))
}

func evaluateContactManipulation(rule *safeguard.DetectionRule, snap *safeguard.BehaviorSnapshot) (*safeguard.RiskFactor, error) {
	threshold := rule.ConfigInt(cfgThreshold, 3)
	perEvent := rule.ConfigInt(cfgPerEventScore, 15)
	multiplier := rule.ConfigFloat(cfgMultiplier, 1.0)

	count := len(snap.ContactEvents)
	if count < threshold {
		return nil, nil
	}

	f := safeguard.NewRiskFactor(
		safeguard.FactorContactManipulation,
		scaledScore(count, perEvent, multiplier),
		fmt.Sprintf("%d contact modifications within the analysis window (threshold %d)", count, threshold),
		map[string]string{
			"count":     fmt.Sprintf("%d", count),
			"threshold": fmt.Sprintf("%d", threshold),
			"window":    snap.Window.Duration().String(),
		},
	)
	f.RequiresImmediateAction = rule.ConfigBool(cfgImmediateAction, false)
	return &f, nil
}

func evaluatePermissionEscalation(rule *safeguard.DetectionRule, snap *safeguard.BehaviorSnapshot) (*safeguard.RiskFactor, error) {
	threshold := rule.ConfigInt(cfgThreshold, 2)
	perEvent := rule.ConfigInt(cfgPerEventScore, 20)
	multiplier := rule.ConfigFloat(cfgMultiplier, 1.0)

	escalations := 0
	names := make([]string, 0, 4)
	for _, e := range snap.PermissionEvents {
		if e.Granted && !e.Baseline {
			escalations++
			names = append(names, e.Permission)
		}
	}
	if escalations < threshold {
		return nil, nil
	}

	f := safeguard.NewRiskFactor(
		safeguard.FactorPermissionEscalation,
		scaledScore(escalations, perEvent, multiplier),
		fmt.Sprintf("%d permission grants beyond the caregiver's baseline", escalations),
		map[string]string{
			"grants":      fmt.Sprintf("%d", escalations),
			"threshold":   fmt.Sprintf("%d", threshold),
			"permissions": fmt.Sprintf("%v", names),
		},
	)
	f.RequiresImmediateAction = rule.ConfigBool(cfgImmediateAction, false)
	return &f, nil
}

func evaluateBurstActivity(rule *safeguard.DetectionRule, snap *safeguard.BehaviorSnapshot) (*safeguard.RiskFactor, error) {
	threshold := rule.ConfigInt(cfgThreshold, 5)
	perEvent := rule.ConfigInt(cfgPerEventScore, 12)
	multiplier := rule.ConfigFloat(cfgMultiplier, 1.0)
	burstWindow := time.Duration(rule.ConfigInt(cfgWindowMinutes, 60)) * time.Minute

	times := snap.EventTimes()
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	// Largest number of events inside any sliding burst window.
	maxBurst := 0
	for i := range times {
		j := i
		for j < len(times) && times[j].Sub(times[i]) < burstWindow {
			j++
		}
		if j-i > maxBurst {
			maxBurst = j - i
		}
	}
	if maxBurst < threshold {
		return nil, nil
	}

	excess := maxBurst - threshold + 1
	f := safeguard.NewRiskFactor(
		safeguard.FactorBurstActivity,
		scaledScore(excess, perEvent, multiplier),
		fmt.Sprintf("burst of %d caregiver actions within %s", maxBurst, burstWindow),
		map[string]string{
			"burst_size":   fmt.Sprintf("%d", maxBurst),
			"threshold":    fmt.Sprintf("%d", threshold),
			"burst_window": burstWindow.String(),
		},
	)
	f.RequiresImmediateAction = rule.ConfigBool(cfgImmediateAction, false)
	return &f, nil
}

func evaluateEmergencyTampering(rule *safeguard.DetectionRule, snap *safeguard.BehaviorSnapshot) (*safeguard.RiskFactor, error) {
	threshold := rule.ConfigInt(cfgThreshold, 1)
	perEvent := rule.ConfigInt(cfgPerEventScore, 35)
	multiplier := rule.ConfigFloat(cfgMultiplier, 1.0)

	tampering := 0
	for _, e := range snap.EmergencyEvents {
		if e.Kind == safeguard.EmergencyCancelled || e.Kind == safeguard.EmergencyConfigChange {
			tampering++
		}
	}
	if tampering < threshold {
		return nil, nil
	}

	f := safeguard.NewRiskFactor(
		safeguard.FactorEmergencyTampering,
		scaledScore(tampering, perEvent, multiplier),
		fmt.Sprintf("%d emergency-feature cancellations or configuration changes", tampering),
		map[string]string{
			"events":    fmt.Sprintf("%d", tampering),
			"threshold": fmt.Sprintf("%d", threshold),
		},
	)
	// Interfering with the emergency path endangers the user directly, so
	// this factor defaults to demanding immediate action.
	f.RequiresImmediateAction = rule.ConfigBool(cfgImmediateAction, true)
	return &f, nil
}

func evaluateNightActivity(rule *safeguard.DetectionRule, snap *safeguard.BehaviorSnapshot) (*safeguard.RiskFactor, error) {
	threshold := rule.ConfigInt(cfgThreshold, 3)
	perEvent := rule.ConfigInt(cfgPerEventScore, 10)
	multiplier := rule.ConfigFloat(cfgMultiplier, 1.0)
	quietStart := rule.ConfigInt(cfgQuietStartHour, 22)
	quietEnd := rule.ConfigInt(cfgQuietEndHour, 6)

	count := 0
	for _, ts := range snap.EventTimes() {
		if inQuietHours(ts.Hour(), quietStart, quietEnd) {
			count++
		}
	}
	if count < threshold {
		return nil, nil
	}

	f := safeguard.NewRiskFactor(
		safeguard.FactorNightActivity,
		scaledScore(count, perEvent, multiplier),
		fmt.Sprintf("%d caregiver actions during quiet hours (%02d:00-%02d:00)", count, quietStart, quietEnd),
		map[string]string{
			"events":      fmt.Sprintf("%d", count),
			"quiet_start": fmt.Sprintf("%d", quietStart),
			"quiet_end":   fmt.Sprintf("%d", quietEnd),
		},
	)
	f.RequiresImmediateAction = rule.ConfigBool(cfgImmediateAction, false)
	return &f, nil
}

// inQuietHours handles overnight ranges, e.g. 22:00-06:00.
func inQuietHours(hour, start, end int) bool {
	if start <= end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

func evaluateIsolationPattern(rule *safeguard.DetectionRule, snap *safeguard.BehaviorSnapshot) (*safeguard.RiskFactor, error) {
	threshold := rule.ConfigInt(cfgThreshold, 1)
	perEvent := rule.ConfigInt(cfgPerEventScore, 25)
	multiplier := rule.ConfigFloat(cfgMultiplier, 1.0)

	cutoffs := 0
	names := make([]string, 0, 4)
	for _, e := range snap.ContactEvents {
		if e.Frequent && (e.Action == safeguard.ContactDeleted || e.Action == safeguard.ContactBlocked) {
			cutoffs++
			names = append(names, e.ContactName)
		}
	}
	if cutoffs < threshold {
		return nil, nil
	}

	f := safeguard.NewRiskFactor(
		safeguard.FactorIsolationPattern,
		scaledScore(cutoffs, perEvent, multiplier),
		fmt.Sprintf("%d frequent contacts removed or blocked", cutoffs),
		map[string]string{
			"contacts_cut_off": fmt.Sprintf("%d", cutoffs),
			"contacts":         fmt.Sprintf("%v", names),
		},
	)
	f.RequiresImmediateAction = rule.ConfigBool(cfgImmediateAction, false)
	return &f, nil
}
