package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds the safeguard engine's domain metrics.
type Registry struct {
	meter metric.Meter

	// Evaluation pipeline
	EvaluationDuration metric.Float64Histogram
	AssessmentCounter  metric.Int64Counter
	RuleSkipCounter    metric.Int64Counter

	// Alerting
	AlertCounter           metric.Int64Counter
	AlertResolutionCounter metric.Int64Counter
	ActiveAlertsGauge      metric.Int64ObservableGauge

	// Retention
	RecordsPurgedCounter metric.Int64Counter

	mu                sync.RWMutex
	countActiveAlerts func(ctx context.Context) (int64, error)
}

// NewRegistry creates the metric instruments under the given meter name.
func NewRegistry(meterName string) (*Registry, error) {
	meter := otel.Meter(meterName)
	r := &Registry{meter: meter}

	var err error

	r.EvaluationDuration, err = meter.Float64Histogram(
		"safeguard.evaluation.duration",
		metric.WithDescription("Duration of one caregiver evaluation run"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	r.AssessmentCounter, err = meter.Int64Counter(
		"safeguard.assessments.total",
		metric.WithDescription("Assessments produced, by risk level"),
	)
	if err != nil {
		return nil, err
	}

	r.RuleSkipCounter, err = meter.Int64Counter(
		"safeguard.rules.skipped.total",
		metric.WithDescription("Rules skipped due to malformed config or evaluator failure"),
	)
	if err != nil {
		return nil, err
	}

	r.AlertCounter, err = meter.Int64Counter(
		"safeguard.alerts.total",
		metric.WithDescription("Alerts raised, by type and risk level"),
	)
	if err != nil {
		return nil, err
	}

	r.AlertResolutionCounter, err = meter.Int64Counter(
		"safeguard.alerts.resolutions.total",
		metric.WithDescription("Alert lifecycle transitions, by terminal status"),
	)
	if err != nil {
		return nil, err
	}

	r.ActiveAlertsGauge, err = meter.Int64ObservableGauge(
		"safeguard.alerts.active",
		metric.WithDescription("Currently ACTIVE alerts"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			count := r.countActiveAlerts
			r.mu.RUnlock()
			if count == nil {
				return nil
			}
			n, err := count(ctx)
			if err != nil {
				return err
			}
			o.Observe(n)
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	r.RecordsPurgedCounter, err = meter.Int64Counter(
		"safeguard.retention.purged.total",
		metric.WithDescription("Records deleted by retention cleanup, by kind"),
	)
	if err != nil {
		return nil, err
	}

	return r, nil
}

// RecordAssessment records one finished evaluation run.
func (r *Registry) RecordAssessment(ctx context.Context, level string, took time.Duration) {
	r.AssessmentCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("level", level)))
	r.EvaluationDuration.Record(ctx, float64(took.Milliseconds()))
}

// RecordRuleSkipped counts a rule excluded from a run.
func (r *Registry) RecordRuleSkipped(ctx context.Context, ruleType string) {
	r.RuleSkipCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("rule_type", ruleType)))
}

// ObserveActiveAlerts registers the store count that backs the active alerts
// gauge. Until one is registered the gauge reports nothing. The count runs on
// every collection cycle, so it must be cheap; an indexed COUNT works.
func (r *Registry) ObserveActiveAlerts(count func(ctx context.Context) (int64, error)) {
	r.mu.Lock()
	r.countActiveAlerts = count
	r.mu.Unlock()
}

// RecordAlert counts a newly raised alert.
func (r *Registry) RecordAlert(ctx context.Context, alertType, level string) {
	r.AlertCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", alertType),
		attribute.String("level", level),
	))
}

// RecordAlertClosed counts a terminal transition.
func (r *Registry) RecordAlertClosed(ctx context.Context, status string) {
	r.AlertResolutionCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordPurged counts retention deletions.
func (r *Registry) RecordPurged(ctx context.Context, kind string, count int64) {
	if count <= 0 {
		return
	}
	r.RecordsPurgedCounter.Add(ctx, count, metric.WithAttributes(attribute.String("kind", kind)))
}
