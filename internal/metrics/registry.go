package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds all domain-specific metrics for the outreach engine
type Registry struct {
	meter metric.Meter

	// Compliance metrics
	EvaluationDuration metric.Float64Histogram
	ViolationCounter   metric.Int64Counter
	WarningCounter     metric.Int64Counter
	EvaluationCounter  metric.Int64Counter

	// Delivery metrics
	DeliveryAttemptCounter metric.Int64Counter
	DeliveredCounter       metric.Int64Counter
	RetryCounter           metric.Int64Counter
	TerminalFailureCounter metric.Int64Counter
	GatewayLatency         metric.Float64Histogram
	QueueDepth             metric.Int64ObservableGauge

	// State for observable metrics
	mu         sync.RWMutex
	queueDepth int64
}

// NewRegistry creates a new metrics registry with all domain metrics
func NewRegistry(meterName string) (*Registry, error) {
	meter := otel.Meter(meterName)
	r := &Registry{meter: meter}

	if err := r.initComplianceMetrics(); err != nil {
		return nil, err
	}
	if err := r.initDeliveryMetrics(); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Registry) initComplianceMetrics() error {
	var err error

	r.EvaluationDuration, err = r.meter.Float64Histogram(
		"outreach.compliance.evaluation_duration",
		metric.WithDescription("Rule evaluation duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 50, 100),
	)
	if err != nil {
		return err
	}

	r.ViolationCounter, err = r.meter.Int64Counter(
		"outreach.compliance.violation_total",
		metric.WithDescription("Total compliance violations by kind"),
	)
	if err != nil {
		return err
	}

	r.WarningCounter, err = r.meter.Int64Counter(
		"outreach.compliance.warning_total",
		metric.WithDescription("Total compliance warnings by kind"),
	)
	if err != nil {
		return err
	}

	r.EvaluationCounter, err = r.meter.Int64Counter(
		"outreach.compliance.evaluation_total",
		metric.WithDescription("Total rule evaluations performed"),
	)

	return err
}

func (r *Registry) initDeliveryMetrics() error {
	var err error

	r.DeliveryAttemptCounter, err = r.meter.Int64Counter(
		"outreach.delivery.attempt_total",
		metric.WithDescription("Total physical send attempts"),
	)
	if err != nil {
		return err
	}

	r.DeliveredCounter, err = r.meter.Int64Counter(
		"outreach.delivery.delivered_total",
		metric.WithDescription("Total messages confirmed delivered"),
	)
	if err != nil {
		return err
	}

	r.RetryCounter, err = r.meter.Int64Counter(
		"outreach.delivery.retry_total",
		metric.WithDescription("Total retries scheduled"),
	)
	if err != nil {
		return err
	}

	r.TerminalFailureCounter, err = r.meter.Int64Counter(
		"outreach.delivery.terminal_failure_total",
		metric.WithDescription("Messages closed without delivery"),
	)
	if err != nil {
		return err
	}

	r.GatewayLatency, err = r.meter.Float64Histogram(
		"outreach.delivery.gateway_latency",
		metric.WithDescription("Gateway send latency in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 50, 100, 500, 1000, 5000),
	)
	if err != nil {
		return err
	}

	r.QueueDepth, err = r.meter.Int64ObservableGauge(
		"outreach.delivery.queue_depth",
		metric.WithDescription("Messages waiting in the delivery queue"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.queueDepth)
			return nil
		}),
	)

	return err
}

// SetQueueDepth sets the delivery queue depth
func (r *Registry) SetQueueDepth(depth int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queueDepth = depth
}

// RecordEvaluation records one rule evaluation outcome
func (r *Registry) RecordEvaluation(ctx context.Context, durationMs float64, channel string, passed bool) {
	attrs := []attribute.KeyValue{
		attribute.String("channel", channel),
		attribute.Bool("passed", passed),
	}
	r.EvaluationDuration.Record(ctx, durationMs, metric.WithAttributes(attrs...))
	r.EvaluationCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordViolation counts one violation by kind
func (r *Registry) RecordViolation(ctx context.Context, kind, channel string) {
	r.ViolationCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("channel", channel),
	))
}

// RecordWarning counts one warning by kind
func (r *Registry) RecordWarning(ctx context.Context, kind, channel string) {
	r.WarningCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("channel", channel),
	))
}

// RecordDelivered counts one provider-confirmed delivery
func (r *Registry) RecordDelivered(ctx context.Context, channel string) {
	r.DeliveredCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
	))
}

// RecordRetry counts one scheduled retry by failure class
func (r *Registry) RecordRetry(ctx context.Context, channel, class string) {
	r.RetryCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("class", class),
	))
}

// RecordTerminalFailure counts one message closed without delivery
func (r *Registry) RecordTerminalFailure(ctx context.Context, channel, status string) {
	r.TerminalFailureCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("status", status),
	))
}

// RecordAttempt records one gateway send attempt
func (r *Registry) RecordAttempt(ctx context.Context, latencyMs float64, channel string, success bool) {
	attrs := []attribute.KeyValue{
		attribute.String("channel", channel),
		attribute.Bool("success", success),
	}
	r.GatewayLatency.Record(ctx, latencyMs, metric.WithAttributes(attrs...))
	r.DeliveryAttemptCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}
