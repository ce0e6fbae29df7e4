package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// JobMetrics records client-side job lifecycle measurements.
type JobMetrics interface {
	IncSubmissions(ctx context.Context, outcome string)
	IncStatusPolls(ctx context.Context, state string)
	ObserveJobDuration(ctx context.Context, outcome string, d time.Duration)
	IncDeliveries(ctx context.Context, fallback bool)
}

type jobMetrics struct {
	submissions metric.Int64Counter
	polls       metric.Int64Counter
	deliveries  metric.Int64Counter
	duration    metric.Float64Histogram
}

// NewJobMetrics creates the job instruments on the given meter provider.
func NewJobMetrics(mp metric.MeterProvider) (JobMetrics, error) {
	meter := mp.Meter("exocal-client")

	submissions, err := meter.Int64Counter("exocal_submissions_total",
		metric.WithDescription("Upload submissions by outcome"))
	if err != nil {
		return nil, fmt.Errorf("create submissions counter: %w", err)
	}

	polls, err := meter.Int64Counter("exocal_status_polls_total",
		metric.WithDescription("Status requests by reported state"))
	if err != nil {
		return nil, fmt.Errorf("create polls counter: %w", err)
	}

	deliveries, err := meter.Int64Counter("exocal_deliveries_total",
		metric.WithDescription("Result bundle deliveries"))
	if err != nil {
		return nil, fmt.Errorf("create deliveries counter: %w", err)
	}

	duration, err := meter.Float64Histogram("exocal_job_duration_seconds",
		metric.WithDescription("Submission to terminal state"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}

	return &jobMetrics{
		submissions: submissions,
		polls:       polls,
		deliveries:  deliveries,
		duration:    duration,
	}, nil
}

func (m *jobMetrics) IncSubmissions(ctx context.Context, outcome string) {
	m.submissions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *jobMetrics) IncStatusPolls(ctx context.Context, state string) {
	m.polls.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

func (m *jobMetrics) ObserveJobDuration(ctx context.Context, outcome string, d time.Duration) {
	m.duration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *jobMetrics) IncDeliveries(ctx context.Context, fallback bool) {
	m.deliveries.Add(ctx, 1, metric.WithAttributes(attribute.Bool("fallback", fallback)))
}
