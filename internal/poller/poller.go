// Package poller watches a submitted job's status endpoint until it ends.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"

	"exocal-client/internal/analysis"
	"exocal-client/internal/domain"
	"exocal-client/internal/logger"
	"exocal-client/internal/telemetry"
)

const (
	StateDone  = "done"
	StateError = "error"

	DefaultInterval = 200 * time.Millisecond
)

// ErrAttemptsExhausted stops a poll loop that reached Policy.MaxAttempts.
var ErrAttemptsExhausted = errors.New("status polling attempts exhausted")

// TransportError means the status endpoint could not be read.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "Failed to check job status"
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// JobError is a failure reported by the service itself.
type JobError struct {
	Message string
}

func (e *JobError) Error() string {
	return e.Message
}

func jobError(msg string) *JobError {
	if msg == "" {
		msg = "Analysis failed"
	}
	return &JobError{Message: msg}
}

// Policy bounds a poll loop. Zero MaxAttempts means unbounded.
type Policy struct {
	Interval         time.Duration
	MaxAttempts      int
	TransportRetries int
}

// DefaultPolicy polls every 200ms forever and gives up on the first
// transport failure.
func DefaultPolicy() Policy {
	return Policy{Interval: DefaultInterval}
}

// StatusSource reads a job's status endpoint.
type StatusSource interface {
	Status(ctx context.Context, statusURL string) (analysis.StatusReport, error)
}

// Sink receives reports for one job, in order, from a single goroutine.
type Sink interface {
	JobProgress(jobID string, progress domain.Progress)
	JobSucceeded(jobID string)
	JobFailed(jobID string, err error)
}

// Poller runs status loops.
type Poller struct {
	source  StatusSource
	policy  Policy
	log     *logger.Logger
	metrics telemetry.JobMetrics
	wait    func(ctx context.Context, d time.Duration) error
}

// New creates a Poller. metrics may be nil.
func New(source StatusSource, policy Policy, log *logger.Logger, metrics telemetry.JobMetrics) *Poller {
	if policy.Interval <= 0 {
		policy.Interval = DefaultInterval
	}
	return &Poller{
		source:  source,
		policy:  policy,
		log:     log,
		metrics: metrics,
		wait:    sleep,
	}
}

// Start polls job.StatusURL in a new goroutine. The returned cancel stops
// the loop; after it returns no further sink calls are made for requests
// that had not yet been reported.
func (p *Poller) Start(ctx context.Context, job domain.Job, sink Sink) context.CancelFunc {
	ctx, cancel := context.WithCancel(ctx)
	go p.Run(ctx, job, sink)
	return cancel
}

// Run polls synchronously until the job ends or ctx is cancelled. The
// first request is issued immediately.
func (p *Poller) Run(ctx context.Context, job domain.Job, sink Sink) {
	log := p.log.With("job_id", job.ID)

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			log.Debug(ctx, "polling cancelled")
			return
		}

		report, err := p.fetch(ctx, job.StatusURL)
		if ctx.Err() != nil {
			log.Debug(ctx, "polling cancelled")
			return
		}
		if err != nil {
			log.Warn(ctx, "status request failed", "error", err, "attempt", attempt)
			sink.JobFailed(job.ID, &TransportError{Err: err})
			return
		}
		if p.metrics != nil {
			p.metrics.IncStatusPolls(ctx, report.State)
		}

		if report.Progress != nil {
			sink.JobProgress(job.ID, *report.Progress)
		}

		switch report.State {
		case StateDone:
			log.Info(ctx, "job finished", "attempts", attempt)
			sink.JobSucceeded(job.ID)
			return
		case StateError:
			log.Warn(ctx, "job failed on service", "error", report.Error)
			sink.JobFailed(job.ID, jobError(report.Error))
			return
		}

		if p.policy.MaxAttempts > 0 && attempt >= p.policy.MaxAttempts {
			log.Warn(ctx, "giving up on job", "attempts", attempt)
			sink.JobFailed(job.ID, fmt.Errorf("job %s after %d polls: %w", job.ID, attempt, ErrAttemptsExhausted))
			return
		}

		if err := p.wait(ctx, p.policy.Interval); err != nil {
			log.Debug(ctx, "polling cancelled")
			return
		}
	}
}

// fetch issues one status request, retrying transport failures when the
// policy allows it.
func (p *Poller) fetch(ctx context.Context, statusURL string) (analysis.StatusReport, error) {
	if p.policy.TransportRetries <= 0 {
		return p.source.Status(ctx, statusURL)
	}

	var report analysis.StatusReport
	op := func() error {
		r, err := p.source.Status(ctx, statusURL)
		if err != nil {
			return err
		}
		report = r
		return nil
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.policy.Interval), uint64(p.policy.TransportRetries)),
		ctx,
	)
	if err := backoff.Retry(op, b); err != nil {
		return analysis.StatusReport{}, err
	}
	return report, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
