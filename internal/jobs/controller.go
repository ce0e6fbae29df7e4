package jobs

import (
	"context"
	"errors"
	"sync"

	"exocal-client/internal/analysis"
	"exocal-client/internal/domain"
	"exocal-client/internal/logger"
	"exocal-client/internal/poller"
	"exocal-client/internal/telemetry"
	"exocal-client/internal/upload"
)

// PayloadBuilder validates a selection and encodes the upload.
type PayloadBuilder interface {
	Build(sel *domain.InputSelection, params domain.SubmissionParameters) (*upload.Payload, error)
}

// Submitter sends an upload to the service.
type Submitter interface {
	Submit(ctx context.Context, p *upload.Payload) (analysis.Submission, error)
}

// StatusPoller watches a job until it ends.
type StatusPoller interface {
	Start(ctx context.Context, job domain.Job, sink poller.Sink) context.CancelFunc
}

// ResultFetcher delivers a finished job's bundle.
type ResultFetcher interface {
	FetchAndDeliver(ctx context.Context, url string) (domain.Delivery, error)
}

// Deps are the collaborators a Controller drives.
type Deps struct {
	Builder   PayloadBuilder
	Submitter Submitter
	Poller    StatusPoller
	Fetcher   ResultFetcher
	Bus       *EventBus
	Observer  Observer
	Log       *logger.Logger
	Metrics   telemetry.JobMetrics
}

// Controller drives one job at a time from submission to a visible result.
// A new submission or Reset cancels whatever was in flight.
type Controller struct {
	deps    Deps
	manager *Manager

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu     sync.Mutex
	active *runHandle
}

type runHandle struct {
	id     uint64
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu       sync.Mutex
	finished bool
	stopPoll context.CancelFunc
}

// finish stops the poller, releases the run's context and wakes waiters.
func (r *runHandle) finish() {
	r.once.Do(func() {
		r.mu.Lock()
		r.finished = true
		stop := r.stopPoll
		r.mu.Unlock()

		if stop != nil {
			stop()
		}
		r.cancel()
		close(r.done)
	})
}

// setStopPoll records the poller's cancel func. A run that already finished
// stops the poller right away.
func (r *runHandle) setStopPoll(stop context.CancelFunc) {
	r.mu.Lock()
	if !r.finished {
		r.stopPoll = stop
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	stop()
}

// NewController wires a controller in idle state.
func NewController(deps Deps) *Controller {
	if deps.Bus == nil {
		deps.Bus = NewEventBus(0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		deps:       deps,
		manager:    NewManager(),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
}

// Events returns the controller's event bus.
func (c *Controller) Events() *EventBus {
	return c.deps.Bus
}

// Current returns a snapshot of the current job.
func (c *Controller) Current() domain.Job {
	return c.manager.Current()
}

// Submit validates the selection, replaces any in-flight job and sends the
// upload. On success the returned job is polling.
func (c *Controller) Submit(ctx context.Context, sel *domain.InputSelection, params domain.SubmissionParameters) (domain.Job, error) {
	payload, err := c.deps.Builder.Build(sel, params)
	if err != nil {
		var vErr *upload.ValidationError
		if errors.As(err, &vErr) {
			c.incSubmissions(ctx, "invalid")
		}
		return domain.Job{}, err
	}

	r := c.begin()
	c.publish(r, Event{Type: EventTypeStatus, State: domain.JobStateSubmitting, Message: "Submitting"})

	subCtx, subCancel := context.WithCancel(r.ctx)
	stop := context.AfterFunc(ctx, subCancel)
	sub, err := c.deps.Submitter.Submit(subCtx, payload)
	stop()
	subCancel()

	if err != nil {
		c.incSubmissions(ctx, "rejected")
		// A rejected upload leaves no job behind; the error goes to the caller.
		job, tErr := c.manager.Transition(r.id, domain.JobStateIdle, func(j *domain.Job) {
			*j = domain.Job{State: domain.JobStateIdle}
		})
		if tErr == nil {
			c.deps.Log.Warn(ctx, "submission failed", "error", err)
			c.publish(r, Event{Type: EventTypeError, State: job.State, Message: err.Error()})
		}
		r.finish()
		return domain.Job{}, err
	}

	job, err := c.manager.Transition(r.id, domain.JobStatePolling, func(j *domain.Job) {
		j.ID = sub.JobID
		j.StatusURL = sub.StatusURL
		j.DownloadURL = sub.DownloadURL
	})
	if err != nil {
		return domain.Job{}, err
	}
	c.incSubmissions(ctx, "accepted")
	c.deps.Log.Info(ctx, "job submitted", "job_id", job.ID)
	c.publish(r, Event{JobID: job.ID, Type: EventTypeStatus, State: job.State, Message: "Initializing analysis..."})

	r.setStopPoll(c.deps.Poller.Start(r.ctx, job, &runSink{c: c, run: r, jobID: job.ID}))
	return job, nil
}

// Wait blocks until the current job reaches a terminal state, is replaced
// or ctx ends.
func (c *Controller) Wait(ctx context.Context) (domain.Job, error) {
	c.mu.Lock()
	r := c.active
	c.mu.Unlock()
	if r == nil {
		return c.manager.Current(), ErrNoActiveJob
	}

	select {
	case <-r.done:
		return c.manager.Current(), nil
	case <-ctx.Done():
		return c.manager.Current(), ctx.Err()
	}
}

// Reset cancels any in-flight work and discards the job.
func (c *Controller) Reset() {
	c.mu.Lock()
	r := c.active
	c.active = nil
	c.manager.Reset()
	c.emit(Event{Type: EventTypeStatus, State: domain.JobStateIdle})
	c.mu.Unlock()

	if r != nil {
		r.finish()
	}
}

// Close stops all work owned by the controller.
func (c *Controller) Close() {
	if c.manager.IsRunning() {
		job := c.manager.Current()
		c.deps.Log.Warn(context.Background(), "abandoning job in flight", "job_id", job.ID, "state", job.State)
	}
	c.Reset()
	c.baseCancel()
}

func (c *Controller) begin() *runHandle {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev := c.active; prev != nil {
		prev.finish()
	}

	ctx, cancel := context.WithCancel(c.baseCtx)
	r := &runHandle{
		id:     c.manager.Begin(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.active = r
	return r
}

// publish emits e on behalf of run r. Events from a run that was replaced
// or reset are dropped, so they can never follow the newer run's events.
func (c *Controller) publish(r *runHandle, e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != r {
		return
	}
	c.emit(e)
}

// emit requires c.mu.
func (c *Controller) emit(e Event) {
	e = c.deps.Bus.Publish(e)
	if c.deps.Observer != nil {
		c.deps.Observer(e)
	}
}

func (c *Controller) incSubmissions(ctx context.Context, outcome string) {
	if c.deps.Metrics != nil {
		c.deps.Metrics.IncSubmissions(ctx, outcome)
	}
}

func (c *Controller) observeDuration(ctx context.Context, outcome string, job domain.Job) {
	if c.deps.Metrics != nil {
		c.deps.Metrics.ObserveJobDuration(ctx, outcome, job.FinishedAt.Sub(job.SubmittedAt))
	}
}

// runSink receives poller reports for one run and drops them once the run
// is cancelled or replaced.
type runSink struct {
	c     *Controller
	run   *runHandle
	jobID string
}

func (s *runSink) stale(jobID string) bool {
	return jobID != s.jobID || s.run.ctx.Err() != nil
}

func (s *runSink) JobProgress(jobID string, p domain.Progress) {
	if s.stale(jobID) {
		return
	}
	job, err := s.c.manager.UpdateProgress(s.run.id, jobID, p)
	if err != nil {
		return
	}
	s.c.publish(s.run, Event{JobID: jobID, Type: EventTypeProgress, State: job.State, Progress: job.Progress})
}

func (s *runSink) JobSucceeded(jobID string) {
	if s.stale(jobID) {
		return
	}
	ctx := s.run.ctx
	job, err := s.c.manager.Transition(s.run.id, domain.JobStateFetching, nil)
	if err != nil {
		return
	}
	s.c.publish(s.run, Event{JobID: jobID, Type: EventTypeStatus, State: job.State, Message: "Downloading results"})

	d, err := s.c.deps.Fetcher.FetchAndDeliver(ctx, job.DownloadURL)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		s.c.deps.Log.Warn(ctx, "results delivered through fallback", "job_id", jobID, "error", err)
	}

	job, err = s.c.manager.Transition(s.run.id, domain.JobStateSucceeded, func(j *domain.Job) {
		j.Delivery = &d
	})
	if err != nil {
		return
	}
	s.c.observeDuration(ctx, "succeeded", job)
	s.c.publish(s.run, Event{JobID: jobID, Type: EventTypeResult, State: job.State, Delivery: job.Delivery})
	s.run.finish()
}

func (s *runSink) JobFailed(jobID string, err error) {
	if s.stale(jobID) {
		return
	}
	ctx := s.run.ctx
	job, tErr := s.c.manager.Transition(s.run.id, domain.JobStateFailed, func(j *domain.Job) {
		j.Error = err.Error()
	})
	if tErr != nil {
		return
	}
	s.c.deps.Log.Warn(ctx, "job failed", "job_id", jobID, "error", err)
	s.c.observeDuration(ctx, "failed", job)
	s.c.publish(s.run, Event{JobID: jobID, Type: EventTypeError, State: job.State, Message: job.Error})
	s.run.finish()
}
