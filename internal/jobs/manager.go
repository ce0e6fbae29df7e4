package jobs

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"exocal-client/internal/domain"
)

// ErrNoActiveJob is returned when waiting without a submitted job.
var ErrNoActiveJob = errors.New("no active job")

// ErrStaleRun is returned when a report belongs to a replaced or reset job.
var ErrStaleRun = errors.New("job was replaced")

// Manager owns the single job record and enforces its transitions. Every
// submission gets a new run number; updates carrying an older run are
// rejected with ErrStaleRun.
type Manager struct {
	mu      sync.RWMutex
	run     uint64
	current domain.Job
	now     func() time.Time
}

// NewManager creates a manager in idle state.
func NewManager() *Manager {
	return &Manager{
		current: domain.Job{State: domain.JobStateIdle},
		now:     time.Now,
	}
}

// Begin discards the current job and starts a new one in submitting state.
func (m *Manager) Begin() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.run++
	m.current = domain.Job{
		State:       domain.JobStateSubmitting,
		SubmittedAt: m.now().UTC(),
	}
	return m.run
}

// Transition validates and applies a state change for run. mutate, when
// set, edits the record under the lock.
func (m *Manager) Transition(run uint64, to domain.JobState, mutate func(*domain.Job)) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if run != m.run {
		return domain.Job{}, ErrStaleRun
	}
	if !isValidTransition(m.current.State, to) {
		return domain.Job{}, fmt.Errorf("invalid transition: %s -> %s", m.current.State, to)
	}

	if m.current.State == domain.JobStatePolling && to != domain.JobStatePolling {
		m.current.Progress = nil
	}
	m.current.State = to
	if to.Terminal() {
		m.current.FinishedAt = m.now().UTC()
	}
	if mutate != nil {
		mutate(&m.current)
	}
	return snapshot(m.current), nil
}

// UpdateProgress replaces the progress snapshot of a polling job.
func (m *Manager) UpdateProgress(run uint64, jobID string, p domain.Progress) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if run != m.run || m.current.ID != jobID {
		return domain.Job{}, ErrStaleRun
	}
	if m.current.State != domain.JobStatePolling {
		return domain.Job{}, fmt.Errorf("progress in state %s", m.current.State)
	}

	m.current.Progress = &p
	return snapshot(m.current), nil
}

// Current returns a snapshot of the current job.
func (m *Manager) Current() domain.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return snapshot(m.current)
}

// Reset discards the job and returns the manager to idle. Outstanding runs
// become stale.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.run++
	m.current = domain.Job{State: domain.JobStateIdle}
}

// IsRunning reports whether the current state is an active stage.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.State.Active()
}

// snapshot copies pointer fields so callers cannot mutate the record.
func snapshot(job domain.Job) domain.Job {
	if job.Progress != nil {
		p := *job.Progress
		job.Progress = &p
	}
	if job.Delivery != nil {
		d := *job.Delivery
		job.Delivery = &d
	}
	return job
}

// isValidTransition enforces the allowed job state machine edges.
func isValidTransition(from, to domain.JobState) bool {
	switch from {
	case domain.JobStateSubmitting:
		return to == domain.JobStatePolling || to == domain.JobStateIdle
	case domain.JobStatePolling:
		return to == domain.JobStateFetching || to == domain.JobStateFailed
	case domain.JobStateFetching:
		return to == domain.JobStateSucceeded
	default:
		return false
	}
}
