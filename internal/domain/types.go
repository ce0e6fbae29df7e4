package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// JobState tracks the client-side lifecycle of one analysis job.
type JobState string

const (
	JobStateIdle       JobState = "idle"
	JobStateSubmitting JobState = "submitting"
	JobStatePolling    JobState = "polling"
	JobStateFetching   JobState = "fetching"
	JobStateSucceeded  JobState = "succeeded"
	JobStateFailed     JobState = "failed"
)

// Progress is the latest snapshot reported by the analysis service.
type Progress struct {
	Dataset    string   `json:"dataset"`
	Percent    float64  `json:"percent"`
	Message    string   `json:"message"`
	LastTarget TargetID `json:"last_target,omitempty"`
}

// TargetID is a catalog identifier such as a TIC or kepid. The service may
// send it as a JSON string or number; either way the text is kept.
type TargetID string

// UnmarshalJSON accepts a string, a number or null.
func (t *TargetID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*t = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = TargetID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("last_target: %w", err)
	}
	*t = TargetID(n.String())
	return nil
}

// Delivery records where the result bundle ended up.
type Delivery struct {
	Path        string `json:"path,omitempty"`
	Fallback    bool   `json:"fallback"`
	FallbackURL string `json:"fallbackUrl,omitempty"`
	FallbackErr string `json:"fallbackErr,omitempty"`
}

// Job stores the current job identity, endpoints and lifecycle state.
type Job struct {
	ID          string    `json:"id"`
	StatusURL   string    `json:"statusUrl"`
	DownloadURL string    `json:"downloadUrl"`
	State       JobState  `json:"state"`
	Progress    *Progress `json:"progress,omitempty"`
	Error       string    `json:"error,omitempty"`
	Delivery    *Delivery `json:"delivery,omitempty"`
	SubmittedAt time.Time `json:"submittedAt,omitempty"`
	FinishedAt  time.Time `json:"finishedAt,omitempty"`
}

// Terminal reports whether the state ends a job's lifecycle.
func (s JobState) Terminal() bool {
	return s == JobStateSucceeded || s == JobStateFailed
}

// Active reports whether a job is in flight.
func (s JobState) Active() bool {
	switch s {
	case JobStateSubmitting, JobStatePolling, JobStateFetching:
		return true
	default:
		return false
	}
}

// Settings contains user-selectable runtime configuration.
type Settings struct {
	ServiceBase          string        `json:"serviceBase" yaml:"service_base" mapstructure:"service_base" validate:"required,url"`
	OutputDir            string        `json:"outputDir" yaml:"output_dir" mapstructure:"output_dir" validate:"required"`
	LimitTargets         int           `json:"limitTargets" yaml:"limit_targets" mapstructure:"limit_targets" validate:"min=1,max=1000"`
	Seed                 int           `json:"seed" yaml:"seed" mapstructure:"seed" validate:"min=1,max=100"`
	PollInterval         time.Duration `json:"pollInterval" yaml:"poll_interval" mapstructure:"poll_interval" validate:"gt=0"`
	PollMaxAttempts      int           `json:"pollMaxAttempts" yaml:"poll_max_attempts" mapstructure:"poll_max_attempts" validate:"min=0"`
	PollTransportRetries int           `json:"pollTransportRetries" yaml:"poll_transport_retries" mapstructure:"poll_transport_retries" validate:"min=0"`
	RequestTimeout       time.Duration `json:"requestTimeout" yaml:"request_timeout" mapstructure:"request_timeout" validate:"min=0"`
	RequestsPerSecond    float64       `json:"requestsPerSecond" yaml:"requests_per_second" mapstructure:"requests_per_second" validate:"min=0"`
	OTLPEndpoint         string        `json:"otlpEndpoint" yaml:"otlp_endpoint" mapstructure:"otlp_endpoint"`
	LogLevel             string        `json:"logLevel" yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// Parameters extracts the submission parameters from settings.
func (s Settings) Parameters() SubmissionParameters {
	return SubmissionParameters{LimitTargets: s.LimitTargets, Seed: s.Seed}
}
