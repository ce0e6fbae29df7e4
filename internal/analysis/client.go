// Package analysis talks to the remote ExoCAL analysis service.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"exocal-client/internal/domain"
	"exocal-client/internal/logger"
	"exocal-client/internal/upload"
)

// RequestIDHeader carries a per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// Config configures a Client.
type Config struct {
	ServiceBase       string
	Timeout           time.Duration
	RequestsPerSecond float64
	TracerProvider    trace.TracerProvider
	// Transport overrides the base round tripper; nil uses http.DefaultTransport.
	Transport http.RoundTripper
}

// Client wraps the service's HTTP endpoints.
type Client struct {
	base      string
	http      *http.Client
	limiter   *RateLimiter
	tracer    trace.Tracer
	log       *logger.Logger
	requestID func() string
}

// NewClient validates the service base and builds an instrumented client.
func NewClient(cfg Config, log *logger.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.ServiceBase), "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid service base %q", cfg.ServiceBase)
	}

	tp := cfg.TracerProvider
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	rt := cfg.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}

	return &Client{
		base: base,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(rt, otelhttp.WithTracerProvider(tp)),
		},
		limiter:   NewRateLimiter(cfg.RequestsPerSecond, 1),
		tracer:    tp.Tracer("exocal-client/analysis"),
		log:       log,
		requestID: uuid.NewString,
	}, nil
}

// Base returns the normalized service base URL.
func (c *Client) Base() string {
	return c.base
}

// Submission is the service's acknowledgement of an accepted upload.
type Submission struct {
	JobID       string `json:"job_id"`
	StatusURL   string `json:"status_url"`
	DownloadURL string `json:"download_url"`
}

// Submit posts the payload to /api/upload. It never retries.
func (c *Client) Submit(ctx context.Context, p *upload.Payload) (Submission, error) {
	ctx, span := c.tracer.Start(ctx, "analysis.Submit",
		trace.WithAttributes(attribute.StringSlice("upload.fields", p.Fields)))
	defer span.End()

	target := ResolveEndpoint(c.base, "/api/upload") + "?" + p.Query.Encode()
	req, err := c.newRequest(ctx, http.MethodPost, target, p.Reader())
	if err != nil {
		return Submission{}, endSpan(span, err)
	}
	req.Header.Set("Content-Type", p.ContentType)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Submission{}, endSpan(span, ctx.Err())
		}
		return Submission{}, endSpan(span, networkError(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Submission{}, endSpan(span, networkError(err))
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Submission{}, endSpan(span, classifyResponse(resp.StatusCode, body))
	}

	var sub Submission
	if err := json.Unmarshal(body, &sub); err != nil {
		return Submission{}, endSpan(span, malformedError(resp.StatusCode, err))
	}
	if sub.JobID == "" || sub.StatusURL == "" || sub.DownloadURL == "" {
		return Submission{}, endSpan(span, malformedError(resp.StatusCode, errors.New("missing job fields")))
	}

	sub.StatusURL = ResolveEndpoint(c.base, sub.StatusURL)
	sub.DownloadURL = ResolveEndpoint(c.base, sub.DownloadURL)
	span.SetAttributes(attribute.String("job.id", sub.JobID))
	c.log.Info(ctx, "upload accepted", "job_id", sub.JobID, "fields", p.Fields)
	return sub, nil
}

// StatusReport is one response from a job's status endpoint.
type StatusReport struct {
	State    string           `json:"state"`
	Progress *domain.Progress `json:"progress,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// Status fetches the current job status. Requests pass through the
// client's rate limiter.
func (c *Client) Status(ctx context.Context, statusURL string) (StatusReport, error) {
	ctx, span := c.tracer.Start(ctx, "analysis.Status")
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		return StatusReport{}, endSpan(span, err)
	}

	var report StatusReport
	if err := c.getJSON(ctx, statusURL, &report); err != nil {
		return StatusReport{}, endSpan(span, err)
	}
	span.SetAttributes(attribute.String("job.state", report.State))
	return report, nil
}

// Download opens the body of a bundle URL. The caller closes it.
func (c *Client) Download(ctx context.Context, downloadURL string) (io.ReadCloser, error) {
	ctx, span := c.tracer.Start(ctx, "analysis.Download")
	defer span.End()

	resp, err := c.get(ctx, downloadURL)
	if err != nil {
		return nil, endSpan(span, err)
	}
	return resp.Body, nil
}

// Health probes GET {base}/health and returns the response status code.
func (c *Client) Health(ctx context.Context) (int, error) {
	ctx, span := c.tracer.Start(ctx, "analysis.Health")
	defer span.End()

	req, err := c.newRequest(ctx, http.MethodGet, ResolveEndpoint(c.base, "/health"), nil)
	if err != nil {
		return 0, endSpan(span, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, endSpan(span, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// StatusCodeError reports an unexpected HTTP status.
type StatusCodeError struct {
	URL        string
	StatusCode int
}

func (e *StatusCodeError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set(RequestIDHeader, c.requestID())
	return req, nil
}

// get issues a GET and returns the response only for 2xx statuses.
func (c *Client) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := c.newRequest(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", target, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, &StatusCodeError{URL: target, StatusCode: resp.StatusCode}
	}
	c.log.Debug(ctx, "request completed", "url", target, "status", resp.StatusCode)
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, target string, out any) error {
	resp, err := c.get(ctx, target)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", target, err)
	}
	return nil
}

func (c *Client) getText(ctx context.Context, target string) (string, error) {
	resp, err := c.get(ctx, target)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", target, err)
	}
	return string(data), nil
}

func endSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
