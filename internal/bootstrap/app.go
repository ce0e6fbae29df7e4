package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/browser"

	"exocal-client/internal/analysis"
	"exocal-client/internal/candidates"
	"exocal-client/internal/config"
	"exocal-client/internal/delivery"
	"exocal-client/internal/diagnostics"
	"exocal-client/internal/domain"
	"exocal-client/internal/jobs"
	"exocal-client/internal/logger"
	"exocal-client/internal/poller"
	"exocal-client/internal/results"
	"exocal-client/internal/telemetry"
	"exocal-client/internal/upload"
)

// ServiceName tags logs and telemetry.
const ServiceName = "exocal-client"

// Options configure New.
type Options struct {
	Settings domain.Settings
	Store    config.Store
	// Out receives progress and results; LogOut receives structured logs.
	Out    io.Writer
	LogOut io.Writer
	// Transport overrides the HTTP round tripper, mainly for tests.
	Transport http.RoundTripper
}

// App wires configuration, the job controller and the results view.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Client      *analysis.Client
	Jobs        *jobs.Controller
	Results     *results.Loader
	Diagnostics domain.DiagnosticReport

	checker  *diagnostics.Checker
	progress *ProgressPrinter
	log      *logger.Logger
	out      io.Writer
	shutdown func(context.Context)
	openPath func(string) error

	mu sync.Mutex
}

// New builds the application from already-loaded settings.
func New(opts Options) (*App, error) {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.LogOut == nil {
		opts.LogOut = os.Stderr
	}

	settings := config.NormalizeSettings(opts.Settings)
	log := logger.New(opts.LogOut, logger.ParseLevel(settings.LogLevel), ServiceName, telemetry.TraceID)

	providers, shutdown, err := telemetry.Init(log, telemetry.Config{
		ServiceName:      ServiceName,
		ExporterEndpoint: settings.OTLPEndpoint,
		Probability:      1,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	metrics, err := telemetry.NewJobMetrics(providers.Meter)
	if err != nil {
		shutdown(context.Background())
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	client, err := analysis.NewClient(analysis.Config{
		ServiceBase:       settings.ServiceBase,
		Timeout:           settings.RequestTimeout,
		RequestsPerSecond: settings.RequestsPerSecond,
		TracerProvider:    providers.Tracer,
		Transport:         opts.Transport,
	}, log)
	if err != nil {
		shutdown(context.Background())
		return nil, err
	}

	fetcher := delivery.NewFetcher(client, settings.OutputDir, log, metrics)
	statusPoller := poller.New(client, poller.Policy{
		Interval:         settings.PollInterval,
		MaxAttempts:      settings.PollMaxAttempts,
		TransportRetries: settings.PollTransportRetries,
	}, log, metrics)

	progress := NewProgressPrinter(opts.Out)
	controller := jobs.NewController(jobs.Deps{
		Builder:   upload.NewBuilder(),
		Submitter: client,
		Poller:    statusPoller,
		Fetcher:   fetcher,
		Bus:       jobs.NewEventBus(1000),
		Observer:  progress.Handle,
		Log:       log,
		Metrics:   metrics,
	})

	return &App{
		Settings: settings,
		Store:    opts.Store,
		Client:   client,
		Jobs:     controller,
		Results:  results.NewLoader(client, fetcher, log),
		checker:  diagnostics.NewChecker(client),
		progress: progress,
		log:      log,
		out:      opts.Out,
		shutdown: shutdown,
		openPath: browser.OpenFile,
	}, nil
}

// RefreshDiagnostics reruns startup checks for the given selection.
func (a *App) RefreshDiagnostics(ctx context.Context, sel *domain.InputSelection) domain.DiagnosticReport {
	a.mu.Lock()
	settings := a.Settings
	a.mu.Unlock()

	report := a.checker.Run(ctx, settings, sel)
	for _, item := range report.Items {
		if item.Status != domain.DiagnosticStatusPass {
			a.log.Warn(ctx, "diagnostic check", "id", item.ID, "status", item.Status, "message", item.Message)
		}
	}

	a.mu.Lock()
	a.Diagnostics = report
	a.mu.Unlock()
	return report
}

// SaveSettings normalizes and persists settings.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	if a.Store == nil {
		return domain.Settings{}, errors.New("no settings store configured")
	}
	normalized := config.NormalizeSettings(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = normalized
	a.mu.Unlock()
	return normalized, nil
}

// Analyze submits the selection and blocks until the job ends. Cancelling
// ctx abandons the job.
func (a *App) Analyze(ctx context.Context, sel *domain.InputSelection, params domain.SubmissionParameters) (domain.Job, error) {
	if _, err := a.Jobs.Submit(ctx, sel, params); err != nil {
		return a.Jobs.Current(), err
	}

	job, err := a.Jobs.Wait(ctx)
	if err != nil {
		a.Jobs.Reset()
		return job, err
	}
	a.progress.Flush()

	if job.State == domain.JobStateFailed {
		return job, errors.New(job.Error)
	}
	return job, nil
}

// ShowResults loads the results view for jobID and prints it. When bundle
// is set the full bundle is saved as exocal_results_{id}.zip as well.
func (a *App) ShowResults(ctx context.Context, jobID string, bundle bool) error {
	view, err := a.Results.Load(ctx, jobID)
	if err != nil {
		return err
	}
	if err := WriteView(a.out, view); err != nil {
		return err
	}

	if bundle {
		path, err := a.Results.DownloadBundle(ctx, jobID)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Bundle saved to %s\n", path)
	}
	return nil
}

// OpenOutputFolder opens the given path (or configured output dir) in the
// system file manager.
func (a *App) OpenOutputFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		a.mu.Lock()
		target = a.Settings.OutputDir
		a.mu.Unlock()
	}
	if target == "" {
		return fmt.Errorf("output path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}
	if err := a.openPath(openPath); err != nil {
		return fmt.Errorf("open file manager: %w", err)
	}
	return nil
}

// CurrentJob returns current job metadata and state.
func (a *App) CurrentJob() domain.Job {
	return a.Jobs.Current()
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.Jobs.Events().Since(sinceSeq)
}

// Close stops in-flight work and flushes telemetry.
func (a *App) Close(ctx context.Context) {
	a.Jobs.Close()
	a.progress.Flush()
	a.shutdown(ctx)
}

// WriteView prints summary figures and the candidates table.
func WriteView(w io.Writer, view results.View) error {
	fmt.Fprintf(w, "Analysis results for job %s\n", view.JobID)
	if len(view.Figures) > 0 {
		fmt.Fprintln(w, "Figures:")
		for _, fig := range view.Figures {
			fmt.Fprintf(w, "  [%s] %s\n", fig.Dataset, fig.URL)
		}
	}
	fmt.Fprintln(w, "Top candidates:")
	return candidates.WriteTable(w, view.Candidates)
}

// WriteDiagnostics prints a diagnostics report, one line per check.
func WriteDiagnostics(w io.Writer, report domain.DiagnosticReport) {
	for _, item := range report.Items {
		fmt.Fprintf(w, "[%s] %s: %s\n", strings.ToUpper(string(item.Status)), item.Name, item.Message)
		if item.Hint != "" {
			fmt.Fprintf(w, "       %s\n", item.Hint)
		}
	}
}
