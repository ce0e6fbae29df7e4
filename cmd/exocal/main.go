package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/automaxprocs/maxprocs"

	"exocal-client/internal/bootstrap"
	"exocal-client/internal/config"
	"exocal-client/internal/domain"
	"exocal-client/internal/upload"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitUsage       = 2
	exitInterrupted = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	_, _ = maxprocs.Set()

	fs := pflag.NewFlagSet("exocal", pflag.ContinueOnError)
	fs.SortFlags = false

	inputs := map[domain.DatasetKind]*string{}
	demos := map[domain.DatasetKind]*bool{}
	for _, kind := range domain.DatasetKinds {
		inputs[kind] = fs.String(string(kind), "", kind.Label()+" CSV file to upload")
		demos[kind] = fs.Bool("demo-"+string(kind), false, "use the service's demo data for "+kind.Label())
	}

	configPath := fs.String("config", config.DefaultPath(), "settings file")
	fs.String("service-base", config.DefaultServiceBase, "analysis service base URL")
	fs.String("output-dir", "", "directory for downloaded result bundles")
	fs.Int("limit-targets", domain.DefaultLimitTargets, "maximum targets analysed per dataset (1-1000)")
	fs.Int("seed", domain.DefaultSeed, "random seed (1-100)")
	fs.Duration("poll-interval", config.DefaultPollInterval, "delay between status polls")
	fs.Int("poll-max-attempts", 0, "give up after this many polls (0 = unlimited)")
	fs.Int("poll-transport-retries", 0, "retries for a failed status request before the job fails")
	fs.Duration("request-timeout", 60*time.Second, "per-request HTTP timeout")
	fs.Float64("requests-per-second", 0, "status request rate limit (0 = unlimited)")
	fs.String("otlp-endpoint", "", "OTLP gRPC endpoint for traces and metrics")
	fs.String("log-level", "info", "log level: debug, info, warn, error")

	diagnose := fs.Bool("diagnose", false, "run startup checks and exit")
	fix := fs.String("fix", "", "apply the fix for one diagnostic item (output_dir) and exit")
	resultsFor := fs.String("results", "", "show the results of an existing job id and exit")
	bundle := fs.Bool("bundle", false, "also save the full results bundle as exocal_results_{id}.zip")
	noResults := fs.Bool("no-results", false, "skip the results summary after a successful job")
	saveSettings := fs.Bool("save-settings", false, "write the effective settings to the settings file")
	open := fs.Bool("open", false, "open the output folder when the job succeeds")

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	store := config.NewFileStore(*configPath)
	store.BindFlags(fs)
	settings, err := store.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load settings: %v\n", err)
		return exitUsage
	}

	app, err := bootstrap.New(bootstrap.Options{Settings: settings, Store: store})
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap app: %v\n", err)
		return exitFailure
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		app.Close(shutdownCtx)
	}()

	if *saveSettings {
		saved, err := app.SaveSettings(app.Settings)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitFailure
		}
		fmt.Printf("Settings saved to %s (service %s)\n", store.Path(), saved.ServiceBase)
	}

	sel := domain.NewInputSelection()
	for _, kind := range domain.DatasetKinds {
		if *demos[kind] {
			sel.SetDemo(kind, true)
		} else if *inputs[kind] != "" {
			sel.SetFile(kind, *inputs[kind])
		}
	}

	if *fix != "" {
		report, err := app.FixDiagnostic(ctx, *fix, sel)
		bootstrap.WriteDiagnostics(os.Stdout, report)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitFailure
		}
		return exitOK
	}

	if *diagnose {
		report := app.RefreshDiagnostics(ctx, sel)
		bootstrap.WriteDiagnostics(os.Stdout, report)
		if report.HasFailures {
			return exitFailure
		}
		return exitOK
	}

	if *resultsFor != "" {
		if err := app.ShowResults(ctx, *resultsFor, *bundle); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitCode(ctx)
		}
		return exitOK
	}

	if !sel.HasAny() {
		if *saveSettings {
			return exitOK
		}
		fmt.Fprintln(os.Stderr, upload.ErrNoInput.Error()+"; pass --koi/--toi/--k2 or a --demo-* flag")
		fs.PrintDefaults()
		return exitUsage
	}

	// Service problems are warnings; the submission reports the real error.
	for _, item := range app.RefreshDiagnostics(ctx, sel).Items {
		if item.Status != domain.DiagnosticStatusPass {
			fmt.Fprintf(os.Stderr, "warning: %s: %s\n", item.Name, item.Message)
		}
	}

	job, err := app.Analyze(ctx, sel, app.Settings.Parameters())
	if err != nil {
		var vErr *upload.ValidationError
		if errors.As(err, &vErr) {
			fmt.Fprintln(os.Stderr, err)
			return exitUsage
		}
		if ctx.Err() == nil {
			fmt.Fprintln(os.Stderr, err)
		}
		return exitCode(ctx)
	}

	if *open && job.Delivery != nil && !job.Delivery.Fallback {
		if err := app.OpenOutputFolder(job.Delivery.Path); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}

	if !*noResults {
		if err := app.ShowResults(ctx, job.ID, *bundle); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitCode(ctx)
		}
	}
	return exitOK
}

func exitCode(ctx context.Context) int {
	if ctx.Err() != nil {
		return exitInterrupted
	}
	return exitFailure
}
