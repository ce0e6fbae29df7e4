package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/Clever/csvlint"

	"exocal-client/internal/domain"
)

// HealthTimeout bounds the startup liveness probe.
const HealthTimeout = 5 * time.Second

// HealthProber probes the analysis service.
type HealthProber interface {
	Health(ctx context.Context) (int, error)
}

// Checker validates the service connection, the output directory and the
// selected input files. Service problems are warnings only.
type Checker struct {
	health     HealthProber
	stat       func(string) (os.FileInfo, error)
	open       func(string) (io.ReadCloser, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies. health may be nil
// to skip the service probe.
func NewChecker(health HealthProber) *Checker {
	return &Checker{
		health:     health,
		stat:       os.Stat,
		open:       func(name string) (io.ReadCloser, error) { return os.Open(name) },
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(ctx context.Context, settings domain.Settings, sel *domain.InputSelection) domain.DiagnosticReport {
	var items []domain.DiagnosticItem
	if c.health != nil {
		items = append(items, c.checkService(ctx, settings.ServiceBase))
	}
	items = append(items, c.checkOutputDir(settings.OutputDir))
	for _, kind := range domain.DatasetKinds {
		if path := sel.Slot(kind).FilePath; path != "" {
			items = append(items, c.checkInput(kind, path))
		}
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkService classifies the /health probe outcome.
func (c *Checker) checkService(ctx context.Context, base string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "service_health",
		Name: "Analysis service",
	}

	ctx, cancel := context.WithTimeout(ctx, HealthTimeout)
	defer cancel()

	code, err := c.health.Health(ctx)
	switch {
	case err != nil && errors.Is(err, syscall.ECONNREFUSED):
		item.Status = domain.DiagnosticStatusWarn
		item.Message = fmt.Sprintf("Connection refused: no service is listening at %s", base)
		item.Hint = "Start the analysis service or point service_base at a running instance."
	case err != nil && isTimeout(err):
		item.Status = domain.DiagnosticStatusWarn
		item.Message = "Request timeout: the analysis service is not responding."
		item.Hint = "Check the service load or your network connection."
	case err != nil:
		item.Status = domain.DiagnosticStatusWarn
		item.Message = fmt.Sprintf("Cannot reach analysis service: %v", err)
		item.Hint = "Check service_base and your network connection."
	case code == http.StatusNotFound:
		item.Status = domain.DiagnosticStatusWarn
		item.Message = "Health endpoint not found."
		item.Hint = "service_base may point at the wrong server."
	case code >= http.StatusInternalServerError:
		item.Status = domain.DiagnosticStatusWarn
		item.Message = fmt.Sprintf("Analysis service has internal issues (status %d).", code)
	case code < 200 || code > 299:
		item.Status = domain.DiagnosticStatusWarn
		item.Message = fmt.Sprintf("Health check returned status %d.", code)
	default:
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("Reachable at %s", base)
	}
	return item
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// checkOutputDir validates output directory existence and write access.
func (c *Checker) checkOutputDir(outputDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "output_dir",
		Name: "Output directory",
	}

	if strings.TrimSpace(outputDir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Output directory is empty."
		item.Hint = "Set an output directory where result bundles can be written."
		return item
	}

	if err := c.mkdirAll(outputDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create output directory: %s", outputDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(outputDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Output directory is not writable: %s", outputDir)
		item.Hint = "Without a writable directory results open in the browser instead."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", outputDir)
	return item
}

// checkInput verifies a selected CSV exists and lints its structure. Lint
// findings are warnings; the service has the final say.
func (c *Checker) checkInput(kind domain.DatasetKind, path string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "input_" + string(kind),
		Name: kind.Label(),
	}

	info, err := c.stat(path)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		if IsNotExist(err) {
			item.Message = fmt.Sprintf("Input file does not exist: %s", path)
		} else {
			item.Message = fmt.Sprintf("Cannot access input file: %s", path)
		}
		item.Hint = "Pick an existing .csv file or use the demo data for this slot."
		return item
	}
	if info.IsDir() {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Input path is a directory: %s", path)
		return item
	}

	f, err := c.open(path)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot read input file: %s", path)
		return item
	}
	defer f.Close()

	invalids, _, err := csvlint.Validate(f, ',', true)
	switch {
	case err != nil:
		item.Status = domain.DiagnosticStatusWarn
		item.Message = fmt.Sprintf("Could not parse %s as CSV: %v", path, err)
	case len(invalids) > 0:
		item.Status = domain.DiagnosticStatusWarn
		item.Message = fmt.Sprintf("%d malformed rows in %s (first: %v)", len(invalids), path, invalids[0])
		item.Hint = "Rows with a different column count than the header may be skipped by the service."
	default:
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("Valid CSV: %s", path)
	}
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	health HealthProber,
	stat func(string) (os.FileInfo, error),
	open func(string) (io.ReadCloser, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		health:     health,
		stat:       stat,
		open:       open,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}

// IsNotExist reports whether error represents file-not-found.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
