// Package delivery downloads finished result bundles to disk.
package delivery

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/browser"

	"exocal-client/internal/domain"
	"exocal-client/internal/logger"
	"exocal-client/internal/telemetry"
)

// ResultsFileName is the name a job's bundle is saved under.
const ResultsFileName = "results.zip"

// DeliveryError describes a failed primary download.
type DeliveryError struct {
	URL string
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Downloader opens a bundle URL.
type Downloader interface {
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// Fetcher saves bundles into an output directory and falls back to the
// system browser when the download fails.
type Fetcher struct {
	source    Downloader
	outputDir string
	openURL   func(url string) error
	log       *logger.Logger
	metrics   telemetry.JobMetrics
}

// NewFetcher creates a Fetcher writing into outputDir. metrics may be nil.
func NewFetcher(source Downloader, outputDir string, log *logger.Logger, metrics telemetry.JobMetrics) *Fetcher {
	return &Fetcher{
		source:    source,
		outputDir: outputDir,
		openURL:   browser.OpenURL,
		log:       log,
		metrics:   metrics,
	}
}

// NewFetcherForTests creates a Fetcher with a custom browser opener.
func NewFetcherForTests(source Downloader, outputDir string, openURL func(string) error) *Fetcher {
	return &Fetcher{source: source, outputDir: outputDir, openURL: openURL}
}

// OutputDir returns the directory bundles are written to.
func (f *Fetcher) OutputDir() string {
	return f.outputDir
}

// FetchAndDeliver downloads url to {OutputDir}/results.zip. When that fails
// it opens url in the browser instead and returns the primary failure as a
// *DeliveryError alongside the recorded Delivery.
func (f *Fetcher) FetchAndDeliver(ctx context.Context, url string) (domain.Delivery, error) {
	path, err := f.Save(ctx, url, ResultsFileName)
	if err == nil {
		f.log.Info(ctx, "results saved", "path", path)
		f.record(ctx, false)
		return domain.Delivery{Path: path}, nil
	}
	if ctx.Err() != nil {
		return domain.Delivery{}, ctx.Err()
	}

	primary := &DeliveryError{URL: url, Err: err}
	f.log.Warn(ctx, "results download failed, opening in browser", "url", url, "error", err)

	d := domain.Delivery{Fallback: true, FallbackURL: url}
	if openErr := f.openURL(url); openErr != nil {
		d.FallbackErr = openErr.Error()
		f.log.Error(ctx, "browser fallback failed", "url", url, "error", openErr)
	}
	f.record(ctx, true)
	return d, primary
}

// Save downloads url into the output directory under name. The file only
// appears once the body has been fully written.
func (f *Fetcher) Save(ctx context.Context, url, name string) (string, error) {
	if err := os.MkdirAll(f.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	body, err := f.source.Download(ctx, url)
	if err != nil {
		return "", err
	}
	defer body.Close()

	tmp, err := os.CreateTemp(f.outputDir, "."+name+"-*.part")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", name, err)
	}

	target := filepath.Join(f.outputDir, name)
	if err := os.Rename(tmpPath, target); err != nil {
		return "", fmt.Errorf("move %s into place: %w", name, err)
	}
	committed = true
	return target, nil
}

func (f *Fetcher) record(ctx context.Context, fallback bool) {
	if f.metrics != nil {
		f.metrics.IncDeliveries(ctx, fallback)
	}
}
