// Package results loads the data shown for a finished job.
package results

import (
	"context"
	"fmt"
	"slices"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"exocal-client/internal/analysis"
	"exocal-client/internal/candidates"
	"exocal-client/internal/domain"
	"exocal-client/internal/logger"
)

// Source is the subset of the service client the loader needs.
type Source interface {
	Base() string
	Figures(ctx context.Context, jobID string) (analysis.FigureManifest, error)
	Artifacts(ctx context.Context, jobID string) (analysis.Artifacts, error)
	TopCandidates(ctx context.Context, jobID string) (string, error)
	BundleURL(jobID string) string
}

// Saver writes a URL's body into the output directory.
type Saver interface {
	Save(ctx context.Context, url, name string) (string, error)
}

// Figure is one displayable image.
type Figure struct {
	URL     string
	Dataset string
	Type    string
}

// View is everything the results screen shows.
type View struct {
	JobID      string
	Figures    []Figure
	Artifacts  analysis.Artifacts
	Candidates []candidates.Candidate
}

// LoadError wraps any failure while loading a results view.
type LoadError struct {
	Op  string
	Err error
}

func (e *LoadError) Error() string {
	if e.Op == "download" {
		return "Failed to download results"
	}
	return "Failed to load results data"
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Loader fetches results data and bundles.
type Loader struct {
	source Source
	saver  Saver
	log    *logger.Logger
}

// NewLoader creates a Loader.
func NewLoader(source Source, saver Saver, log *logger.Logger) *Loader {
	return &Loader{source: source, saver: saver, log: log}
}

// Load fetches the figure manifest, artifacts and top candidates
// concurrently. Any failure fails the whole view.
func (l *Loader) Load(ctx context.Context, jobID string) (View, error) {
	var (
		manifest  analysis.FigureManifest
		artifacts analysis.Artifacts
		csvText   string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := l.source.Figures(gctx, jobID)
		manifest = m
		return err
	})
	g.Go(func() error {
		a, err := l.source.Artifacts(gctx, jobID)
		artifacts = a
		return err
	})
	g.Go(func() error {
		text, err := l.source.TopCandidates(gctx, jobID)
		csvText = text
		return err
	})
	if err := g.Wait(); err != nil {
		l.log.Error(ctx, "loading results failed", "job_id", jobID, "error", err)
		return View{}, &LoadError{Op: "load", Err: err}
	}

	list, err := candidates.Parse(csvText)
	if err != nil {
		return View{}, &LoadError{Op: "parse", Err: fmt.Errorf("parse top candidates: %w", err)}
	}

	return View{
		JobID:      jobID,
		Figures:    SummaryFigures(manifest, l.source.Base()),
		Artifacts:  artifacts,
		Candidates: list,
	}, nil
}

// DownloadBundle saves the job's bundle as exocal_results_{id}.zip.
func (l *Loader) DownloadBundle(ctx context.Context, jobID string) (string, error) {
	path, err := l.saver.Save(ctx, l.source.BundleURL(jobID), BundleFileName(jobID))
	if err != nil {
		l.log.Error(ctx, "bundle download failed", "job_id", jobID, "error", err)
		return "", &LoadError{Op: "download", Err: err}
	}
	return path, nil
}

// BundleFileName is the file name used by DownloadBundle.
func BundleFileName(jobID string) string {
	return "exocal_results_" + jobID + ".zip"
}

// SummaryFigures flattens the manifest into summary images only, resolved
// against base. Known datasets come first in slot order.
func SummaryFigures(m analysis.FigureManifest, base string) []Figure {
	return lo.FlatMap(datasetOrder(m), func(name string, _ int) []Figure {
		return lo.Map(m.Datasets[name].Summary, func(u string, _ int) Figure {
			return Figure{URL: analysis.ResolveEndpoint(base, u), Dataset: name, Type: "summary"}
		})
	})
}

func datasetOrder(m analysis.FigureManifest) []string {
	known := lo.FilterMap(domain.DatasetKinds, func(k domain.DatasetKind, _ int) (string, bool) {
		_, ok := m.Datasets[string(k)]
		return string(k), ok
	})
	rest := lo.Without(lo.Keys(m.Datasets), known...)
	slices.Sort(rest)
	return append(known, rest...)
}
