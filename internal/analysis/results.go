package analysis

import "context"

// FigureManifest lists generated images per dataset.
type FigureManifest struct {
	Datasets map[string]DatasetFigures `json:"datasets"`
}

// DatasetFigures holds the image URLs for one dataset.
type DatasetFigures struct {
	Summary []string `json:"summary"`
	Targets []string `json:"targets,omitempty"`
}

// Artifacts is the artifact listing for a finished job; its shape is owned
// by the service.
type Artifacts map[string]any

// Figures fetches GET /api/jobs/{id}/figs.
func (c *Client) Figures(ctx context.Context, jobID string) (FigureManifest, error) {
	ctx, span := c.tracer.Start(ctx, "analysis.Figures")
	defer span.End()

	var m FigureManifest
	if err := c.getJSON(ctx, ResolveEndpoint(c.base, jobPath(jobID, "figs")), &m); err != nil {
		return FigureManifest{}, endSpan(span, err)
	}
	return m, nil
}

// Artifacts fetches GET /api/jobs/{id}/artifacts.
func (c *Client) Artifacts(ctx context.Context, jobID string) (Artifacts, error) {
	ctx, span := c.tracer.Start(ctx, "analysis.Artifacts")
	defer span.End()

	var a Artifacts
	if err := c.getJSON(ctx, ResolveEndpoint(c.base, jobPath(jobID, "artifacts")), &a); err != nil {
		return nil, endSpan(span, err)
	}
	return a, nil
}

// TopCandidates fetches the raw CSV at GET /api/jobs/{id}/top-candidates.csv.
func (c *Client) TopCandidates(ctx context.Context, jobID string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "analysis.TopCandidates")
	defer span.End()

	text, err := c.getText(ctx, ResolveEndpoint(c.base, jobPath(jobID, "top-candidates.csv")))
	if err != nil {
		return "", endSpan(span, err)
	}
	return text, nil
}

// BundleURL returns the results-view download URL for a job.
func (c *Client) BundleURL(jobID string) string {
	return ResolveEndpoint(c.base, jobPath(jobID, "download"))
}
