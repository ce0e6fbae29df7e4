package bootstrap

import (
	"context"
	"fmt"
	"os"
	"strings"

	"exocal-client/internal/config"
	"exocal-client/internal/domain"
)

// FixDiagnostic applies the remediation for one diagnostic item and reruns
// the checks. Only local problems can be fixed; the service is out of reach.
func (a *App) FixDiagnostic(ctx context.Context, itemID string, sel *domain.InputSelection) (domain.DiagnosticReport, error) {
	id := strings.TrimSpace(itemID)
	if id == "" {
		return domain.DiagnosticReport{}, fmt.Errorf("diagnostic item id is required")
	}

	a.mu.Lock()
	settings := a.Settings
	a.mu.Unlock()

	var (
		changed bool
		fixErr  error
	)
	switch id {
	case "output_dir":
		settings, changed, fixErr = fixOutputDir(settings)
	default:
		return domain.DiagnosticReport{}, fmt.Errorf("unsupported diagnostic item id: %s", id)
	}

	if changed {
		if a.Store != nil {
			if err := a.Store.Save(settings); err != nil {
				return a.RefreshDiagnostics(ctx, sel), fmt.Errorf("save settings after fix: %w", err)
			}
		}
		a.mu.Lock()
		a.Settings = settings
		a.mu.Unlock()
	}

	report := a.RefreshDiagnostics(ctx, sel)
	return report, fixErr
}

// fixOutputDir creates the output directory, switching to the default
// location when none is configured.
func fixOutputDir(settings domain.Settings) (domain.Settings, bool, error) {
	outputDir := strings.TrimSpace(settings.OutputDir)
	changed := false
	if outputDir == "" {
		outputDir = config.DefaultSettings().OutputDir
		settings.OutputDir = outputDir
		changed = true
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return settings, changed, fmt.Errorf("create output directory %s: %w", outputDir, err)
	}
	return settings, changed, nil
}
