package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"exocal-client/internal/diagnostics"
	"exocal-client/internal/domain"
)

// TestFixOutputDirCreatesConfiguredDirectory ensures existing settings are kept.
func TestFixOutputDirCreatesConfiguredDirectory(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "out")

	settings, changed, err := fixOutputDir(domain.Settings{OutputDir: target})
	if err != nil {
		t.Fatalf("fix: %v", err)
	}
	if changed {
		t.Fatal("configured directory should not change settings")
	}
	if settings.OutputDir != target {
		t.Fatalf("OutputDir = %s, want %s", settings.OutputDir, target)
	}
	if info, err := os.Stat(target); err != nil || !info.IsDir() {
		t.Fatalf("directory not created: %v", err)
	}
}

// TestFixDiagnosticPersistsDefaultOutputDir ensures an empty dir is replaced and saved.
func TestFixDiagnosticPersistsDefaultOutputDir(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	store := &fakeStore{}
	app := &App{
		Store:    store,
		checker:  diagnostics.NewChecker(nil),
		Settings: domain.Settings{OutputDir: " "},
	}

	report, err := app.FixDiagnostic(context.Background(), "output_dir", domain.NewInputSelection())
	if err != nil {
		t.Fatalf("fix: %v", err)
	}
	if len(store.saved) != 1 || store.saved[0].OutputDir == "" {
		t.Fatalf("settings not saved: %+v", store.saved)
	}
	if report.HasFailures {
		t.Fatalf("report still failing: %+v", report.Items)
	}
}

// TestFixDiagnosticRejectsUnknownItem ensures only local checks are fixable.
func TestFixDiagnosticRejectsUnknownItem(t *testing.T) {
	app := &App{checker: diagnostics.NewChecker(nil)}
	if _, err := app.FixDiagnostic(context.Background(), "service_health", nil); err == nil {
		t.Fatal("expected error for unsupported item")
	}
}
