package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"exocal-client/internal/domain"
	"exocal-client/internal/jobs"
)

// fakeStore records saved settings for App tests.
type fakeStore struct {
	settings domain.Settings
	saved    []domain.Settings
	err      error
}

// Load returns preconfigured settings.
func (s *fakeStore) Load() (domain.Settings, error) {
	return s.settings, nil
}

// Save records the settings or returns the injected error.
func (s *fakeStore) Save(settings domain.Settings) error {
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, settings)
	return nil
}

// syncBuffer guards output written from debounce timers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// fakeService emulates the analysis service. Status polls report running
// progress until pollsBeforeDone, then finalState.
type fakeService struct {
	pollsBeforeDone int32
	finalState      string
	finalError      string

	polls   atomic.Int32
	uploads atomic.Int32
	query   atomic.Value
}

func (f *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/upload", func(w http.ResponseWriter, r *http.Request) {
		f.uploads.Add(1)
		f.query.Store(r.URL.RawQuery)
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]string{
			"job_id":       "j1",
			"status_url":   "/api/jobs/j1/status",
			"download_url": "/api/jobs/j1/download",
		})
	})
	mux.HandleFunc("/api/jobs/j1/status", func(w http.ResponseWriter, r *http.Request) {
		n := f.polls.Add(1)
		if n <= f.pollsBeforeDone {
			writeJSON(w, map[string]any{
				"state":    "running",
				"progress": map[string]any{"dataset": "toi", "percent": 12.5, "message": "Scoring", "last_target": "TIC 1"},
			})
			return
		}
		writeJSON(w, map[string]any{"state": f.finalState, "error": f.finalError})
	})
	mux.HandleFunc("/api/jobs/j1/download", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "PK\x03\x04bundle")
	})
	mux.HandleFunc("/api/jobs/j1/figs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"datasets": map[string]any{
			"toi": map[string]any{"summary": []string{"/figs/toi_summary.png"}},
		}})
	})
	mux.HandleFunc("/api/jobs/j1/artifacts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"model": "v2"})
	})
	mux.HandleFunc("/api/jobs/j1/top-candidates.csv", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "dataset,designation,prob,P_days\ntoi,TOI-700 d,1,37.42\n")
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestApp(t *testing.T, base, outputDir string, out io.Writer) *App {
	t.Helper()
	app, err := New(Options{
		Settings: domain.Settings{
			ServiceBase:  base,
			OutputDir:    outputDir,
			PollInterval: 5 * time.Millisecond,
			LogLevel:     "error",
		},
		Store:  &fakeStore{},
		Out:    out,
		LogOut: io.Discard,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { app.Close(context.Background()) })
	return app
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestAnalyzeEndToEndWritesBundle checks submit, poll and delivery against a fake service.
func TestAnalyzeEndToEndWritesBundle(t *testing.T) {
	svc := &fakeService{pollsBeforeDone: 2, finalState: "done"}
	server := httptest.NewServer(svc.handler())
	defer server.Close()

	outputDir := filepath.Join(t.TempDir(), "out")
	out := &syncBuffer{}
	app := newTestApp(t, server.URL, outputDir, out)

	sel := domain.NewInputSelection()
	sel.SetDemo(domain.DatasetTOI, true)

	job, err := app.Analyze(testContext(t), sel, domain.SubmissionParameters{LimitTargets: 5, Seed: 7})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if job.State != domain.JobStateSucceeded {
		t.Fatalf("state = %s, want succeeded", job.State)
	}
	if job.Delivery == nil || job.Delivery.Fallback {
		t.Fatalf("expected saved delivery, got %+v", job.Delivery)
	}

	data, err := os.ReadFile(filepath.Join(outputDir, "results.zip"))
	if err != nil {
		t.Fatalf("read bundle: %v", err)
	}
	if string(data) != "PK\x03\x04bundle" {
		t.Fatalf("bundle = %q", data)
	}
	if got := svc.query.Load().(string); !strings.Contains(got, "limit_targets=5") || !strings.Contains(got, "seed=7") {
		t.Fatalf("query = %q", got)
	}
	if svc.polls.Load() != 3 {
		t.Fatalf("polls = %d, want 3", svc.polls.Load())
	}

	text := out.String()
	for _, want := range []string{"Submitting", "Initializing analysis...", "Results saved to"} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}

	events := app.JobEvents(0)
	if len(events) == 0 || events[len(events)-1].Type != jobs.EventTypeResult {
		t.Fatalf("last event should be the result, got %+v", events)
	}
}

// TestAnalyzeReportsServiceError checks the error state message.
func TestAnalyzeReportsServiceError(t *testing.T) {
	svc := &fakeService{finalState: "error", finalError: "TOI file has no tid column"}
	server := httptest.NewServer(svc.handler())
	defer server.Close()

	outputDir := filepath.Join(t.TempDir(), "out")
	out := &syncBuffer{}
	app := newTestApp(t, server.URL, outputDir, out)

	sel := domain.NewInputSelection()
	sel.SetDemo(domain.DatasetKOI, true)

	job, err := app.Analyze(testContext(t), sel, domain.DefaultParameters())
	if err == nil || err.Error() != "TOI file has no tid column" {
		t.Fatalf("err = %v", err)
	}
	if job.State != domain.JobStateFailed {
		t.Fatalf("state = %s, want failed", job.State)
	}
	if _, err := os.Stat(filepath.Join(outputDir, "results.zip")); !os.IsNotExist(err) {
		t.Fatalf("no bundle should be written, stat err = %v", err)
	}
	if !strings.Contains(out.String(), "Error: TOI file has no tid column") {
		t.Fatalf("output missing error line:\n%s", out.String())
	}
}

// TestAnalyzeWithoutInputMakesNoRequest checks client-side validation.
func TestAnalyzeWithoutInputMakesNoRequest(t *testing.T) {
	svc := &fakeService{finalState: "done"}
	server := httptest.NewServer(svc.handler())
	defer server.Close()

	app := newTestApp(t, server.URL, t.TempDir(), &syncBuffer{})

	_, err := app.Analyze(testContext(t), domain.NewInputSelection(), domain.DefaultParameters())
	if err == nil {
		t.Fatal("expected validation error")
	}
	if svc.uploads.Load() != 0 {
		t.Fatalf("uploads = %d, want 0", svc.uploads.Load())
	}
	if got := app.CurrentJob().State; got != domain.JobStateIdle {
		t.Fatalf("state = %s, want idle", got)
	}
}

// TestShowResultsPrintsView checks figure and table rendering plus bundle save.
func TestShowResultsPrintsView(t *testing.T) {
	server := httptest.NewServer((&fakeService{}).handler())
	defer server.Close()

	outputDir := t.TempDir()
	out := &syncBuffer{}
	app := newTestApp(t, server.URL, outputDir, out)

	if err := app.ShowResults(testContext(t), "j1", true); err != nil {
		t.Fatalf("show results: %v", err)
	}

	text := out.String()
	for _, want := range []string{
		"Analysis results for job j1",
		"[toi] " + server.URL + "/figs/toi_summary.png",
		"TOI-700 d *",
		"37.42",
		"Bundle saved to " + filepath.Join(outputDir, "exocal_results_j1.zip"),
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
}

// TestRefreshDiagnosticsStoresReport checks the report is kept on the app.
func TestRefreshDiagnosticsStoresReport(t *testing.T) {
	server := httptest.NewServer((&fakeService{}).handler())
	defer server.Close()

	app := newTestApp(t, server.URL, t.TempDir(), &syncBuffer{})
	report := app.RefreshDiagnostics(testContext(t), domain.NewInputSelection())

	if report.HasFailures {
		t.Fatalf("unexpected failures: %+v", report.Items)
	}
	if len(app.Diagnostics.Items) != len(report.Items) {
		t.Fatalf("diagnostics not stored")
	}

	var buf bytes.Buffer
	WriteDiagnostics(&buf, report)
	if !strings.Contains(buf.String(), "[PASS] Analysis service") {
		t.Fatalf("diagnostics output:\n%s", buf.String())
	}
}

// TestSaveSettingsNormalizesAndPersists checks settings persistence.
func TestSaveSettingsNormalizesAndPersists(t *testing.T) {
	store := &fakeStore{}
	app := &App{Store: store}

	saved, err := app.SaveSettings(domain.Settings{
		ServiceBase:  " https://svc.example/ ",
		OutputDir:    " /tmp/out ",
		LimitTargets: 0,
		Seed:         500,
		PollInterval: time.Second,
	})
	if err != nil {
		t.Fatalf("save settings: %v", err)
	}
	if saved.ServiceBase != "https://svc.example" || saved.OutputDir != "/tmp/out" {
		t.Fatalf("settings not normalized: %+v", saved)
	}
	if saved.LimitTargets != domain.DefaultLimitTargets || saved.Seed != domain.DefaultSeed {
		t.Fatalf("parameters not normalized: %+v", saved)
	}
	if len(store.saved) != 1 || app.Settings != saved {
		t.Fatalf("settings not persisted: %+v", store.saved)
	}
}

// TestSaveSettingsPropagatesStoreError checks write failures surface.
func TestSaveSettingsPropagatesStoreError(t *testing.T) {
	app := &App{Store: &fakeStore{err: errors.New("read-only")}}
	if _, err := app.SaveSettings(domain.Settings{}); err == nil {
		t.Fatal("expected error")
	}
}

// TestOpenOutputFolderUsesParentForFiles checks file paths open their directory.
func TestOpenOutputFolderUsesParentForFiles(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "results.zip")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var opened string
	app := &App{openPath: func(p string) error { opened = p; return nil }}
	if err := app.OpenOutputFolder(file); err != nil {
		t.Fatalf("open: %v", err)
	}
	if opened != dir {
		t.Fatalf("opened %q, want %q", opened, dir)
	}

	if err := app.OpenOutputFolder(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
