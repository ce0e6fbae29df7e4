package bootstrap

import (
	"bytes"
	"strings"
	"testing"

	"exocal-client/internal/domain"
	"exocal-client/internal/jobs"
)

// TestFormatProgress checks the progress line layout.
func TestFormatProgress(t *testing.T) {
	tests := []struct {
		name string
		in   domain.Progress
		want string
	}{
		{"full", domain.Progress{Dataset: "toi", Percent: 12.5, Message: "Scoring", LastTarget: "TIC 1"}, "TOI: 12.5% Scoring (last target: TIC 1)"},
		{"percent only", domain.Progress{Percent: 100}, "100.0%"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatProgress(tt.in); got != tt.want {
				t.Fatalf("FormatProgress() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestDeliveryMessage checks each delivery outcome.
func TestDeliveryMessage(t *testing.T) {
	if got := DeliveryMessage(&domain.Delivery{Path: "/out/results.zip"}); got != "Results saved to /out/results.zip" {
		t.Fatalf("saved: %q", got)
	}
	opened := DeliveryMessage(&domain.Delivery{Fallback: true, FallbackURL: "https://svc/d"})
	if !strings.Contains(opened, "opened https://svc/d") {
		t.Fatalf("opened: %q", opened)
	}
	manual := DeliveryMessage(&domain.Delivery{Fallback: true, FallbackURL: "https://svc/d", FallbackErr: "no browser"})
	if !strings.Contains(manual, "no browser") || !strings.Contains(manual, "https://svc/d") {
		t.Fatalf("manual: %q", manual)
	}
}

// TestProgressPrinterCoalescesDuplicates checks plain output dedupes snapshots.
func TestProgressPrinterCoalescesDuplicates(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressPrinter(&buf)
	snap := &domain.Progress{Dataset: "koi", Percent: 40}

	p.Handle(jobs.Event{Type: jobs.EventTypeProgress, Progress: snap})
	p.Flush()
	p.Handle(jobs.Event{Type: jobs.EventTypeProgress, Progress: snap})
	p.Flush()
	p.Handle(jobs.Event{Type: jobs.EventTypeStatus, Message: "Downloading results"})

	want := "KOI: 40.0%\nDownloading results\n"
	if buf.String() != want {
		t.Fatalf("output = %q, want %q", buf.String(), want)
	}
}

// TestProgressPrinterFlushesBeforeTerminalLines checks ordering of pending progress.
func TestProgressPrinterFlushesBeforeTerminalLines(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressPrinter(&buf)

	p.Handle(jobs.Event{Type: jobs.EventTypeProgress, Progress: &domain.Progress{Percent: 99}})
	p.Handle(jobs.Event{Type: jobs.EventTypeError, Message: "Analysis failed"})
	p.Flush()

	want := "99.0%\nError: Analysis failed\n"
	if buf.String() != want {
		t.Fatalf("output = %q, want %q", buf.String(), want)
	}
}
