package bootstrap

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/mattn/go-isatty"

	"exocal-client/internal/domain"
	"exocal-client/internal/jobs"
)

// progressDebounce coalesces bursts of progress events into one redraw.
const progressDebounce = 100 * time.Millisecond

// ProgressPrinter renders job events as text. On a terminal progress is
// redrawn in place; otherwise each distinct snapshot gets its own line.
type ProgressPrinter struct {
	mu        sync.Mutex
	out       io.Writer
	inPlace   bool
	open      bool
	pending   *domain.Progress
	lastLine  string
	debounced func(func())
}

// NewProgressPrinter creates a printer for out.
func NewProgressPrinter(out io.Writer) *ProgressPrinter {
	inPlace := false
	if f, ok := out.(*os.File); ok {
		inPlace = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &ProgressPrinter{
		out:       out,
		inPlace:   inPlace,
		debounced: debounce.New(progressDebounce),
	}
}

// Handle is a jobs.Observer.
func (p *ProgressPrinter) Handle(e jobs.Event) {
	switch e.Type {
	case jobs.EventTypeProgress:
		if e.Progress == nil {
			return
		}
		snap := *e.Progress
		p.mu.Lock()
		p.pending = &snap
		p.mu.Unlock()
		p.debounced(p.Flush)
	case jobs.EventTypeStatus:
		if e.Message == "" {
			return
		}
		p.Flush()
		p.println(e.Message)
	case jobs.EventTypeResult:
		p.Flush()
		p.println(DeliveryMessage(e.Delivery))
	case jobs.EventTypeError:
		p.Flush()
		p.println("Error: " + e.Message)
	}
}

// Flush renders the latest pending progress snapshot, if any.
func (p *ProgressPrinter) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pending == nil {
		return
	}
	line := FormatProgress(*p.pending)
	p.pending = nil
	if line == p.lastLine {
		return
	}
	p.lastLine = line

	if p.inPlace {
		fmt.Fprint(p.out, "\r\033[K"+line)
		p.open = true
		return
	}
	fmt.Fprintln(p.out, line)
}

func (p *ProgressPrinter) println(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open {
		fmt.Fprintln(p.out)
		p.open = false
	}
	fmt.Fprintln(p.out, line)
}

// FormatProgress renders one progress snapshot.
func FormatProgress(pr domain.Progress) string {
	var b strings.Builder
	if pr.Dataset != "" {
		b.WriteString(strings.ToUpper(pr.Dataset))
		b.WriteString(": ")
	}
	fmt.Fprintf(&b, "%.1f%%", pr.Percent)
	if pr.Message != "" {
		b.WriteString(" ")
		b.WriteString(pr.Message)
	}
	if pr.LastTarget != "" {
		b.WriteString(" (last target: ")
		b.WriteString(string(pr.LastTarget))
		b.WriteString(")")
	}
	return b.String()
}

// DeliveryMessage describes where a bundle ended up.
func DeliveryMessage(d *domain.Delivery) string {
	switch {
	case d == nil:
		return "Analysis complete."
	case !d.Fallback:
		return "Results saved to " + d.Path
	case d.FallbackErr != "":
		return fmt.Sprintf("Download failed and the browser could not be opened (%s). Download manually: %s", d.FallbackErr, d.FallbackURL)
	default:
		return "Download failed; opened " + d.FallbackURL + " in your browser."
	}
}
