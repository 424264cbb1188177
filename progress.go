package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/netheos/pcsgo/internal/bytesio"
)

// progressRedrawInterval throttles terminal redraws.
const progressRedrawInterval = 200 * time.Millisecond

// terminalMu serializes progress lines of concurrent transfers.
var terminalMu sync.Mutex

// TerminalProgress draws a one-line transfer progress on a terminal,
// redrawn in place with a carriage return.
type TerminalProgress struct {
	w    io.Writer
	name string
	now  func() time.Time

	mu       sync.Mutex
	total    int64
	current  int64
	lastDraw time.Time
	aborted  bool
}

// NewTerminalProgress returns a listener drawing to w.
func NewTerminalProgress(w io.Writer, name string) *TerminalProgress {
	return &TerminalProgress{w: w, name: name, now: time.Now, total: bytesio.UnknownLength}
}

// newProgressListener returns a TerminalProgress on stderr, or nil when
// stderr is not a terminal or --quiet is set.
func newProgressListener(name string) *TerminalProgress {
	if flagQuiet || !stderrIsTerminal() {
		return nil
	}

	return NewTerminalProgress(os.Stderr, name)
}

func stderrIsTerminal() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func (tp *TerminalProgress) SetProgressTotal(total int64) {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	tp.total = total
}

func (tp *TerminalProgress) Progress(current int64) {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	tp.current = current
	tp.aborted = false

	if now := tp.now(); now.Sub(tp.lastDraw) >= progressRedrawInterval {
		tp.lastDraw = now
		tp.drawLocked("\r")
	}
}

func (tp *TerminalProgress) Aborted() {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	tp.aborted = true
}

// Done draws the final state and ends the line.
func (tp *TerminalProgress) Done() {
	if tp == nil {
		return
	}

	tp.mu.Lock()
	defer tp.mu.Unlock()

	tp.drawLocked("\r")

	terminalMu.Lock()
	fmt.Fprintln(tp.w)
	terminalMu.Unlock()
}

func (tp *TerminalProgress) drawLocked(prefix string) {
	line := fmt.Sprintf("%s%s: %s", prefix, tp.name, formatSize(tp.current))

	if tp.total >= 0 {
		pct := 100.0
		if tp.total > 0 {
			pct = float64(tp.current) * 100 / float64(tp.total)
		}

		line += fmt.Sprintf(" / %s (%.0f%%)", formatSize(tp.total), pct)
	}

	if tp.aborted {
		line += " retrying"
	}

	terminalMu.Lock()
	fmt.Fprintf(tp.w, "%s\x1b[K", line)
	terminalMu.Unlock()
}

// multiProgress fans progress out to several listeners.
type multiProgress []bytesio.ProgressListener

// combineProgress returns a listener notifying every non-nil listener, or
// nil when there is none.
func combineProgress(listeners ...bytesio.ProgressListener) bytesio.ProgressListener {
	var m multiProgress

	for _, l := range listeners {
		if l != nil {
			m = append(m, l)
		}
	}

	switch len(m) {
	case 0:
		return nil
	case 1:
		return m[0]
	default:
		return m
	}
}

func (m multiProgress) SetProgressTotal(total int64) {
	for _, l := range m {
		l.SetProgressTotal(total)
	}
}

func (m multiProgress) Progress(current int64) {
	for _, l := range m {
		l.Progress(current)
	}
}

func (m multiProgress) Aborted() {
	for _, l := range m {
		l.Aborted()
	}
}
