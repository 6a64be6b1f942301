package render

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

const defaultBarWidth = 40

// TerminalSink draws an in-place progress line, rewriting it with a carriage
// return on every render so the bar animates on a terminal.
type TerminalSink struct {
	mu          sync.Mutex
	out         io.Writer
	width       int
	showWorkers bool
	lastLen     int
	finished    bool
}

// NewTerminalSink constructs a TerminalSink. A nil writer defaults to
// stdout and a non-positive width to defaultBarWidth; showWorkers appends
// per-worker percentages to the line.
func NewTerminalSink(out io.Writer, width int, showWorkers bool) *TerminalSink {
	if out == nil {
		out = os.Stdout
	}
	if width < 1 {
		width = defaultBarWidth
	}
	return &TerminalSink{out: out, width: width, showWorkers: showWorkers}
}

// Render redraws the progress line in place.
func (s *TerminalSink) Render(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return nil
	}
	return s.draw(snap)
}

// Close draws the final state and terminates the line so later shell output
// starts fresh. Repeated calls are no-ops.
func (s *TerminalSink) Close(_ context.Context, final Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return nil
	}
	s.finished = true
	if err := s.draw(final); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(s.out); err != nil {
		return fmt.Errorf("write progress newline: %w", err)
	}
	return nil
}

func (s *TerminalSink) draw(snap Snapshot) error {
	line := s.line(snap)
	// Pad over any residue from a longer previous line.
	if pad := s.lastLen - len(line); pad > 0 {
		line += strings.Repeat(" ", pad)
	} else {
		s.lastLen = len(line)
	}
	if _, err := fmt.Fprintf(s.out, "\r%s", line); err != nil {
		return fmt.Errorf("write progress line: %w", err)
	}
	return nil
}

func (s *TerminalSink) line(snap Snapshot) string {
	var b strings.Builder
	if snap.Title != "" {
		b.WriteString(snap.Title)
		b.WriteString("  ")
	}
	fmt.Fprintf(&b, "%5.1f%% ", snap.Fraction*100)
	b.WriteString(bar(snap.Fraction, s.width))
	fmt.Fprintf(&b, " %d/%d", snap.Completed, snap.TotalIterations)
	fmt.Fprintf(&b, " workers=%d", snap.Connected)
	fmt.Fprintf(&b, " elapsed=%s", snap.Elapsed.Round(time.Second))
	if s.showWorkers && len(snap.Workers) > 0 {
		b.WriteString(" [")
		for i, w := range snap.Workers {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%d:%.0f%%", w.ID, w.Fraction*100)
		}
		b.WriteByte(']')
	}
	return b.String()
}

func bar(fraction float64, width int) string {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	filled := int(fraction * float64(width))
	var b strings.Builder
	b.WriteByte('[')
	for i := 0; i < width; i++ {
		switch {
		case i < filled:
			b.WriteByte('=')
		case i == filled && fraction < 1:
			b.WriteByte('>')
		default:
			b.WriteByte(' ')
		}
	}
	b.WriteByte(']')
	return b.String()
}
