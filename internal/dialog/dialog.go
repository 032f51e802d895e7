// Package dialog presents interleaved container log lines as blocks
// grouped by speaker.
package dialog

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/RevCBH/dockboot/internal/engine"
)

const (
	nameWidth    = 20
	continueMark = " ┃"
	endMark      = " ┗━━"
)

// Dialogger renders log lines as speaker blocks. Consecutive lines from one
// speaker continue the current block; a new speaker closes it.
//
// A Dialogger is not safe for concurrent use.
type Dialogger struct {
	w      io.Writer
	styles Styles
	styler *Styler

	speaker   string
	active    bool
	continued int
}

// Option configures a Dialogger.
type Option func(*Dialogger)

// WithRenderer sets the lipgloss renderer used for styling.
func WithRenderer(r *lipgloss.Renderer) Option {
	return func(d *Dialogger) {
		d.styles = NewStyles(r)
		d.styler = NewStyler(r)
	}
}

// WithStyler shares speaker colours with another Dialogger.
func WithStyler(s *Styler) Option {
	return func(d *Dialogger) {
		d.styler = s
	}
}

// New creates a Dialogger writing to w. Unless a renderer is given, one is
// bound to w, so no escape codes are written when w is not a terminal.
func New(w io.Writer, opts ...Option) *Dialogger {
	r := lipgloss.NewRenderer(w)
	d := &Dialogger{
		w:      w,
		styles: NewStyles(r),
		styler: NewStyler(r),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Log renders one line spoken by speaker. Blank lines are dropped.
func (d *Dialogger) Log(speaker string, kind engine.LogKind, line string) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return
	}

	msg := line
	if kind == engine.Stderr {
		msg = d.styles.Stderr.Render(line)
	}

	if d.active && d.speaker == speaker {
		st := d.styles.Continue.Foreground(d.styler.Get(speaker).GetForeground())
		fmt.Fprintf(d.w, "%s%s\n", padded(st, continueMark), msg)
		d.continued++
		return
	}

	d.End()
	fmt.Fprintf(d.w, "%s%s\n", padded(d.styler.Get(speaker), speaker), msg)
	d.speaker = speaker
	d.active = true
	d.continued = 0
}

// End closes the current block. The end mark is only drawn under blocks of
// more than one line.
func (d *Dialogger) End() {
	if !d.active {
		return
	}
	if d.continued > 0 {
		st := d.styles.End.Foreground(d.styler.Get(d.speaker).GetForeground())
		fmt.Fprintln(d.w, st.Render(endMark))
	}
	d.speaker = ""
	d.active = false
	d.continued = 0
}

// padded renders s and pads it to the name column.
func padded(st lipgloss.Style, s string) string {
	n := lipgloss.Width(s)
	if n >= nameWidth {
		return st.Render(s)
	}
	return st.Render(s) + strings.Repeat(" ", nameWidth-n)
}
