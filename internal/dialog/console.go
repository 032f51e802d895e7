package dialog

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Color modes accepted by NewConsole.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// Console writes run notices and creates Dialoggers sharing one renderer
// and one set of speaker colours.
type Console struct {
	w      io.Writer
	r      *lipgloss.Renderer
	styles Styles
	styler *Styler
}

// NewConsole binds a console to w. In auto mode colour is used only when
// w is a terminal.
func NewConsole(w io.Writer, color string) *Console {
	r := lipgloss.NewRenderer(w)
	switch color {
	case ColorAlways:
		r.SetColorProfile(termenv.TrueColor)
	case ColorNever:
		r.SetColorProfile(termenv.Ascii)
	}
	return &Console{
		w:      w,
		r:      r,
		styles: NewStyles(r),
		styler: NewStyler(r),
	}
}

// Writer returns the underlying writer.
func (c *Console) Writer() io.Writer {
	return c.w
}

// Dialogger returns a fresh Dialogger writing to the console.
func (c *Console) Dialogger() *Dialogger {
	return New(c.w, WithRenderer(c.r), WithStyler(c.styler))
}

// Banner prints a full-width section title.
func (c *Console) Banner(title string) {
	fmt.Fprintln(c.w, c.styles.Banner.Render(fmt.Sprintf("=============== %s =============", title)))
}

// Canceling prints the cancellation notice followed by the force-quit hint.
func (c *Console) Canceling(reason, resources string) {
	fmt.Fprintf(c.w, "\n\t%s due to %s: cleaning lingering %s resources...\n",
		c.styles.Notice.Render("Canceling"),
		c.styles.Reason.Render(reason),
		c.styles.Notice.Render(resources))
	fmt.Fprintf(c.w, "\t%s: hit interrupt again to force quit\n", c.styles.Hint.Render("Hint"))
}

// Warning prints an engine warning.
func (c *Console) Warning(msg string) {
	fmt.Fprintln(c.w, c.styles.Warning.Render("warning: "+msg))
}

// Printf writes unstyled text.
func (c *Console) Printf(format string, args ...any) {
	fmt.Fprintf(c.w, format, args...)
}
