package dialog

import (
	"fmt"
	"hash/fnv"

	"github.com/charmbracelet/lipgloss"
)

// Styles contains the lipgloss styles for console output
type Styles struct {
	// Block markers
	Continue lipgloss.Style
	End      lipgloss.Style

	// Stderr lines
	Stderr lipgloss.Style

	// Run notices
	Banner  lipgloss.Style
	Notice  lipgloss.Style
	Reason  lipgloss.Style
	Hint    lipgloss.Style
	Warning lipgloss.Style
}

// NewStyles returns the default styles bound to a renderer
func NewStyles(r *lipgloss.Renderer) Styles {
	return Styles{
		Continue: r.NewStyle().Bold(true),
		End:      r.NewStyle().Bold(true),

		Stderr: r.NewStyle().Foreground(lipgloss.Color("167")).Faint(true),

		Banner:  r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		Notice:  r.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		Reason:  r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		Hint:    r.NewStyle().Foreground(lipgloss.Color("245")).Italic(true),
		Warning: r.NewStyle().Foreground(lipgloss.Color("214")),
	}
}

// Styler assigns every speaker a stable pastel colour.
type Styler struct {
	r      *lipgloss.Renderer
	styles map[string]lipgloss.Style
}

// NewStyler creates a Styler rendering through r.
func NewStyler(r *lipgloss.Renderer) *Styler {
	return &Styler{r: r, styles: make(map[string]lipgloss.Style)}
}

// Get returns the style for a speaker, creating it on first use.
func (s *Styler) Get(name string) lipgloss.Style {
	if st, ok := s.styles[name]; ok {
		return st
	}
	st := s.r.NewStyle().Foreground(Pastel(name)).Bold(true)
	s.styles[name] = st
	return st
}

// Pastel derives a colour from name, mixed half and half with a light
// violet so every speaker stays readable on dark terminals.
func Pastel(name string) lipgloss.Color {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	sum := h.Sum32()

	r := uint8(sum>>16)/2 + 230/2
	g := uint8(sum>>8)/2 + 190/2
	b := uint8(sum)/2 + 255/2
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", r, g, b))
}
