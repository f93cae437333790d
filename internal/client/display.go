package client

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Placeholder is shown before the first payload arrives
const Placeholder = "--:--:--"

var (
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	timeStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)
)

// TextDisplay prints each received time as one styled line
type TextDisplay struct {
	mu      sync.Mutex
	out     io.Writer
	current string
}

func NewTextDisplay(out io.Writer) *TextDisplay {
	return &TextDisplay{out: out, current: Placeholder}
}

func (d *TextDisplay) UpdateTime(t string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.current = t
	fmt.Fprintln(d.out, labelStyle.Render("Server time")+" "+timeStyle.Render(t))
}

// Current returns the last time shown
func (d *TextDisplay) Current() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}
