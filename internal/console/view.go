package console

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/VladislavPavlyuk/timeserver/internal/server"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFF7DB")).
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1).
			Margin(0, 1)

	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	stoppedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func (m Model) View() string {
	if m.quitting {
		return "Server stopped.\n"
	}

	title := titleStyle.Render("UDP Time Server")

	stateStyle := stoppedStyle
	if m.state == server.StateRunning {
		stateStyle = runningStyle
	}
	summary := fmt.Sprintf("State: %s\nPort: %d\nClients: %d active / %d known",
		stateStyle.Render(m.state.String()), m.port, m.active, len(m.sessions))
	summaryBox := infoStyle.Render(summary)

	sessionsBox := infoStyle.Render("Sessions\n" + m.table.View())

	body := lipgloss.JoinVertical(lipgloss.Left, title, summaryBox, sessionsBox)

	if m.editing {
		body += "\n" + m.input.View() + helpStyle.Render("  (enter to apply, esc to cancel)")
	}
	if m.err != nil {
		body += "\n" + errorStyle.Render("Error: "+m.err.Error())
	} else if m.status != "" {
		body += "\n" + m.status
	}

	return body + "\n" + helpStyle.Render("p: change port • s: start • q: stop and quit")
}
