package console

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/VladislavPavlyuk/timeserver/internal/server"
)

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m.quit()
		}
		if m.editing {
			return m.updatePortInput(msg)
		}

		switch msg.String() {
		case "q":
			return m.quit()

		case "p":
			m.editing = true
			m.err = nil
			m.input.Reset()
			return m, tea.Batch(m.input.Focus(), textinput.Blink)

		case "s":
			if m.ctrl.State() != server.StateStopped {
				m.status = "Server is already " + m.ctrl.State().String()
				break
			}
			if err := m.ctrl.Start(); err != nil {
				m.err = err
			} else {
				m.err = nil
				m.status = fmt.Sprintf("Server started on port %d", m.ctrl.Port())
			}
			m.refresh()
			return m, nil
		}

	case TickMsg:
		m.refresh()
		return m, tickCmd()
	}

	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) updatePortInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.editing = false
		m.input.Blur()
		m.status = "Port change cancelled"
		return m, nil

	case "enter":
		m.editing = false
		m.input.Blur()

		port, err := strconv.Atoi(strings.TrimSpace(m.input.Value()))
		if err != nil {
			m.err = fmt.Errorf("invalid port %q", m.input.Value())
			return m, nil
		}
		if err := m.ctrl.Reconfigure(port); err != nil {
			m.err = err
		} else {
			m.err = nil
			m.status = fmt.Sprintf("Port changed to %d", port)
		}
		m.refresh()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// quit stops the server, which clears every session, then exits
func (m Model) quit() (tea.Model, tea.Cmd) {
	if err := m.ctrl.Stop(); err != nil {
		m.err = err
	}
	m.quitting = true
	return m, tea.Quit
}

// refresh pulls state and sessions from the controller
func (m *Model) refresh() {
	m.state = m.ctrl.State()
	m.port = m.ctrl.Port()
	m.sessions = m.ctrl.Sessions()

	m.active = 0
	rows := make([]table.Row, len(m.sessions))
	for i, s := range m.sessions {
		status := "active"
		if s.Active {
			m.active++
		} else if s.DisconnectedAt != nil {
			status = "left " + s.DisconnectedAt.Format("15:04:05")
		} else {
			status = "inactive"
		}

		rows[i] = table.Row{
			s.ID.String()[:8],
			s.Endpoint().String(),
			s.Label,
			s.ConnectedAt.Format("15:04:05"),
			status,
		}
	}
	m.table.SetRows(rows)
}
