package console

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/VladislavPavlyuk/timeserver/internal/server"
	"github.com/VladislavPavlyuk/timeserver/internal/session"
)

// RefreshInterval is how often the session table is redrawn
const RefreshInterval = 500 * time.Millisecond

// Controller is the server surface the console drives. *server.UDPServer satisfies it.
type Controller interface {
	State() server.State
	Port() int
	Start() error
	Stop() error
	Reconfigure(port int) error
	Sessions() []session.Session
}

// TickMsg triggers a refresh of the server view
type TickMsg time.Time

type Model struct {
	ctrl Controller

	table table.Model
	input textinput.Model

	editing  bool
	quitting bool

	state    server.State
	port     int
	sessions []session.Session
	active   int

	status string
	err    error
}

func NewModel(ctrl Controller) Model {
	columns := []table.Column{
		{Title: "ID", Width: 8},
		{Title: "Endpoint", Width: 22},
		{Title: "Host", Width: 24},
		{Title: "Connected", Width: 10},
		{Title: "Status", Width: 14},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(false),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	in := textinput.New()
	in.Placeholder = "49152"
	in.Prompt = "New port: "
	in.CharLimit = 5
	in.Width = 8

	m := Model{
		ctrl:  ctrl,
		table: t,
		input: in,
	}
	m.refresh()
	return m
}

func (m Model) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(RefreshInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// Run shows the console until the user quits or ctx is cancelled
func Run(ctx context.Context, ctrl Controller) error {
	p := tea.NewProgram(NewModel(ctrl), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !(errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil) {
		return err
	}
	return nil
}
