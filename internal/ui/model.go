// ABOUTME: Bubbletea model for the server status TUI
// ABOUTME: Shows stream state, format, position, and connected clients

package ui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/snapstream/snapstream-go/pkg/output"
)

// Model represents the TUI state.
type Model struct {
	// Stream
	stats  output.Stats
	title  string
	artist string

	// Clients
	clients []output.ClientInfo

	// Dimensions
	width  int
	height int

	control *Control
}

// StatusMsg carries a fresh snapshot from the server loop.
type StatusMsg struct {
	Stats   output.Stats
	Clients []output.ClientInfo
	Title   string
	Artist  string
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.stats = msg.Stats
		m.clients = msg.Clients
		if msg.Title != "" {
			m.title = msg.Title
			m.artist = msg.Artist
		}
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	s := ""
	s += m.renderHeader()
	s += m.renderStream()
	s += m.renderClients()
	s += m.renderHelp()
	return s
}

func (m Model) renderHeader() string {
	state := "Closed"
	switch {
	case m.stats.Open && m.stats.Paused:
		state = "Paused"
	case m.stats.Open:
		state = "Streaming"
	}

	return fmt.Sprintf(`┌─ Snapstream Server ──────────────────────────────────┐
│ State: %-46s │
├──────────────────────────────────────────────────────┤
`, state)
}

func (m Model) renderStream() string {
	if !m.stats.Open {
		return "│ No stream                                            │\n"
	}

	s := ""
	if m.title != "" {
		s += fmt.Sprintf("│ Source: %-44s │\n", truncate(m.title+" — "+m.artist, 44))
	}
	format := fmt.Sprintf("%s %dHz %s %d-bit",
		m.stats.Codec, m.stats.Format.SampleRate,
		channelName(m.stats.Format.Channels), m.stats.Format.BitDepth)
	s += fmt.Sprintf("│ Format: %-44s │\n", format)
	s += fmt.Sprintf("│ Position: %-42s │\n", m.stats.Position.Truncate(time.Second))
	return s
}

func (m Model) renderClients() string {
	s := fmt.Sprintf(`├──────────────────────────────────────────────────────┤
│ Clients: %-43d │
`, len(m.clients))

	for i, c := range m.clients {
		if i >= 8 {
			s += fmt.Sprintf("│   … and %d more%-38s │\n", len(m.clients)-i, "")
			break
		}
		name := c.Name
		if name == "" {
			name = c.RemoteAddr
		}
		line := fmt.Sprintf("%s (%d queued)", name, c.QueuedBytes)
		s += fmt.Sprintf("│   %-50s │\n", truncate(line, 50))
	}
	return s
}

func (m Model) renderHelp() string {
	return `│ p:Pause/Resume  q:Quit                               │
└──────────────────────────────────────────────────────┘
`
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.control != nil {
			select {
			case m.control.Quit <- struct{}{}:
			default:
			}
		}
		return m, tea.Quit
	case "p":
		if m.control != nil {
			select {
			case m.control.PauseToggle <- struct{}{}:
			default:
			}
		}
	}

	return m, nil
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}

func channelName(channels int) string {
	if channels == 1 {
		return "Mono"
	}
	return "Stereo"
}
