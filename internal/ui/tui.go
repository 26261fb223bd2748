// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program for the server status view

package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Control carries key-driven commands back to the server loop.
type Control struct {
	PauseToggle chan struct{}
	Quit        chan struct{}
}

// NewControl creates the control channels.
func NewControl() *Control {
	return &Control{
		PauseToggle: make(chan struct{}, 1),
		Quit:        make(chan struct{}, 1),
	}
}

// NewModel creates the TUI model.
func NewModel(control *Control) Model {
	return Model{control: control}
}

// NewProgram builds the TUI program. The caller runs it.
func NewProgram(control *Control) *tea.Program {
	return tea.NewProgram(NewModel(control), tea.WithAltScreen())
}
