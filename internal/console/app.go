package console

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
)

// Run shows the console until the user quits or ctx is done. bridge must be
// the listener of the session behind ctrl. ready is called once callbacks
// reach the program; start the radio there. An error from ready is returned
// without showing the console.
func Run(ctx context.Context, ctrl Controller, bridge *Bridge, ready func() error) error {
	p := tea.NewProgram(NewModel(ctrl), tea.WithAltScreen(), tea.WithContext(ctx))
	bridge.Attach(p)
	if ready != nil {
		if err := ready(); err != nil {
			return err
		}
	}

	_, err := p.Run()
	return err
}
