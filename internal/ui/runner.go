package ui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
)

// RunCallScreen drives the call screen inline (no alt screen, so the room
// box stays in the scrollback) until the user quits or ctx ends.
func RunCallScreen(ctx context.Context, ctrl Controller, opts CallOptions) error {
	p := tea.NewProgram(NewCallModel(ctrl, opts), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return err
	}
	return nil
}
