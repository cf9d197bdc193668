package tui

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Options configures Run
type Options struct {
	// Stop is bound to the s key; nil hides it
	Stop     StopFunc
	Interval time.Duration
	// ExitWhenIdle quits once the watched job finished
	ExitWhenIdle bool
}

// Run shows the dashboard until the user quits, ctx is done or, with
// ExitWhenIdle, the job finished
func Run(ctx context.Context, source Source, opts Options) error {
	model := NewModel(source, opts.Stop, opts.Interval)
	if opts.ExitWhenIdle {
		model = model.ExitWhenIdle()
	}

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
