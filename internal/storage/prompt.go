package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	fderr "openfd/internal/errors"
	"openfd/util"
)

// Prompter asks the operator before destructive steps.
type Prompter interface {
	// Confirm shows message and reports whether the operator agreed.
	Confirm(ctx context.Context, message string) (bool, error)
}

var warnStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#eab308"))

// Interactive confirms on the terminal.
type Interactive struct {
	Out io.Writer
}

// NewInteractive returns a prompter writing warnings to stderr.
func NewInteractive() *Interactive {
	return &Interactive{Out: os.Stderr}
}

func (p *Interactive) Confirm(ctx context.Context, message string) (bool, error) {
	fmt.Fprintln(p.Out, warnStyle.Render(message))

	var ok bool
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Do you want to continue?").
				Affirmative("Yes").
				Negative("No").
				Value(&ok),
		),
	).RunWithContext(ctx)
	if errors.Is(err, huh.ErrUserAborted) {
		return false, fderr.ErrUserCancelled
	}
	if err != nil {
		return false, err
	}
	return ok, nil
}

// AssumeYes answers every prompt with yes, logging the question.
type AssumeYes struct {
	Logger *util.Logger
}

func (p AssumeYes) Confirm(ctx context.Context, message string) (bool, error) {
	if p.Logger != nil {
		p.Logger.Warn("%s (assuming yes)", message)
	}
	return true, nil
}

// confirm turns a declined prompt into ErrUserCancelled.
func confirm(ctx context.Context, p Prompter, message string) error {
	ok, err := p.Confirm(ctx, message)
	if err != nil {
		return err
	}
	if !ok {
		return fderr.ErrUserCancelled
	}
	return nil
}
