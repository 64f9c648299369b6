// Package prompt asks the operator questions on the terminal.
package prompt

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
)

// Terminal prompts via stdin and stdout.
// When stdin is not a terminal, the prompts are rendered in huh's
// accessible mode which reads plain lines.
type Terminal struct {
	in         io.Reader
	out        io.Writer
	accessible bool
}

func NewTerminal() *Terminal {
	return &Terminal{
		in:         os.Stdin,
		out:        os.Stdout,
		accessible: !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()),
	}
}

func (t *Terminal) run(ctx context.Context, field huh.Field) error {
	return huh.NewForm(huh.NewGroup(field)).
		WithInput(t.in).
		WithOutput(t.out).
		WithAccessible(t.accessible).
		WithShowHelp(false).
		RunWithContext(ctx)
}

// Confirm asks a yes/no question, def is the preselected answer.
func (t *Terminal) Confirm(ctx context.Context, question string, def bool) (bool, error) {
	answer := def

	err := t.run(ctx, huh.NewConfirm().
		Title(question).
		Affirmative("Yes").
		Negative("No").
		Value(&answer),
	)
	if err != nil {
		return false, err
	}

	return answer, nil
}

// Input asks for a line of free text. When the answer is empty, def is
// returned.
func (t *Terminal) Input(ctx context.Context, question, def string) (string, error) {
	var answer string

	err := t.run(ctx, huh.NewInput().
		Title(question).
		Description("Leave empty to use: "+def).
		Placeholder(def).
		Value(&answer),
	)
	if err != nil {
		return "", err
	}

	if strings.TrimSpace(answer) == "" {
		return def, nil
	}

	return answer, nil
}
