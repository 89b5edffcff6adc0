package ui

import (
	stderrors "errors"
	"os"

	"github.com/Chrono-byte/flux/pkg/errors"
	"github.com/charmbracelet/huh"
)

// Confirmer asks the user to approve a plan
type Confirmer interface {
	Confirm(title, description string) (bool, error)
}

var runFormFunc = func(form *huh.Form) error { return form.Run() }

// HuhConfirmer prompts with a huh confirm form on the controlling terminal
type HuhConfirmer struct {
	isTerminal func() bool
}

// NewHuhConfirmer creates a confirmer that requires stdin to be a terminal
func NewHuhConfirmer() *HuhConfirmer {
	return &HuhConfirmer{isTerminal: func() bool { return IsTerminal(os.Stdin) }}
}

// Confirm returns false when the user declines or aborts the prompt. Without
// a terminal it refuses to guess and returns an error.
func (c *HuhConfirmer) Confirm(title, description string) (bool, error) {
	if c.isTerminal != nil && !c.isTerminal() {
		return false, errors.New(errors.ErrInvalidInput, "confirmation requires a terminal; pass --yes to apply non-interactively")
	}

	approved := false
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Description(description).
				Affirmative("Apply").
				Negative("Cancel").
				Value(&approved),
		),
	).WithOutput(os.Stderr)

	err := runFormFunc(form)
	if stderrors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, errors.ErrInternal, "confirmation prompt failed")
	}
	return approved, nil
}

// AutoConfirm approves every plan, for --yes
type AutoConfirm struct{}

func (AutoConfirm) Confirm(string, string) (bool, error) { return true, nil }
