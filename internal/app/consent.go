package app

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"
)

// askPermission gets the user's consent before any payload bytes move.
// Refusal notifies the sender and fails the session.
func (r *Receiver) askPermission(ctx context.Context) error {
	if r.cfg.AcceptFile {
		return nil
	}
	ok, err := r.confirm("ok?")
	if err != nil {
		return fmt.Errorf("read consent: %w", err)
	}
	if !ok {
		fmt.Fprintln(r.stderr, "transfer rejected")
		return r.respondError(ctx, "transfer rejected")
	}
	return nil
}

func huhConfirm(prompt string) (bool, error) {
	var ok bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(prompt).
			Affirmative("Yes").
			Negative("No").
			Value(&ok),
	))
	if err := form.Run(); err != nil {
		return false, err
	}
	return ok, nil
}
