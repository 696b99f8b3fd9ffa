package ledger

import (
	"context"
	"errors"
	"fmt"
)

// undoStep is the exact inverse of a forward step that already took effect.
type undoStep struct {
	name string
	undo func(ctx context.Context) error
}

// compensation collects inverses while a unit of work runs against a store
// without transactions. A nil *compensation ignores pushes; that is what the
// unit of work hands out when the store commits atomically on its own.
type compensation struct {
	steps []undoStep
}

func (c *compensation) push(name string, undo func(ctx context.Context) error) {
	if c == nil {
		return
	}
	c.steps = append(c.steps, undoStep{name: name, undo: undo})
}

func (c *compensation) empty() bool {
	return c == nil || len(c.steps) == 0
}

// rollback runs the inverses newest first. Every step is attempted even if an
// earlier one fails.
func (c *compensation) rollback(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.steps) - 1; i >= 0; i-- {
		step := c.steps[i]
		if err := step.undo(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
		}
	}
	c.steps = nil
	return errors.Join(errs...)
}
