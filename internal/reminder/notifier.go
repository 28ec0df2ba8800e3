package reminder

import (
	"context"
	"errors"

	"github.com/dukerupert/alwaysplan/internal/model"
)

// Notifier delivers a due reminder to its owner.
type Notifier interface {
	Notify(ctx context.Context, r model.Reminder) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, r model.Reminder) error

func (f NotifierFunc) Notify(ctx context.Context, r model.Reminder) error {
	return f(ctx, r)
}

// Fanout delivers through every notifier and joins their errors.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, r model.Reminder) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
