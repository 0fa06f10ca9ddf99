package core

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// DBTransactor is a unit of work that must end with exactly one of Commit or Rollback.
type DBTransactor interface {
	Commit() error
	Rollback() error
}

// WithTx begins a transaction, hands it to fn and ends it.
// It commits when fn returns nil and rolls back when fn fails or panics (the panic is re-raised).
func WithTx[T DBTransactor](ctx context.Context, begin func(context.Context) (T, error), fn func(tx T) error) (err error) {
	tx, err := begin(ctx)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Wrap(err, fmt.Sprintf("rolling back: %v", rbErr))
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "committing transaction")
	}
	return nil
}
