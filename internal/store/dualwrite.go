package store

import (
	"context"
	"fmt"
)

// PartialWriteError reports that the primary half of a dual write landed and the mirror
// half did not. The two partitions disagree until a retry or a repair pass fixes it.
type PartialWriteError struct {
	PrimaryKey string
	MirrorKey  string
	Err        error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("mirror write to %q failed after primary %q was written: %v", e.MirrorKey, e.PrimaryKey, e.Err)
}

func (e *PartialWriteError) Unwrap() error {
	return e.Err
}

// DualWrite updates primaryKey and then mirrorKey with the same builder.
//
// Semantics are best effort: if the primary update fails nothing has been written and the
// error is returned as is. If the mirror update fails the primary write stays in place and a
// *PartialWriteError is returned. Builders must be idempotent so that retrying the whole
// dual write after a partial failure converges. A builder may return ErrUnchanged for a side
// that already holds the desired state.
func DualWrite[T any](ctx context.Context, p *Partitions, primaryKey, mirrorKey string, build func(key string, items []T) ([]T, error)) error {
	if _, err := UpdateList(ctx, p, primaryKey, func(items []T) ([]T, error) {
		return build(primaryKey, items)
	}); err != nil {
		return err
	}

	if _, err := UpdateList(ctx, p, mirrorKey, func(items []T) ([]T, error) {
		return build(mirrorKey, items)
	}); err != nil {
		return &PartialWriteError{PrimaryKey: primaryKey, MirrorKey: mirrorKey, Err: err}
	}
	return nil
}
