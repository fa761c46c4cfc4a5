package store

import (
	"context"
	"errors"

	"github.com/opencoordinator/pbs/internal/budget"
)

var (
	// ErrFailToCommit wraps storage-level failures that survived the
	// commit retry loop. Application errors are never wrapped in it.
	ErrFailToCommit = errors.New("failed to commit budget transaction")

	// ErrNotInitialized is returned when the store has no backend.
	ErrNotInitialized = errors.New("budget store is not initialized")
)

// Txn is a consistent-snapshot view of the budget table inside Commit.
type Txn interface {
	ReadRows(ctx context.Context, keys []budget.PrimaryKey, cols budget.Columns) ([]budget.Row, error)
}

// CommitFunc runs inside one storage transaction. It may be invoked
// more than once when the backend reports a serialization conflict, so
// it must be free of side effects other than its reads. The mutations
// it returns are applied atomically with the reads it performed.
// Returned budget-class errors abort the transaction and surface to the
// caller verbatim.
type CommitFunc func(ctx context.Context, tx Txn) ([]budget.Mutation, error)

// BudgetStore is the row store the consume path runs against.
type BudgetStore interface {
	// Commit runs fn in a serializable transaction and applies its
	// mutations atomically.
	Commit(ctx context.Context, fn CommitFunc) error

	// Read fetches rows outside a transaction, for inspection paths.
	Read(ctx context.Context, keys []budget.PrimaryKey, cols budget.Columns) ([]budget.Row, error)

	// PruneBefore deletes rows whose day is older than the given day
	// and reports how many went away.
	PruneBefore(ctx context.Context, day budget.Day) (int64, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
}

// isApplicationError separates errors raised by the budget engine from
// storage-level failures. Application errors take precedence over any
// commit wrapping.
func isApplicationError(err error) bool {
	return errors.Is(err, budget.ErrBudgetExhausted) ||
		errors.Is(err, budget.ErrCorruptValue) ||
		errors.Is(err, budget.ErrInvalidRequest) ||
		errors.Is(err, budget.ErrInvalidRequestBody)
}
