package budget

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest marks structural problems in an otherwise
	// well-formed body: duplicate slots, mixed budget types, bad times.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidRequestBody marks malformed or out-of-range fields.
	ErrInvalidRequestBody = errors.New("invalid request body")

	// ErrCorruptValue marks a stored budget vector that does not decode.
	ErrCorruptValue = errors.New("stored budget value is corrupt")

	// ErrBudgetExhausted is the class matched by errors.Is for
	// ExhaustedError values.
	ErrBudgetExhausted = errors.New("budget exhausted")
)

// ExhaustedError reports which requested keys had no budget left.
// Indices are 0-based positions in the client's flat key list, ascending.
type ExhaustedError struct {
	Indices []int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("not enough budget for %d of the requested keys", len(e.Indices))
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrBudgetExhausted
}
