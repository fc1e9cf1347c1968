package schedule

import (
	"errors"
	"fmt"
)

// ErrChainNotFound is returned when a chain id matches no chain.
var ErrChainNotFound = errors.New("chain not found")

// ValidationError rejects a demand line at the batch boundary. The line is
// skipped and the rest of the batch proceeds.
type ValidationError struct {
	SourceNo string
	Field    string
	Problem  string
}

func (e *ValidationError) Error() string {
	if e.SourceNo == "" {
		return fmt.Sprintf("invalid demand line: %s %s", e.Field, e.Problem)
	}
	return fmt.Sprintf("invalid demand line %s: %s %s", e.SourceNo, e.Field, e.Problem)
}

// CapacityNotFoundError means no materialized cell at or after From has
// spare hours for the process. The chain ends EXHAUSTED.
type CapacityNotFoundError struct {
	Process string
	From    string
}

func (e *CapacityNotFoundError) Error() string {
	return fmt.Sprintf("no capacity for %s on or after %s", e.Process, e.From)
}

// RecursionLimitExceeded ends a chain that reached the configured maximum
// number of continuation steps. It is reported separately from exhaustion.
type RecursionLimitExceeded struct {
	ChainID string
	Depth   int
}

func (e *RecursionLimitExceeded) Error() string {
	return fmt.Sprintf("chain %s exceeded maximum depth %d", e.ChainID, e.Depth)
}
