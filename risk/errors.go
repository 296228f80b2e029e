// risk/errors.go
package risk

import (
	"errors"
	"fmt"
)

// GateRejectedError reports a failed admission check. Non-fatal: nothing was
// mutated and the caller may simply retry on a later tick.
type GateRejectedError struct {
	Reason string
	Stale  bool // set when the rejection came from the tick-freshness gate
}

func (e *GateRejectedError) Error() string {
	if e.Stale {
		return fmt.Sprintf("gate rejected (stale data): %s", e.Reason)
	}
	return fmt.Sprintf("gate rejected: %s", e.Reason)
}

// IsGateRejected reports whether err is an admission-gate rejection.
func IsGateRejected(err error) bool {
	var g *GateRejectedError
	return errors.As(err, &g)
}

// ErrBrokerUnavailable signals a failed collaborator call. The evaluation is
// aborted with no partial state committed.
var ErrBrokerUnavailable = errors.New("broker unavailable")

// ErrExecutionFailed signals that order submission returned no ticket after
// retries were exhausted. Bucket and hedge-level state are left unchanged so
// a future attempt can retry cleanly.
var ErrExecutionFailed = errors.New("order execution failed")

// ErrRetryTimeout signals that the retry wrapper ran out of wall-clock budget.
var ErrRetryTimeout = errors.New("retry timeout exceeded")
