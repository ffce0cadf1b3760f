package discussions

import (
	"errors"
	"fmt"

	"github.com/giron-ai/giron/internal/model"
)

// ErrValidation marks input that was rejected before any state mutation:
// structural problems with the request or references that do not resolve.
var ErrValidation = errors.New("discussions: validation failed")

// InvalidStateError is returned when a lifecycle operation is not legal
// from the discussion's current state. The current state travels with
// the error so callers can render an actionable message.
type InvalidStateError struct {
	Op    string
	State model.DiscussionState
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("discussions: cannot %s discussion in state %q", e.Op, e.State)
}
