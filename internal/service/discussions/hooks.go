package discussions

import (
	"context"
	"time"

	"github.com/giron-ai/giron/internal/model"
)

// TurnHook receives discussion lifecycle events within the service layer.
// Defined here (not in the root giron package) to avoid a circular import:
// service/discussions → giron → service/discussions would be a cycle.
// The root giron package wraps giron.EventHook into TurnHook via an adapter.
//
// Hook methods are called asynchronously in goroutines. Implementations must
// not block indefinitely. Failures are logged and do not fail the turn loop.
type TurnHook interface {
	OnTurnAppended(ctx context.Context, turn model.Turn) error
	OnStateChanged(ctx context.Context, d model.Discussion) error
}

// RegisterHook adds a lifecycle hook. Call before the first Execute;
// registration is not synchronized with running loops.
func (s *Service) RegisterHook(h TurnHook) {
	s.hooks = append(s.hooks, h)
}

const hookTimeout = 10 * time.Second

// fireTurnHooks dispatches an appended turn to every registered hook.
// Each hook runs in its own goroutine with a detached, bounded context
// so a request cancellation does not cut hooks short.
func (s *Service) fireTurnHooks(turn model.Turn) {
	for _, h := range s.hooks {
		h := h
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
			defer cancel()
			if err := h.OnTurnAppended(ctx, turn); err != nil {
				s.logger.Warn("turn hook failed",
					"discussion_id", turn.DiscussionID, "sequence", turn.Sequence, "error", err)
			}
		}()
	}
}

// fireStateHooks dispatches a state change to every registered hook.
func (s *Service) fireStateHooks(d model.Discussion) {
	for _, h := range s.hooks {
		h := h
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
			defer cancel()
			if err := h.OnStateChanged(ctx, d); err != nil {
				s.logger.Warn("state hook failed",
					"discussion_id", d.ID, "state", d.State, "error", err)
			}
		}()
	}
}
