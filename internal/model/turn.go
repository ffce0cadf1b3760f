package model

import (
	"time"

	"github.com/google/uuid"
)

// TurnStatus is the outcome of one generation attempt. Turns are only
// written after the attempt settles, so there is no in-between status.
type TurnStatus string

const (
	TurnSucceeded TurnStatus = "succeeded"
	TurnFailed    TurnStatus = "failed"
)

// Turn is one agent's contribution to a discussion.
//
// (DiscussionID, Sequence) is the logical identity for succeeded turns:
// their sequence values form a contiguous 0-based prefix with no gaps or
// duplicates. A failed attempt is recorded distinctly at the same
// sequence it was aiming for and does not consume a sequence number —
// only succeeded turns occupy the sequence space.
type Turn struct {
	ID           uuid.UUID  `json:"id"`
	DiscussionID uuid.UUID  `json:"discussion_id"`
	Sequence     int        `json:"sequence"`
	AgentID      string     `json:"agent_id"`
	Content      string     `json:"content"`
	Status       TurnStatus `json:"status"`
	Error        *string    `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
