package giron

import (
	"time"

	"github.com/google/uuid"
)

// Role is an agent's RBAC role.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// DiscussionState is a discussion's lifecycle state.
type DiscussionState string

const (
	DiscussionCreated   DiscussionState = "created"
	DiscussionRunning   DiscussionState = "running"
	DiscussionPaused    DiscussionState = "paused"
	DiscussionCompleted DiscussionState = "completed"
	DiscussionStopped   DiscussionState = "stopped"
	DiscussionFailed    DiscussionState = "failed"
)

// Discussion is the public view of a multi-agent discussion.
// No internal package imports — safe to use from outside the module.
type Discussion struct {
	ID              uuid.UUID
	RoomID          uuid.UUID
	OriginMessageID uuid.UUID
	Topic           *string
	Intensity       string
	Participants    []string
	State           DiscussionState
	TurnCursor      int
	FailureReason   *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Turn is the public view of one agent contribution in a discussion.
type Turn struct {
	ID           uuid.UUID
	DiscussionID uuid.UUID
	Sequence     int
	AgentID      string
	Content      string
	Succeeded    bool
	Error        *string
	CreatedAt    time.Time
}

// Message is the public view of a room message.
type Message struct {
	ID        uuid.UUID
	RoomID    uuid.UUID
	AuthorID  string
	Content   string
	CreatedAt time.Time
}

// SearchResult is one hit from a vector search over room messages.
type SearchResult struct {
	MessageID uuid.UUID
	Score     float32
}
