// Package model defines the core domain types for Giron.
//
// Types correspond directly to database tables and API payloads.
// Strong typing throughout (UUIDs, time.Time, closed enums); interface{}
// is avoided except for free-form metadata.
package model

import (
	"time"

	"github.com/google/uuid"
)

// DiscussionState is the lifecycle state of a discussion.
type DiscussionState string

const (
	DiscussionCreated   DiscussionState = "created"
	DiscussionRunning   DiscussionState = "running"
	DiscussionPaused    DiscussionState = "paused"
	DiscussionCompleted DiscussionState = "completed"
	DiscussionStopped   DiscussionState = "stopped"
	DiscussionFailed    DiscussionState = "failed"
)

// Terminal reports whether the state permits no further transitions.
// Stopped is terminal too, but stop requests on an already-stopped
// discussion are a no-op success rather than an error.
func (s DiscussionState) Terminal() bool {
	switch s {
	case DiscussionCompleted, DiscussionStopped, DiscussionFailed:
		return true
	}
	return false
}

// Intensity controls a discussion's pacing: each level maps to a hard
// ceiling on total turn count (see scheduler.Bound).
type Intensity string

const (
	IntensityLow    Intensity = "low"
	IntensityNormal Intensity = "normal"
	IntensityHigh   Intensity = "high"
)

// ValidIntensity reports whether v is a member of the closed enum.
// Unknown values fail creation fast instead of defaulting silently.
func ValidIntensity(v Intensity) bool {
	switch v {
	case IntensityLow, IntensityNormal, IntensityHigh:
		return true
	}
	return false
}

// Discussion is the unit of orchestration: a multi-turn debate between
// agents inside a room. Identity, participants, topic, and intensity are
// immutable after creation; only State, TurnCursor, FailureReason, and
// UpdatedAt are mutated, and only by the orchestrator under its
// per-discussion guard.
type Discussion struct {
	ID              uuid.UUID       `json:"id"`
	RoomID          uuid.UUID       `json:"room_id"`
	OriginMessageID uuid.UUID       `json:"origin_message_id"`
	Topic           *string         `json:"topic,omitempty"`
	Intensity       Intensity       `json:"intensity"`
	// ParticipantAgentIDs is the scheduling seed: round-robin order is
	// fixed at creation time. Always at least 2 distinct entries.
	ParticipantAgentIDs []string `json:"participant_agent_ids"`
	State               DiscussionState `json:"state"`
	// TurnCursor is the index of the next scheduling decision. It counts
	// succeeded turns only and is monotonically non-decreasing.
	TurnCursor    int        `json:"turn_cursor"`
	FailureReason *string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// DiscussionSnapshot is the read-only view returned by status queries:
// the latest persisted discussion row plus its ordered turn list.
type DiscussionSnapshot struct {
	Discussion Discussion `json:"discussion"`
	Turns      []Turn     `json:"turns"`
}
