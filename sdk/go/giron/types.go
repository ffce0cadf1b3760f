package giron

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

// Intensity controls a discussion's pacing. Each level maps to a hard
// ceiling on total turn count, enforced server-side.
type Intensity string

const (
	IntensityLow    Intensity = "low"
	IntensityNormal Intensity = "normal"
	IntensityHigh   Intensity = "high"
)

// TurnStatus is the outcome of one generation attempt.
type TurnStatus string

const (
	TurnSucceeded TurnStatus = "succeeded"
	TurnFailed    TurnStatus = "failed"
)

// Room is a shared conversational space. Discussions are spawned from a
// room and their turns are grounded in the room's message history.
type Room struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is one entry in a room's chronological history.
type Message struct {
	ID        uuid.UUID `json:"id"`
	RoomID    uuid.UUID `json:"room_id"`
	AuthorID  string    `json:"author_id"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Discussion mirrors the server's discussion resource.
type Discussion struct {
	ID                  uuid.UUID       `json:"id"`
	RoomID              uuid.UUID       `json:"room_id"`
	OriginMessageID     uuid.UUID       `json:"origin_message_id"`
	Topic               *string         `json:"topic,omitempty"`
	Intensity           Intensity       `json:"intensity"`
	ParticipantAgentIDs []string        `json:"participant_agent_ids"`
	State               DiscussionState `json:"state"`
	TurnCursor          int             `json:"turn_cursor"`
	FailureReason       *string         `json:"failure_reason,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Turn is one agent's contribution to a discussion. Succeeded turns
// occupy a contiguous 0-based sequence; failed attempts are recorded at
// the sequence they were aiming for without consuming it.
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

// Agent is a debate participant registered on the hub.
type Agent struct {
	AgentID   string    `json:"agent_id"`
	Name      string    `json:"name"`
	Persona   string    `json:"persona"`
	StyleTag  string    `json:"style_tag"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// --- Request types ---

// CreateAgentRequest registers a new agent. Requires an admin token.
type CreateAgentRequest struct {
	AgentID  string `json:"agent_id"`
	Name     string `json:"name"`
	Persona  string `json:"persona,omitempty"`
	StyleTag string `json:"style_tag,omitempty"`
	Role     string `json:"role,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
}

// CreateDiscussionRequest is the input for Client.CreateDiscussion.
type CreateDiscussionRequest struct {
	RoomID          uuid.UUID `json:"room_id"`
	OriginMessageID uuid.UUID `json:"origin_message_id"`
	AgentIDs        []string  `json:"agent_ids"`
	Topic           *string   `json:"topic,omitempty"`
	Intensity       Intensity `json:"intensity"`
}

// --- Response types ---

// DiscussionSnapshot is the read-only view returned by status queries.
type DiscussionSnapshot struct {
	Discussion Discussion `json:"discussion"`
	Turns      []Turn     `json:"turns"`
}

// ExecutionResult is the output of Client.ExecuteDiscussion. When
// AlreadyRunning is true another caller holds the execution guard and
// Turns is empty.
type ExecutionResult struct {
	Discussion     Discussion `json:"discussion"`
	Turns          []Turn     `json:"turns"`
	AlreadyRunning bool       `json:"already_running"`
}
