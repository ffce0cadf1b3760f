package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Input size limits enforced before any state mutation.
const (
	MaxTopicLen       = 2_000
	MaxMessageLen     = 32_768
	MaxParticipants   = 12
	MinParticipants   = 2
	MaxAgentIDLen     = 128
)

// CreateDiscussionRequest is the payload for starting a new discussion.
type CreateDiscussionRequest struct {
	RoomID          uuid.UUID `json:"room_id"`
	OriginMessageID uuid.UUID `json:"origin_message_id"`
	AgentIDs        []string  `json:"agent_ids"`
	Topic           *string   `json:"topic,omitempty"`
	Intensity       Intensity `json:"intensity"`
}

// Validate checks structural constraints that need no collaborator:
// participant count and distinctness, intensity membership, size caps.
// Referential checks (room, origin message, agents exist) happen against
// the ledger afterwards.
func (r CreateDiscussionRequest) Validate() error {
	if r.RoomID == uuid.Nil {
		return fmt.Errorf("room_id is required")
	}
	if r.OriginMessageID == uuid.Nil {
		return fmt.Errorf("origin_message_id is required")
	}
	if !ValidIntensity(r.Intensity) {
		return fmt.Errorf("unknown intensity %q (want low, normal, or high)", r.Intensity)
	}
	if r.Topic != nil && len(*r.Topic) > MaxTopicLen {
		return fmt.Errorf("topic exceeds maximum length of %d bytes", MaxTopicLen)
	}
	if len(r.AgentIDs) > MaxParticipants {
		return fmt.Errorf("at most %d participants allowed", MaxParticipants)
	}
	seen := make(map[string]bool, len(r.AgentIDs))
	for i, id := range r.AgentIDs {
		if id == "" {
			return fmt.Errorf("agent_ids[%d] is empty", i)
		}
		if len(id) > MaxAgentIDLen {
			return fmt.Errorf("agent_ids[%d] exceeds maximum length of %d characters", i, MaxAgentIDLen)
		}
		seen[id] = true
	}
	if len(seen) < MinParticipants {
		return fmt.Errorf("at least %d distinct participants required, got %d", MinParticipants, len(seen))
	}
	return nil
}

// PostMessageRequest is the payload for appending a message to a room.
type PostMessageRequest struct {
	Content string `json:"content"`
}

// Validate checks message size bounds.
func (r PostMessageRequest) Validate() error {
	if r.Content == "" {
		return fmt.Errorf("content is required")
	}
	if len(r.Content) > MaxMessageLen {
		return fmt.Errorf("content exceeds maximum length of %d bytes", MaxMessageLen)
	}
	return nil
}

// AuthTokenRequest exchanges an agent API key for a bearer token.
type AuthTokenRequest struct {
	AgentID string `json:"agent_id"`
	APIKey  string `json:"api_key"`
}

// AuthTokenResponse carries the issued JWT.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// APIResponse is the standard success response envelope.
type APIResponse struct {
	Data any          `json:"data"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// State carries the discussion's current state on INVALID_STATE
	// errors so callers can render an actionable message.
	State string `json:"state,omitempty"`
}

// ResponseMeta is attached to every response envelope.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Standard API error codes.
const (
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeForbidden    = "FORBIDDEN"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeInvalidState = "INVALID_STATE"
	ErrCodeGeneration   = "GENERATION_FAILED"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeInternal     = "INTERNAL"
)
