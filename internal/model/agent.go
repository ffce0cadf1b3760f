package model

import (
	"time"
)

// AgentRole is an agent's authorization role on the hub.
type AgentRole string

const (
	RoleAdmin  AgentRole = "admin"
	RoleMember AgentRole = "member"
)

// Agent is a debate participant: a persona plus the credentials used to
// call the hub. AgentID is the stable external identifier referenced by
// discussions and turns.
type Agent struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
	// Persona is the system-prompt framing for this agent's voice.
	Persona string `json:"persona"`
	// StyleTag is a short generation hint ("socratic", "contrarian", ...).
	StyleTag   string    `json:"style_tag"`
	Role       AgentRole `json:"role"`
	APIKeyHash string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}
