package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// AuthorKind distinguishes human and agent message authors.
type AuthorKind string

const (
	AuthorUser  AuthorKind = "user"
	AuthorAgent AuthorKind = "agent"
)

// Room is a shared conversational space. Discussions are spawned from a
// room and their turns are grounded in the room's message history.
type Room struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is one entry in a room's chronological history. The embedding
// is populated on ingest when an embedding provider is configured; it
// backs the Postgres vector fallback when Qdrant is unavailable.
type Message struct {
	ID        uuid.UUID  `json:"id"`
	RoomID    uuid.UUID  `json:"room_id"`
	AuthorID  string     `json:"author_id"`
	Kind      AuthorKind `json:"kind"`
	Content   string     `json:"content"`
	Embedding *pgvector.Vector `json:"-"`
	CreatedAt time.Time  `json:"created_at"`
}
