// Package search provides semantic retrieval over room messages using an
// external vector index, with transparent fallback to Postgres when the
// index is unavailable. Retrieval is best-effort everywhere: a failed
// lookup degrades to chronological-only context, never fails a turn.
package search

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Result holds a message ID and its raw similarity score from the index.
// The caller hydrates full messages from Postgres (source of truth).
type Result struct {
	MessageID uuid.UUID
	Score     float32
}

// Searcher is the interface for vector search indexes.
// Implementations must be safe for concurrent use.
type Searcher interface {
	// Search returns message IDs similar to the query embedding within a
	// room. Returns IDs + raw similarity scores; the caller hydrates.
	Search(ctx context.Context, roomID uuid.UUID, embedding []float32, limit int) ([]Result, error)

	// Healthy returns nil if the index is reachable, or an error describing the problem.
	Healthy(ctx context.Context) error
}

// Point is the data needed to upsert a single message into the index.
type Point struct {
	ID        uuid.UUID
	RoomID    uuid.UUID
	AuthorID  string
	Kind      string
	CreatedAt time.Time
	Embedding []float32
}

// Indexer accepts new points. QdrantIndex implements both Searcher and
// Indexer; message ingest holds an Indexer, the context assembler a
// Searcher.
type Indexer interface {
	Upsert(ctx context.Context, points []Point) error
}
