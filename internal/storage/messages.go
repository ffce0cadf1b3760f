package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/giron-ai/giron/internal/model"
)

// CreateMessage inserts a message into a room's history and returns it.
// The embedding may be nil when no embedding provider is configured.
func (db *DB) CreateMessage(ctx context.Context, msg model.Message) (model.Message, error) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO messages (id, room_id, author_id, kind, content, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.RoomID, msg.AuthorID, string(msg.Kind), msg.Content, msg.Embedding, msg.CreatedAt,
	)
	if err != nil {
		return model.Message{}, fmt.Errorf("storage: create message: %w", err)
	}
	return msg, nil
}

// GetMessage retrieves a message by ID.
func (db *DB) GetMessage(ctx context.Context, id uuid.UUID) (model.Message, error) {
	var m model.Message
	var kind string
	err := db.pool.QueryRow(ctx,
		`SELECT id, room_id, author_id, kind, content, created_at FROM messages WHERE id = $1`, id,
	).Scan(&m.ID, &m.RoomID, &m.AuthorID, &kind, &m.Content, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Message{}, fmt.Errorf("storage: message %s: %w", id, ErrNotFound)
		}
		return model.Message{}, fmt.Errorf("storage: get message: %w", err)
	}
	m.Kind = model.AuthorKind(kind)
	return m, nil
}

// ListRecentMessages returns the newest messages in a room in
// chronological order (oldest of the window first).
func (db *DB) ListRecentMessages(ctx context.Context, roomID uuid.UUID, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, room_id, author_id, kind, content, created_at
		 FROM (
		   SELECT id, room_id, author_id, kind, content, created_at
		   FROM messages WHERE room_id = $1
		   ORDER BY created_at DESC LIMIT $2
		 ) recent
		 ORDER BY created_at ASC`,
		roomID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list recent messages: %w", err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		var kind string
		if err := rows.Scan(&m.ID, &m.RoomID, &m.AuthorID, &kind, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan message: %w", err)
		}
		m.Kind = model.AuthorKind(kind)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// GetMessagesByIDs retrieves multiple messages keyed by ID. Missing IDs
// are absent from the map; the caller decides whether absence matters.
func (db *DB) GetMessagesByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.Message, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]model.Message{}, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, room_id, author_id, kind, content, created_at
		 FROM messages WHERE id = ANY($1)`, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get messages by ids: %w", err)
	}
	defer rows.Close()

	msgs := make(map[uuid.UUID]model.Message, len(ids))
	for rows.Next() {
		var m model.Message
		var kind string
		if err := rows.Scan(&m.ID, &m.RoomID, &m.AuthorID, &kind, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan message: %w", err)
		}
		m.Kind = model.AuthorKind(kind)
		msgs[m.ID] = m
	}
	return msgs, rows.Err()
}

// SearchMessagesByVector is the Postgres fallback when Qdrant is not
// configured: cosine distance over stored message embeddings within a
// room. Messages without embeddings are excluded.
func (db *DB) SearchMessagesByVector(ctx context.Context, roomID uuid.UUID, embedding []float32, limit int) ([]model.Message, []float32, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, room_id, author_id, kind, content, created_at,
		        1 - (embedding <=> $2::vector) AS similarity
		 FROM messages
		 WHERE room_id = $1 AND embedding IS NOT NULL
		 ORDER BY embedding <=> $2::vector
		 LIMIT $3`,
		roomID, vectorLiteral(embedding), limit,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: vector search messages: %w", err)
	}
	defer rows.Close()

	var msgs []model.Message
	var scores []float32
	for rows.Next() {
		var m model.Message
		var kind string
		var score float32
		if err := rows.Scan(&m.ID, &m.RoomID, &m.AuthorID, &kind, &m.Content, &m.CreatedAt, &score); err != nil {
			return nil, nil, fmt.Errorf("storage: scan vector match: %w", err)
		}
		m.Kind = model.AuthorKind(kind)
		msgs = append(msgs, m)
		scores = append(scores, score)
	}
	return msgs, scores, rows.Err()
}

// vectorLiteral renders a []float32 as a pgvector text literal. Used for
// query parameters where the pgvector codec may not be registered yet.
func vectorLiteral(v []float32) string {
	buf := make([]byte, 0, len(v)*8+2)
	buf = append(buf, '[')
	for i, f := range v {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = appendFloat(buf, f)
	}
	buf = append(buf, ']')
	return string(buf)
}

func appendFloat(buf []byte, f float32) []byte {
	return fmt.Appendf(buf, "%g", f)
}
