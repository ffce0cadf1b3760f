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

// CreateRoom inserts a new room and returns it.
func (db *DB) CreateRoom(ctx context.Context, name string) (model.Room, error) {
	room := model.Room{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO rooms (id, name, created_at) VALUES ($1, $2, $3)`,
		room.ID, room.Name, room.CreatedAt,
	)
	if err != nil {
		return model.Room{}, fmt.Errorf("storage: create room: %w", err)
	}
	return room, nil
}

// GetRoom retrieves a room by ID.
func (db *DB) GetRoom(ctx context.Context, id uuid.UUID) (model.Room, error) {
	var room model.Room
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, created_at FROM rooms WHERE id = $1`, id,
	).Scan(&room.ID, &room.Name, &room.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Room{}, fmt.Errorf("storage: room %s: %w", id, ErrNotFound)
		}
		return model.Room{}, fmt.Errorf("storage: get room: %w", err)
	}
	return room, nil
}
