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

const discussionColumns = `id, room_id, origin_message_id, topic, intensity, participant_agent_ids,
	state, turn_cursor, failure_reason, created_at, updated_at`

func scanDiscussion(row pgx.Row) (model.Discussion, error) {
	var d model.Discussion
	var intensity, state string
	err := row.Scan(
		&d.ID, &d.RoomID, &d.OriginMessageID, &d.Topic, &intensity, &d.ParticipantAgentIDs,
		&state, &d.TurnCursor, &d.FailureReason, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return model.Discussion{}, err
	}
	d.Intensity = model.Intensity(intensity)
	d.State = model.DiscussionState(state)
	return d, nil
}

// CreateDiscussion materializes a new discussion row in state created
// with a zero cursor and returns it.
func (db *DB) CreateDiscussion(ctx context.Context, d model.Discussion) (model.Discussion, error) {
	now := time.Now().UTC()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.State = model.DiscussionCreated
	d.TurnCursor = 0
	d.CreatedAt = now
	d.UpdatedAt = now

	_, err := db.pool.Exec(ctx,
		`INSERT INTO discussions (id, room_id, origin_message_id, topic, intensity, participant_agent_ids,
		                          state, turn_cursor, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.RoomID, d.OriginMessageID, d.Topic, string(d.Intensity), d.ParticipantAgentIDs,
		string(d.State), d.TurnCursor, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return model.Discussion{}, fmt.Errorf("storage: create discussion: %w", err)
	}
	return d, nil
}

// GetDiscussion retrieves a discussion by ID.
func (db *DB) GetDiscussion(ctx context.Context, id uuid.UUID) (model.Discussion, error) {
	d, err := scanDiscussion(db.pool.QueryRow(ctx,
		`SELECT `+discussionColumns+` FROM discussions WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Discussion{}, fmt.Errorf("storage: discussion %s: %w", id, ErrNotFound)
		}
		return model.Discussion{}, fmt.Errorf("storage: get discussion: %w", err)
	}
	return d, nil
}

// TransitionDiscussion applies a conditional state transition: the row
// is updated to state `to` only if its current state is one of `from`.
// On success the updated row is returned. If the discussion exists but
// is in none of the permitted source states, the current row is
// returned together with ErrInvalidTransition so callers can surface
// the state they actually found.
func (db *DB) TransitionDiscussion(ctx context.Context, id uuid.UUID, from []model.DiscussionState, to model.DiscussionState, reason *string) (model.Discussion, error) {
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}

	d, err := scanDiscussion(db.pool.QueryRow(ctx,
		`UPDATE discussions
		 SET state = $2, failure_reason = COALESCE($3, failure_reason), updated_at = now()
		 WHERE id = $1 AND state = ANY($4)
		 RETURNING `+discussionColumns,
		id, string(to), reason, fromStrs,
	))
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Discussion{}, fmt.Errorf("storage: transition discussion: %w", err)
	}

	// Either the row is missing or its state is not in `from`.
	current, getErr := db.GetDiscussion(ctx, id)
	if getErr != nil {
		return model.Discussion{}, getErr
	}
	return current, fmt.Errorf("storage: %s -> %s: %w", current.State, to, ErrInvalidTransition)
}

// ListRecentDiscussions returns the newest discussions first, up to limit.
func (db *DB) ListRecentDiscussions(ctx context.Context, limit int) ([]model.Discussion, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+discussionColumns+` FROM discussions
		 ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list recent discussions: %w", err)
	}
	defer rows.Close()

	var out []model.Discussion
	for rows.Next() {
		d, err := scanDiscussion(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan discussion: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// AppendTurn records a succeeded turn and advances the cursor as one
// atomic unit. The update is conditional on the cursor still equalling
// turn.Sequence; a mismatch yields ErrStaleCursor and writes nothing.
// Paused and stopped rows still accept the append: pause and stop are
// requests observed at the loop's turn boundary, so a turn whose
// generation was already in flight when the request landed settles in
// place rather than being discarded and regenerated on resume.
func (db *DB) AppendTurn(ctx context.Context, turn model.Turn) (model.Turn, error) {
	if turn.Status != model.TurnSucceeded {
		return model.Turn{}, fmt.Errorf("storage: append turn: only succeeded turns advance the cursor (got %s)", turn.Status)
	}
	if turn.ID == uuid.Nil {
		turn.ID = uuid.New()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	err := withRetry(ctx, appendMaxRetries, appendRetryDelay, func() error {
		return db.appendTurnTx(ctx, turn)
	})
	if err != nil {
		return model.Turn{}, err
	}
	return turn, nil
}

const (
	appendMaxRetries = 3
	appendRetryDelay = 10 * time.Millisecond
)

func (db *DB) appendTurnTx(ctx context.Context, turn model.Turn) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE discussions SET turn_cursor = turn_cursor + 1, updated_at = now()
		 WHERE id = $1 AND state IN ('running', 'paused', 'stopped') AND turn_cursor = $2`,
		turn.DiscussionID, turn.Sequence,
	)
	if err != nil {
		return fmt.Errorf("storage: advance cursor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: append turn %d: %w", turn.Sequence, ErrStaleCursor)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO discussion_turns (id, discussion_id, sequence, agent_id, content, status, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		turn.ID, turn.DiscussionID, turn.Sequence, turn.AgentID, turn.Content, string(turn.Status), turn.Error, turn.CreatedAt,
	); err != nil {
		return fmt.Errorf("storage: insert turn: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit append tx: %w", err)
	}
	return nil
}

// RecordFailedTurn records a failed generation attempt. Failed turns
// carry the sequence they were aiming for but never advance the cursor,
// so they stay outside the contiguous succeeded prefix.
func (db *DB) RecordFailedTurn(ctx context.Context, turn model.Turn) (model.Turn, error) {
	if turn.ID == uuid.Nil {
		turn.ID = uuid.New()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	turn.Status = model.TurnFailed

	_, err := db.pool.Exec(ctx,
		`INSERT INTO discussion_turns (id, discussion_id, sequence, agent_id, content, status, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		turn.ID, turn.DiscussionID, turn.Sequence, turn.AgentID, turn.Content, string(turn.Status), turn.Error, turn.CreatedAt,
	)
	if err != nil {
		return model.Turn{}, fmt.Errorf("storage: record failed turn: %w", err)
	}
	return turn, nil
}

// ListTurns returns all turns of a discussion ordered by sequence, then
// attempt time — failed attempts at a sequence precede the succeeded
// turn that eventually claimed it.
func (db *DB) ListTurns(ctx context.Context, discussionID uuid.UUID) ([]model.Turn, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, discussion_id, sequence, agent_id, content, status, error, created_at
		 FROM discussion_turns WHERE discussion_id = $1
		 ORDER BY sequence ASC, created_at ASC`,
		discussionID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list turns: %w", err)
	}
	defer rows.Close()

	var turns []model.Turn
	for rows.Next() {
		var t model.Turn
		var status string
		if err := rows.Scan(&t.ID, &t.DiscussionID, &t.Sequence, &t.AgentID, &t.Content, &status, &t.Error, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan turn: %w", err)
		}
		t.Status = model.TurnStatus(status)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// ListSucceededTurns returns only the contiguous succeeded prefix in
// sequence order — the view the scheduler and context assembler share.
func (db *DB) ListSucceededTurns(ctx context.Context, discussionID uuid.UUID) ([]model.Turn, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, discussion_id, sequence, agent_id, content, status, error, created_at
		 FROM discussion_turns WHERE discussion_id = $1 AND status = 'succeeded'
		 ORDER BY sequence ASC`,
		discussionID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list succeeded turns: %w", err)
	}
	defer rows.Close()

	var turns []model.Turn
	for rows.Next() {
		var t model.Turn
		var status string
		if err := rows.Scan(&t.ID, &t.DiscussionID, &t.Sequence, &t.AgentID, &t.Content, &status, &t.Error, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan turn: %w", err)
		}
		t.Status = model.TurnStatus(status)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
