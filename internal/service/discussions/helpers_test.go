package discussions

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/giron-ai/giron/internal/model"
	"github.com/giron-ai/giron/internal/service/generation"
	"github.com/giron-ai/giron/internal/service/prompt"
	"github.com/giron-ai/giron/internal/storage"
)

// memStore is an in-memory Store with the same transition and append
// semantics as the Postgres ledger.
type memStore struct {
	mu          sync.Mutex
	rooms       map[uuid.UUID]model.Room
	messages    map[uuid.UUID]model.Message
	agents      map[string]model.Agent
	discussions map[uuid.UUID]model.Discussion
	turns       map[uuid.UUID][]model.Turn
}

func newMemStore() *memStore {
	return &memStore{
		rooms:       make(map[uuid.UUID]model.Room),
		messages:    make(map[uuid.UUID]model.Message),
		agents:      make(map[string]model.Agent),
		discussions: make(map[uuid.UUID]model.Discussion),
		turns:       make(map[uuid.UUID][]model.Turn),
	}
}

func (m *memStore) addRoom() model.Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := model.Room{ID: uuid.New(), Name: "test room", CreatedAt: time.Now()}
	m.rooms[r.ID] = r
	return r
}

func (m *memStore) addMessage(roomID uuid.UUID) model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := model.Message{
		ID:        uuid.New(),
		RoomID:    roomID,
		AuthorID:  "user-1",
		Kind:      model.AuthorUser,
		Content:   "should we do this?",
		CreatedAt: time.Now(),
	}
	m.messages[msg.ID] = msg
	return msg
}

func (m *memStore) addAgent(id string) model.Agent {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := model.Agent{AgentID: id, Name: id, Role: model.RoleMember, CreatedAt: time.Now()}
	m.agents[id] = a
	return a
}

func (m *memStore) CreateDiscussion(_ context.Context, d model.Discussion) (model.Discussion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.State = model.DiscussionCreated
	d.TurnCursor = 0
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	m.discussions[d.ID] = d
	return d, nil
}

func (m *memStore) GetDiscussion(_ context.Context, id uuid.UUID) (model.Discussion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.discussions[id]
	if !ok {
		return model.Discussion{}, fmt.Errorf("discussion %s: %w", id, storage.ErrNotFound)
	}
	return d, nil
}

func (m *memStore) TransitionDiscussion(_ context.Context, id uuid.UUID, from []model.DiscussionState, to model.DiscussionState, reason *string) (model.Discussion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.discussions[id]
	if !ok {
		return model.Discussion{}, fmt.Errorf("discussion %s: %w", id, storage.ErrNotFound)
	}
	allowed := false
	for _, f := range from {
		if d.State == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return d, fmt.Errorf("discussion %s is %s: %w", id, d.State, storage.ErrInvalidTransition)
	}
	d.State = to
	if reason != nil {
		d.FailureReason = reason
	}
	d.UpdatedAt = time.Now()
	m.discussions[id] = d
	return d, nil
}

func (m *memStore) AppendTurn(_ context.Context, turn model.Turn) (model.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if turn.Status != model.TurnSucceeded {
		return model.Turn{}, fmt.Errorf("append requires a succeeded turn")
	}
	d, ok := m.discussions[turn.DiscussionID]
	if !ok {
		return model.Turn{}, fmt.Errorf("discussion %s: %w", turn.DiscussionID, storage.ErrNotFound)
	}
	// Paused and stopped rows still accept an in-flight turn; only a
	// cursor mismatch or a terminal completed/failed row rejects it.
	appendable := d.State == model.DiscussionRunning ||
		d.State == model.DiscussionPaused ||
		d.State == model.DiscussionStopped
	if !appendable || d.TurnCursor != turn.Sequence {
		return model.Turn{}, storage.ErrStaleCursor
	}
	d.TurnCursor++
	d.UpdatedAt = time.Now()
	m.discussions[d.ID] = d
	turn.CreatedAt = time.Now()
	m.turns[d.ID] = append(m.turns[d.ID], turn)
	return turn, nil
}

func (m *memStore) RecordFailedTurn(_ context.Context, turn model.Turn) (model.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	turn.Status = model.TurnFailed
	turn.CreatedAt = time.Now()
	m.turns[turn.DiscussionID] = append(m.turns[turn.DiscussionID], turn)
	return turn, nil
}

func (m *memStore) ListTurns(_ context.Context, discussionID uuid.UUID) ([]model.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]model.Turn(nil), m.turns[discussionID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (m *memStore) ListSucceededTurns(_ context.Context, discussionID uuid.UUID) ([]model.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Turn
	for _, t := range m.turns[discussionID] {
		if t.Status == model.TurnSucceeded {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (m *memStore) GetRoom(_ context.Context, id uuid.UUID) (model.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return model.Room{}, fmt.Errorf("room %s: %w", id, storage.ErrNotFound)
	}
	return r, nil
}

func (m *memStore) GetMessage(_ context.Context, id uuid.UUID) (model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return model.Message{}, fmt.Errorf("message %s: %w", id, storage.ErrNotFound)
	}
	return msg, nil
}

func (m *memStore) GetAgents(_ context.Context, agentIDs []string) (map[string]model.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]model.Agent)
	for _, id := range agentIDs {
		if a, ok := m.agents[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

func (m *memStore) Notify(_ context.Context, _, _ string) error { return nil }

// stubAssembler returns an empty bundle with the topic passed through.
type stubAssembler struct {
	calls int
}

func (a *stubAssembler) Assemble(_ context.Context, _ uuid.UUID, topic *string, turns []model.Turn) prompt.Bundle {
	a.calls++
	return prompt.Bundle{Topic: topic, Turns: turns}
}

// stubGenerator yields canned content per call. failAt (1-based) makes
// that call return err. onCall runs before each call, letting tests
// inject pause/stop requests mid-loop.
type stubGenerator struct {
	mu     sync.Mutex
	n      int
	failAt int
	err    error
	onCall func(call int)
}

func (g *stubGenerator) Generate(_ context.Context, _ generation.Request) (string, error) {
	g.mu.Lock()
	g.n++
	call := g.n
	g.mu.Unlock()
	if g.onCall != nil {
		g.onCall(call)
	}
	if g.failAt != 0 && call >= g.failAt {
		return "", g.err
	}
	return fmt.Sprintf("contribution %d", call), nil
}

func (g *stubGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}
