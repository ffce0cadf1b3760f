// Package discussions owns the discussion state machine. It serializes
// execution per discussion, drives the turn scheduler, calls the
// context assembler and the generation adapter, and persists every
// transition through the ledger.
//
// Both the HTTP API and MCP server delegate to this service so
// lifecycle behavior is identical across interfaces.
package discussions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/giron-ai/giron/internal/model"
	"github.com/giron-ai/giron/internal/scheduler"
	"github.com/giron-ai/giron/internal/service/generation"
	"github.com/giron-ai/giron/internal/service/prompt"
	"github.com/giron-ai/giron/internal/storage"
	"github.com/giron-ai/giron/internal/telemetry"
)

// Store is the ledger contract the orchestrator needs. Implemented by
// storage.DB; tests substitute an in-memory fake.
type Store interface {
	CreateDiscussion(ctx context.Context, d model.Discussion) (model.Discussion, error)
	GetDiscussion(ctx context.Context, id uuid.UUID) (model.Discussion, error)
	TransitionDiscussion(ctx context.Context, id uuid.UUID, from []model.DiscussionState, to model.DiscussionState, reason *string) (model.Discussion, error)
	AppendTurn(ctx context.Context, turn model.Turn) (model.Turn, error)
	RecordFailedTurn(ctx context.Context, turn model.Turn) (model.Turn, error)
	ListTurns(ctx context.Context, discussionID uuid.UUID) ([]model.Turn, error)
	ListSucceededTurns(ctx context.Context, discussionID uuid.UUID) ([]model.Turn, error)
	GetRoom(ctx context.Context, id uuid.UUID) (model.Room, error)
	GetMessage(ctx context.Context, id uuid.UUID) (model.Message, error)
	GetAgents(ctx context.Context, agentIDs []string) (map[string]model.Agent, error)
	Notify(ctx context.Context, channel, payload string) error
}

// Assembler gathers context for a turn. Implemented by prompt.Assembler.
type Assembler interface {
	Assemble(ctx context.Context, roomID uuid.UUID, topic *string, turns []model.Turn) prompt.Bundle
}

// Generator produces one turn's content. Implemented by
// generation.Adapter, which owns retry and timeout policy.
type Generator interface {
	Generate(ctx context.Context, req generation.Request) (string, error)
}

// ExecutionResult is the outcome of one Execute invocation: the final
// discussion row plus the turns produced during this invocation only.
type ExecutionResult struct {
	Discussion model.Discussion `json:"discussion"`
	Turns      []model.Turn     `json:"turns"`
	// AlreadyRunning is set when another loop held the guard and this
	// call returned current status without producing turns.
	AlreadyRunning bool `json:"already_running"`
}

// Service encapsulates discussion lifecycle logic.
type Service struct {
	store     Store
	assembler Assembler
	generator Generator
	logger    *slog.Logger
	guard     *guard
	hooks     []TurnHook

	turnsPerExecution metric.Int64Histogram
}

// New creates the discussion Service.
func New(store Store, assembler Assembler, generator Generator, logger *slog.Logger) *Service {
	meter := telemetry.Meter("giron/discussions")
	turnsHist, _ := meter.Int64Histogram("giron.discussion.turns_per_execution",
		metric.WithDescription("Turns produced by a single execute invocation"),
	)
	return &Service{
		store:             store,
		assembler:         assembler,
		generator:         generator,
		logger:            logger,
		guard:             newGuard(),
		turnsPerExecution: turnsHist,
	}
}

// Create validates the request, resolves its references, and writes the
// initial ledger row. The discussion starts in state created with a
// zero cursor and no turns.
func (s *Service) Create(ctx context.Context, req model.CreateDiscussionRequest) (model.Discussion, error) {
	if err := req.Validate(); err != nil {
		return model.Discussion{}, fmt.Errorf("%w: %s", ErrValidation, err)
	}

	// References must resolve before any state is written.
	if _, err := s.store.GetRoom(ctx, req.RoomID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Discussion{}, fmt.Errorf("%w: room %s does not exist", ErrValidation, req.RoomID)
		}
		return model.Discussion{}, fmt.Errorf("create: resolve room: %w", err)
	}
	origin, err := s.store.GetMessage(ctx, req.OriginMessageID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Discussion{}, fmt.Errorf("%w: origin message %s does not exist", ErrValidation, req.OriginMessageID)
		}
		return model.Discussion{}, fmt.Errorf("create: resolve origin message: %w", err)
	}
	if origin.RoomID != req.RoomID {
		return model.Discussion{}, fmt.Errorf("%w: origin message %s belongs to a different room", ErrValidation, req.OriginMessageID)
	}
	agents, err := s.store.GetAgents(ctx, req.AgentIDs)
	if err != nil {
		return model.Discussion{}, fmt.Errorf("create: resolve agents: %w", err)
	}
	var missing []string
	for _, id := range req.AgentIDs {
		if _, ok := agents[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return model.Discussion{}, fmt.Errorf("%w: unknown agents %v", ErrValidation, missing)
	}

	d, err := s.store.CreateDiscussion(ctx, model.Discussion{
		ID:                  uuid.New(),
		RoomID:              req.RoomID,
		OriginMessageID:     req.OriginMessageID,
		Topic:               req.Topic,
		Intensity:           req.Intensity,
		ParticipantAgentIDs: req.AgentIDs,
	})
	if err != nil {
		return model.Discussion{}, fmt.Errorf("create: %w", err)
	}

	s.logger.Info("discussion created",
		"discussion_id", d.ID,
		"room_id", d.RoomID,
		"participants", len(d.ParticipantAgentIDs),
		"intensity", d.Intensity,
	)
	s.notifyState(ctx, d)
	return d, nil
}

// Execute runs the turn loop until the scheduler signals completion,
// the ledger signals pause or stop, or generation fails past retries.
// Calling Execute on a discussion whose loop is already live in this
// process returns current status with AlreadyRunning set instead of
// starting a second loop. A running discussion with a free guard is a
// crash leftover and is resumed from the persisted cursor.
func (s *Service) Execute(ctx context.Context, id uuid.UUID, requestingUserID string) (ExecutionResult, error) {
	if !s.guard.tryAcquire(id) {
		snap, err := s.Status(ctx, id)
		if err != nil {
			return ExecutionResult{}, err
		}
		return ExecutionResult{Discussion: snap.Discussion, Turns: nil, AlreadyRunning: true}, nil
	}
	defer s.guard.release(id)

	d, err := s.store.TransitionDiscussion(ctx, id,
		[]model.DiscussionState{model.DiscussionCreated, model.DiscussionRunning, model.DiscussionPaused},
		model.DiscussionRunning, nil)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			return ExecutionResult{}, &InvalidStateError{Op: "execute", State: d.State}
		}
		if errors.Is(err, storage.ErrNotFound) {
			return ExecutionResult{}, fmt.Errorf("execute: discussion %s: %w", id, err)
		}
		return ExecutionResult{}, fmt.Errorf("execute: %w", err)
	}
	s.notifyState(ctx, d)

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("giron.discussion_id", d.ID.String()),
		attribute.String("giron.intensity", string(d.Intensity)),
	)

	return s.runLoop(ctx, d, requestingUserID)
}

// runLoop produces turns until a terminal or pause condition. It
// re-reads the discussion row before every turn so pause and stop
// requests persisted by other callers are observed between turns,
// never mid-generation.
func (s *Service) runLoop(ctx context.Context, d model.Discussion, requestingUserID string) (ExecutionResult, error) {
	agents, err := s.store.GetAgents(ctx, d.ParticipantAgentIDs)
	if err != nil {
		return ExecutionResult{Discussion: d}, fmt.Errorf("execute: resolve participants: %w", err)
	}

	var produced []model.Turn
	defer func() {
		s.turnsPerExecution.Record(ctx, int64(len(produced)))
	}()

	for {
		// Checkpoint: settle pause/stop/cancel before the next turn.
		if ctx.Err() != nil {
			s.logger.Info("execute interrupted, discussion stays resumable",
				"discussion_id", d.ID, "turns_produced", len(produced))
			return ExecutionResult{Discussion: d, Turns: produced}, nil
		}
		cur, err := s.store.GetDiscussion(ctx, d.ID)
		if err != nil {
			return ExecutionResult{Discussion: d, Turns: produced}, fmt.Errorf("execute: reload discussion: %w", err)
		}
		d = cur
		if d.State != model.DiscussionRunning {
			s.logger.Info("turn loop exiting on state change",
				"discussion_id", d.ID, "state", d.State, "turns_produced", len(produced))
			return ExecutionResult{Discussion: d, Turns: produced}, nil
		}

		decision := scheduler.Next(d.ParticipantAgentIDs, d.TurnCursor, d.Intensity)
		if decision.Complete {
			d, err = s.store.TransitionDiscussion(ctx, d.ID,
				[]model.DiscussionState{model.DiscussionRunning}, model.DiscussionCompleted, nil)
			if err != nil {
				return ExecutionResult{Discussion: d, Turns: produced}, fmt.Errorf("execute: complete: %w", err)
			}
			s.logger.Info("discussion completed",
				"discussion_id", d.ID, "turns", d.TurnCursor)
			s.notifyState(ctx, d)
			return ExecutionResult{Discussion: d, Turns: produced}, nil
		}

		turn, err := s.produceTurn(ctx, d, agents[decision.AgentID], requestingUserID)
		if err != nil {
			var genErr *generation.Error
			if errors.As(err, &genErr) {
				d = s.failDiscussion(ctx, d, turnErrorReason(d.TurnCursor, decision.AgentID, err))
				return ExecutionResult{Discussion: d, Turns: produced},
					fmt.Errorf("execute: turn %d by %s: %w", d.TurnCursor, decision.AgentID, err)
			}
			if errors.Is(err, storage.ErrStaleCursor) {
				// Another writer advanced the row. Reload and reschedule.
				s.logger.Warn("stale cursor on append, rescheduling",
					"discussion_id", d.ID, "sequence", d.TurnCursor)
				continue
			}
			// Ledger trouble: leave the row running so a later execute
			// resumes from the persisted cursor.
			return ExecutionResult{Discussion: d, Turns: produced},
				fmt.Errorf("execute: turn %d: %w", d.TurnCursor, err)
		}
		produced = append(produced, turn)
		s.notifyTurn(ctx, turn)
	}
}

// produceTurn assembles context, generates one contribution, and
// appends it atomically at the current cursor.
func (s *Service) produceTurn(ctx context.Context, d model.Discussion, agent model.Agent, requestingUserID string) (model.Turn, error) {
	history, err := s.store.ListSucceededTurns(ctx, d.ID)
	if err != nil {
		return model.Turn{}, fmt.Errorf("load turn history: %w", err)
	}

	bundle := s.assembler.Assemble(ctx, d.RoomID, d.Topic, history)
	req := prompt.BuildRequest(agent, requestingUserID, bundle)

	content, err := s.generator.Generate(ctx, req)
	if err != nil {
		return model.Turn{}, err
	}

	turn, err := s.store.AppendTurn(ctx, model.Turn{
		ID:           uuid.New(),
		DiscussionID: d.ID,
		Sequence:     d.TurnCursor,
		AgentID:      agent.AgentID,
		Content:      content,
		Status:       model.TurnSucceeded,
	})
	if err != nil {
		return model.Turn{}, err
	}
	return turn, nil
}

// failDiscussion records the failed attempt at the current cursor and
// moves the discussion to its terminal failed state. Failures here are
// logged and swallowed: the generation error is what the caller needs.
func (s *Service) failDiscussion(ctx context.Context, d model.Discussion, reason string) model.Discussion {
	if _, err := s.store.RecordFailedTurn(ctx, model.Turn{
		ID:           uuid.New(),
		DiscussionID: d.ID,
		Sequence:     d.TurnCursor,
		AgentID:      d.ParticipantAgentIDs[d.TurnCursor%len(d.ParticipantAgentIDs)],
		Status:       model.TurnFailed,
		Error:        &reason,
	}); err != nil {
		s.logger.Error("recording failed turn", "discussion_id", d.ID, "error", err)
	}
	failed, err := s.store.TransitionDiscussion(ctx, d.ID,
		[]model.DiscussionState{model.DiscussionRunning}, model.DiscussionFailed, &reason)
	if err != nil {
		s.logger.Error("transition to failed", "discussion_id", d.ID, "error", err)
		return d
	}
	s.logger.Warn("discussion failed", "discussion_id", failed.ID, "reason", reason)
	s.notifyState(ctx, failed)
	return failed
}

func turnErrorReason(sequence int, agentID string, err error) string {
	return fmt.Sprintf("turn %d by %s: %s", sequence, agentID, err.Error())
}

// Pause requests that the turn loop stop after the in-flight turn
// settles. Valid from running; pausing an already paused discussion is
// a no-op success.
func (s *Service) Pause(ctx context.Context, id uuid.UUID) (model.Discussion, error) {
	d, err := s.store.TransitionDiscussion(ctx, id,
		[]model.DiscussionState{model.DiscussionRunning, model.DiscussionPaused},
		model.DiscussionPaused, nil)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			return d, &InvalidStateError{Op: "pause", State: d.State}
		}
		return model.Discussion{}, fmt.Errorf("pause: %w", err)
	}
	s.logger.Info("discussion paused", "discussion_id", d.ID, "turn_cursor", d.TurnCursor)
	s.notifyState(ctx, d)
	return d, nil
}

// Resume moves a paused discussion back to running without producing
// turns; turn production happens on the next Execute call.
func (s *Service) Resume(ctx context.Context, id uuid.UUID) (model.Discussion, error) {
	d, err := s.store.TransitionDiscussion(ctx, id,
		[]model.DiscussionState{model.DiscussionPaused},
		model.DiscussionRunning, nil)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			return d, &InvalidStateError{Op: "resume", State: d.State}
		}
		return model.Discussion{}, fmt.Errorf("resume: %w", err)
	}
	s.logger.Info("discussion resumed", "discussion_id", d.ID, "turn_cursor", d.TurnCursor)
	s.notifyState(ctx, d)
	return d, nil
}

// Stop terminates the discussion. Valid from created, running, and
// paused; stopping an already stopped discussion is a no-op success.
// Completed and failed are not overridable.
func (s *Service) Stop(ctx context.Context, id uuid.UUID) (model.Discussion, error) {
	d, err := s.store.TransitionDiscussion(ctx, id,
		[]model.DiscussionState{model.DiscussionCreated, model.DiscussionRunning, model.DiscussionPaused, model.DiscussionStopped},
		model.DiscussionStopped, nil)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			return d, &InvalidStateError{Op: "stop", State: d.State}
		}
		return model.Discussion{}, fmt.Errorf("stop: %w", err)
	}
	s.logger.Info("discussion stopped", "discussion_id", d.ID, "turn_cursor", d.TurnCursor)
	s.notifyState(ctx, d)
	return d, nil
}

// Status returns the latest persisted discussion row plus its ordered
// turn list, failed attempts included.
func (s *Service) Status(ctx context.Context, id uuid.UUID) (model.DiscussionSnapshot, error) {
	d, err := s.store.GetDiscussion(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.DiscussionSnapshot{}, fmt.Errorf("status: discussion %s: %w", id, err)
		}
		return model.DiscussionSnapshot{}, fmt.Errorf("status: %w", err)
	}
	turns, err := s.store.ListTurns(ctx, id)
	if err != nil {
		return model.DiscussionSnapshot{}, fmt.Errorf("status: list turns: %w", err)
	}
	return model.DiscussionSnapshot{Discussion: d, Turns: turns}, nil
}

// notifyState publishes a state change on the discussions channel.
// Notification is best-effort.
func (s *Service) notifyState(ctx context.Context, d model.Discussion) {
	payload, _ := json.Marshal(map[string]any{
		"discussion_id": d.ID,
		"state":         d.State,
		"turn_cursor":   d.TurnCursor,
		"at":            time.Now().UTC(),
	})
	if err := s.store.Notify(ctx, storage.ChannelDiscussions, string(payload)); err != nil {
		s.logger.Debug("notify state change", "discussion_id", d.ID, "error", err)
	}
	s.fireStateHooks(d)
}

// notifyTurn publishes an appended turn on the turns channel.
func (s *Service) notifyTurn(ctx context.Context, turn model.Turn) {
	payload, _ := json.Marshal(map[string]any{
		"discussion_id": turn.DiscussionID,
		"sequence":      turn.Sequence,
		"agent_id":      turn.AgentID,
	})
	if err := s.store.Notify(ctx, storage.ChannelTurns, string(payload)); err != nil {
		s.logger.Debug("notify turn", "discussion_id", turn.DiscussionID, "error", err)
	}
	s.fireTurnHooks(turn)
}
