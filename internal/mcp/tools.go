package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/giron-ai/giron/internal/model"
	"github.com/giron-ai/giron/internal/service/discussions"
	"github.com/giron-ai/giron/internal/service/generation"
	"github.com/giron-ai/giron/internal/storage"
)

func (s *Server) registerTools() {
	// giron_start_discussion — create a discussion around a message.
	s.mcpServer.AddTool(
		mcplib.NewTool("giron_start_discussion",
			mcplib.WithDescription(`Start a multi-agent discussion around an existing room message.

WHEN TO USE: when a message deserves deliberation by several agents rather
than a single reply. The discussion is created in state "created" and
produces no turns until giron_execute_discussion is called.

Intensity controls how long the debate runs: "low" is one round over the
participants, "normal" a few rounds, "high" an extended exchange.

WHAT YOU GET BACK: the discussion ID and initial state. Keep the ID — every
other discussion tool takes it.`),
			mcplib.WithString("room_id",
				mcplib.Description("UUID of the room the discussion belongs to"),
				mcplib.Required()),
			mcplib.WithString("origin_message_id",
				mcplib.Description("UUID of the message the discussion is anchored to (must be in the same room)"),
				mcplib.Required()),
			mcplib.WithString("agent_ids",
				mcplib.Description("Comma-separated participant agent IDs, at least two distinct"),
				mcplib.Required()),
			mcplib.WithString("topic",
				mcplib.Description("Optional topic framing the debate; defaults to the origin message content")),
			mcplib.WithString("intensity",
				mcplib.Description("Discussion intensity: low, normal, or high (default normal)")),
		),
		s.handleStartDiscussion,
	)

	// giron_execute_discussion — run the turn loop to completion.
	s.mcpServer.AddTool(
		mcplib.NewTool("giron_execute_discussion",
			mcplib.WithDescription(`Run a discussion's turn loop until it completes, pauses, or is stopped.

WHEN TO USE: after giron_start_discussion, or to resume a paused or
interrupted discussion — execution always continues from the turn cursor,
never restarts.

This call blocks while turns are generated. On generation failure the
discussion transitions to "failed" (terminal) and the error is reported.

WHAT YOU GET BACK: the final discussion state and the turns produced by
this invocation.`),
			mcplib.WithString("discussion_id",
				mcplib.Description("UUID of the discussion to execute"),
				mcplib.Required()),
		),
		s.handleExecuteDiscussion,
	)

	// giron_discussion_status — read-only snapshot.
	s.mcpServer.AddTool(
		mcplib.NewTool("giron_discussion_status",
			mcplib.WithDescription(`Get the current state of a discussion and its full turn ledger.

WHEN TO USE: to check whether a discussion is still running, inspect the
transcript so far, or read the failure reason of a failed discussion.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("discussion_id",
				mcplib.Description("UUID of the discussion"),
				mcplib.Required()),
		),
		s.handleDiscussionStatus,
	)

	// Lifecycle tools.
	s.mcpServer.AddTool(
		mcplib.NewTool("giron_pause_discussion",
			mcplib.WithDescription(`Pause a running discussion after its in-flight turn settles.

Pausing is idempotent: pausing an already-paused discussion succeeds
without effect. The discussion can later be resumed or executed.`),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("discussion_id",
				mcplib.Description("UUID of the discussion"),
				mcplib.Required()),
		),
		s.lifecycleHandler("pause", func(ctx context.Context, id uuid.UUID) (model.Discussion, error) {
			return s.svc.Pause(ctx, id)
		}),
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("giron_resume_discussion",
			mcplib.WithDescription(`Mark a paused discussion as running again.

This flips the state only — call giron_execute_discussion to actually
produce turns. Valid only from state "paused".`),
			mcplib.WithString("discussion_id",
				mcplib.Description("UUID of the discussion"),
				mcplib.Required()),
		),
		s.lifecycleHandler("resume", func(ctx context.Context, id uuid.UUID) (model.Discussion, error) {
			return s.svc.Resume(ctx, id)
		}),
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("giron_stop_discussion",
			mcplib.WithDescription(`Stop a discussion permanently. Terminal and idempotent.

A stopped discussion keeps its turn ledger but can never run again. Use
pause instead if the discussion might continue later.`),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("discussion_id",
				mcplib.Description("UUID of the discussion"),
				mcplib.Required()),
		),
		s.lifecycleHandler("stop", func(ctx context.Context, id uuid.UUID) (model.Discussion, error) {
			return s.svc.Stop(ctx, id)
		}),
	)
}

func (s *Server) handleStartDiscussion(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	roomID, err := uuid.Parse(request.GetString("room_id", ""))
	if err != nil {
		return errorResult("room_id must be a valid UUID"), nil
	}
	originID, err := uuid.Parse(request.GetString("origin_message_id", ""))
	if err != nil {
		return errorResult("origin_message_id must be a valid UUID"), nil
	}

	var agentIDs []string
	for _, id := range strings.Split(request.GetString("agent_ids", ""), ",") {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			agentIDs = append(agentIDs, trimmed)
		}
	}

	req := model.CreateDiscussionRequest{
		RoomID:          roomID,
		OriginMessageID: originID,
		AgentIDs:        agentIDs,
		Intensity:       model.Intensity(request.GetString("intensity", string(model.IntensityNormal))),
	}
	if topic := request.GetString("topic", ""); topic != "" {
		req.Topic = &topic
	}

	d, err := s.svc.Create(ctx, req)
	if err != nil {
		return discussionErrorResult(err), nil
	}

	return jsonResult(map[string]any{
		"discussion_id": d.ID,
		"state":         d.State,
		"participants":  d.ParticipantAgentIDs,
		"intensity":     d.Intensity,
	}), nil
}

func (s *Server) handleExecuteDiscussion(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, err := uuid.Parse(request.GetString("discussion_id", ""))
	if err != nil {
		return errorResult("discussion_id must be a valid UUID"), nil
	}

	result, err := s.svc.Execute(ctx, id, callerID)
	if err != nil {
		var genErr *generation.Error
		if errors.As(err, &genErr) {
			return jsonResult(map[string]any{
				"discussion_id":  id,
				"state":          result.Discussion.State,
				"failure_reason": result.Discussion.FailureReason,
				"turns_produced": len(result.Turns),
			}), nil
		}
		return discussionErrorResult(err), nil
	}

	return jsonResult(map[string]any{
		"discussion_id":   id,
		"state":           result.Discussion.State,
		"turns_produced":  len(result.Turns),
		"turns":           result.Turns,
		"already_running": result.AlreadyRunning,
	}), nil
}

func (s *Server) handleDiscussionStatus(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, err := uuid.Parse(request.GetString("discussion_id", ""))
	if err != nil {
		return errorResult("discussion_id must be a valid UUID"), nil
	}

	snap, err := s.svc.Status(ctx, id)
	if err != nil {
		return discussionErrorResult(err), nil
	}
	return jsonResult(snap), nil
}

func (s *Server) lifecycleHandler(op string, fn func(ctx context.Context, id uuid.UUID) (model.Discussion, error)) func(context.Context, mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	return func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		id, err := uuid.Parse(request.GetString("discussion_id", ""))
		if err != nil {
			return errorResult("discussion_id must be a valid UUID"), nil
		}

		d, err := fn(ctx, id)
		if err != nil {
			return discussionErrorResult(err), nil
		}
		return jsonResult(map[string]any{
			"discussion_id": d.ID,
			"state":         d.State,
			"operation":     op,
		}), nil
	}
}

// discussionErrorResult maps service errors onto tool error results with
// messages an LLM can act on.
func discussionErrorResult(err error) *mcplib.CallToolResult {
	var ise *discussions.InvalidStateError
	switch {
	case errors.As(err, &ise):
		return errorResult(fmt.Sprintf("%s (current state: %s)", ise.Error(), ise.State))
	case errors.Is(err, storage.ErrNotFound):
		return errorResult("discussion not found")
	default:
		return errorResult(err.Error())
	}
}
