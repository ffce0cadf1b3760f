// Package prompt assembles the context a speaking agent is grounded in:
// the chronological recent messages of the room plus a bounded number of
// semantically relevant historical snippets, combined with the
// discussion's own turns into a bounded completion request.
//
// Semantic retrieval is best-effort. Any failure — unhealthy index,
// embedding error, hydration miss — degrades to chronological-only
// context with a warning; it is never fatal to a turn.
package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/giron-ai/giron/internal/model"
	"github.com/giron-ai/giron/internal/search"
	"github.com/giron-ai/giron/internal/service/embedding"
	"github.com/giron-ai/giron/internal/service/generation"
	"github.com/giron-ai/giron/internal/telemetry"
)

// HistorySource supplies chronological room history and hydrates
// semantic search results. Implemented by storage.DB.
type HistorySource interface {
	ListRecentMessages(ctx context.Context, roomID uuid.UUID, limit int) ([]model.Message, error)
	GetMessagesByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.Message, error)
}

// Snippet is one semantically relevant historical message.
type Snippet struct {
	AuthorID string
	Content  string
	Score    float32
}

// Bundle is the assembled context for one turn. Item counts and total
// character length are bounded so generation prompts stay bounded.
type Bundle struct {
	Topic    *string
	Recent   []model.Message
	Snippets []Snippet
	Turns    []model.Turn
}

// Limits bound the assembled context.
type Limits struct {
	MaxRecent   int // recent chronological messages
	MaxSnippets int // semantic snippets
	MaxChars    int // total characters across recent + snippets + turns
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{MaxRecent: 12, MaxSnippets: 5, MaxChars: 24_000}
}

// Assembler wraps the retrieval collaborators.
type Assembler struct {
	history  HistorySource
	embedder embedding.Provider
	searcher search.Searcher // nil disables semantic retrieval
	limits   Limits
	logger   *slog.Logger

	retrievalDuration metric.Float64Histogram
}

// New creates an Assembler. searcher may be nil when no vector index is
// configured; the bundle is then chronological-only.
func New(history HistorySource, embedder embedding.Provider, searcher search.Searcher, limits Limits, logger *slog.Logger) *Assembler {
	if limits.MaxRecent <= 0 {
		limits.MaxRecent = DefaultLimits().MaxRecent
	}
	if limits.MaxSnippets <= 0 {
		limits.MaxSnippets = DefaultLimits().MaxSnippets
	}
	if limits.MaxChars <= 0 {
		limits.MaxChars = DefaultLimits().MaxChars
	}
	meter := telemetry.Meter("giron/prompt")
	retrievalDur, _ := meter.Float64Histogram("giron.retrieval.duration",
		metric.WithDescription("Time to retrieve semantic context (ms)"),
		metric.WithUnit("ms"),
	)
	return &Assembler{
		history:           history,
		embedder:          embedder,
		searcher:          searcher,
		limits:            limits,
		logger:            logger,
		retrievalDuration: retrievalDur,
	}
}

// Assemble gathers context for the next turn of a discussion. turns is
// the succeeded prefix so far, oldest first. Never fails: every
// retrieval problem degrades the bundle instead.
func (a *Assembler) Assemble(ctx context.Context, roomID uuid.UUID, topic *string, turns []model.Turn) Bundle {
	bundle := Bundle{Topic: topic, Turns: turns}

	recent, err := a.history.ListRecentMessages(ctx, roomID, a.limits.MaxRecent)
	if err != nil {
		a.logger.Warn("assemble: recent history unavailable, continuing with turns only", "room_id", roomID, "error", err)
	} else {
		bundle.Recent = recent
	}

	bundle.Snippets = a.retrieve(ctx, roomID, queryText(topic, turns))

	return bundle.truncate(a.limits.MaxChars)
}

// retrieve performs best-effort semantic retrieval.
func (a *Assembler) retrieve(ctx context.Context, roomID uuid.UUID, query string) []Snippet {
	if a.searcher == nil || query == "" {
		return nil
	}
	if err := a.searcher.Healthy(ctx); err != nil {
		a.logger.Debug("assemble: search index unhealthy, chronological only", "error", err)
		return nil
	}

	start := time.Now()
	defer func() {
		a.retrievalDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	}()

	emb, err := a.embedder.Embed(ctx, query)
	if err != nil {
		a.logger.Warn("assemble: query embedding failed, chronological only", "error", err)
		return nil
	}
	if embedding.IsZeroVector(emb) {
		return nil
	}

	results, err := a.searcher.Search(ctx, roomID, emb.Slice(), a.limits.MaxSnippets)
	if err != nil {
		a.logger.Warn("assemble: semantic search failed, chronological only", "error", err)
		return nil
	}
	if len(results) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, len(results))
	for i, r := range results {
		ids[i] = r.MessageID
	}
	msgs, err := a.history.GetMessagesByIDs(ctx, ids)
	if err != nil {
		a.logger.Warn("assemble: snippet hydration failed, chronological only", "error", err)
		return nil
	}

	snippets := make([]Snippet, 0, len(results))
	for _, r := range results {
		m, ok := msgs[r.MessageID]
		if !ok {
			// Deleted between index hit and hydration.
			continue
		}
		snippets = append(snippets, Snippet{AuthorID: m.AuthorID, Content: m.Content, Score: r.Score})
	}
	return snippets
}

// queryText builds the retrieval query from the topic and the most
// recent turn, which together describe where the debate currently is.
func queryText(topic *string, turns []model.Turn) string {
	var parts []string
	if topic != nil && *topic != "" {
		parts = append(parts, *topic)
	}
	if len(turns) > 0 {
		parts = append(parts, turns[len(turns)-1].Content)
	}
	return strings.Join(parts, "\n")
}

// truncate enforces the total character budget: snippets are dropped
// first (lowest score last in the ranked list), then the oldest recent
// messages, then the oldest turns.
func (b Bundle) truncate(maxChars int) Bundle {
	total := 0
	for _, m := range b.Recent {
		total += len(m.Content)
	}
	for _, s := range b.Snippets {
		total += len(s.Content)
	}
	for _, t := range b.Turns {
		total += len(t.Content)
	}

	for total > maxChars && len(b.Snippets) > 0 {
		last := len(b.Snippets) - 1
		total -= len(b.Snippets[last].Content)
		b.Snippets = b.Snippets[:last]
	}
	for total > maxChars && len(b.Recent) > 0 {
		total -= len(b.Recent[0].Content)
		b.Recent = b.Recent[1:]
	}
	for total > maxChars && len(b.Turns) > 1 {
		total -= len(b.Turns[0].Content)
		b.Turns = b.Turns[1:]
	}
	return b
}

// BuildRequest renders the bundle into a completion request for the
// speaking agent. The agent's own prior turns appear as assistant
// messages; everything else as user messages with the author named.
func BuildRequest(agent model.Agent, requestingUserID string, bundle Bundle) generation.Request {
	var system strings.Builder
	fmt.Fprintf(&system, "You are %s, a participant in a multi-agent debate.\n", agent.Name)
	if agent.Persona != "" {
		system.WriteString(agent.Persona)
		system.WriteString("\n")
	}
	if agent.StyleTag != "" {
		fmt.Fprintf(&system, "Style: %s.\n", agent.StyleTag)
	}
	if bundle.Topic != nil && *bundle.Topic != "" {
		fmt.Fprintf(&system, "The topic under discussion: %s\n", *bundle.Topic)
	}
	system.WriteString("Respond to the conversation so far with one substantive contribution in your own voice.")

	msgs := make([]generation.Message, 0, len(bundle.Recent)+len(bundle.Snippets)+len(bundle.Turns))
	if len(bundle.Snippets) > 0 {
		var sb strings.Builder
		sb.WriteString("Relevant earlier context from this room:\n")
		for _, s := range bundle.Snippets {
			fmt.Fprintf(&sb, "- %s: %s\n", s.AuthorID, s.Content)
		}
		msgs = append(msgs, generation.Message{Role: "user", Content: sb.String()})
	}
	for _, m := range bundle.Recent {
		msgs = append(msgs, generation.Message{Role: "user", Content: fmt.Sprintf("%s: %s", m.AuthorID, m.Content)})
	}
	for _, t := range bundle.Turns {
		if t.AgentID == agent.AgentID {
			msgs = append(msgs, generation.Message{Role: "assistant", Content: t.Content})
		} else {
			msgs = append(msgs, generation.Message{Role: "user", Content: fmt.Sprintf("%s: %s", t.AgentID, t.Content)})
		}
	}

	return generation.Request{
		System:   system.String(),
		Messages: msgs,
		UserID:   requestingUserID,
	}
}
