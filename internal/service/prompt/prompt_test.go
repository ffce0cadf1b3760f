package prompt

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giron-ai/giron/internal/model"
	"github.com/giron-ai/giron/internal/search"
	"github.com/giron-ai/giron/internal/testutil"
)

type fakeHistory struct {
	recent    []model.Message
	recentErr error
	byID      map[uuid.UUID]model.Message
	byIDErr   error
}

func (f *fakeHistory) ListRecentMessages(_ context.Context, _ uuid.UUID, limit int) ([]model.Message, error) {
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	if len(f.recent) > limit {
		return f.recent[len(f.recent)-limit:], nil
	}
	return f.recent, nil
}

func (f *fakeHistory) GetMessagesByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]model.Message, error) {
	if f.byIDErr != nil {
		return nil, f.byIDErr
	}
	out := make(map[uuid.UUID]model.Message)
	for _, id := range ids {
		if m, ok := f.byID[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

type fakeEmbedder struct {
	vec pgvector.Vector
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) (pgvector.Vector, error) {
	return f.vec, f.err
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([]pgvector.Vector, error) {
	out := make([]pgvector.Vector, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, f.err
}

func (f *fakeEmbedder) Dimensions() int { return 3 }

type fakeSearcher struct {
	results   []search.Result
	searchErr error
	healthErr error
	queries   int
}

func (f *fakeSearcher) Search(_ context.Context, _ uuid.UUID, _ []float32, _ int) ([]search.Result, error) {
	f.queries++
	return f.results, f.searchErr
}

func (f *fakeSearcher) Healthy(_ context.Context) error { return f.healthErr }

func msg(author, content string) model.Message {
	return model.Message{
		ID:        uuid.New(),
		RoomID:    uuid.New(),
		AuthorID:  author,
		Kind:      model.AuthorUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

func topicPtr(s string) *string { return &s }

func TestAssembleSemanticAndChronological(t *testing.T) {
	hit := msg("alice", "we discussed latency budgets last week")
	history := &fakeHistory{
		recent: []model.Message{msg("bob", "hello"), msg("alice", "hi")},
		byID:   map[uuid.UUID]model.Message{hit.ID: hit},
	}
	searcher := &fakeSearcher{results: []search.Result{{MessageID: hit.ID, Score: 0.92}}}
	embedder := &fakeEmbedder{vec: pgvector.NewVector([]float32{0.1, 0.2, 0.3})}

	a := New(history, embedder, searcher, Limits{}, testutil.TestLogger())
	bundle := a.Assemble(context.Background(), uuid.New(), topicPtr("latency"), nil)

	require.Len(t, bundle.Snippets, 1)
	assert.Equal(t, "alice", bundle.Snippets[0].AuthorID)
	assert.InDelta(t, 0.92, bundle.Snippets[0].Score, 0.001)
	assert.Len(t, bundle.Recent, 2)
	assert.Equal(t, 1, searcher.queries)
}

func TestAssembleDegradesWhenSearchFails(t *testing.T) {
	history := &fakeHistory{recent: []model.Message{msg("bob", "hello")}}
	searcher := &fakeSearcher{searchErr: errors.New("qdrant down")}
	embedder := &fakeEmbedder{vec: pgvector.NewVector([]float32{0.1, 0.2, 0.3})}

	a := New(history, embedder, searcher, Limits{}, testutil.TestLogger())
	bundle := a.Assemble(context.Background(), uuid.New(), topicPtr("latency"), nil)

	assert.Empty(t, bundle.Snippets)
	assert.Len(t, bundle.Recent, 1)
}

func TestAssembleSkipsUnhealthyIndex(t *testing.T) {
	history := &fakeHistory{recent: []model.Message{msg("bob", "hello")}}
	searcher := &fakeSearcher{healthErr: errors.New("no collection")}
	embedder := &fakeEmbedder{vec: pgvector.NewVector([]float32{0.1, 0.2, 0.3})}

	a := New(history, embedder, searcher, Limits{}, testutil.TestLogger())
	bundle := a.Assemble(context.Background(), uuid.New(), topicPtr("latency"), nil)

	assert.Empty(t, bundle.Snippets)
	assert.Zero(t, searcher.queries)
}

func TestAssembleDegradesWhenEmbeddingFails(t *testing.T) {
	history := &fakeHistory{recent: []model.Message{msg("bob", "hello")}}
	searcher := &fakeSearcher{}
	embedder := &fakeEmbedder{err: errors.New("provider unavailable")}

	a := New(history, embedder, searcher, Limits{}, testutil.TestLogger())
	bundle := a.Assemble(context.Background(), uuid.New(), topicPtr("latency"), nil)

	assert.Empty(t, bundle.Snippets)
	assert.Zero(t, searcher.queries)
}

func TestAssembleDegradesWhenHydrationFails(t *testing.T) {
	history := &fakeHistory{
		recent:  []model.Message{msg("bob", "hello")},
		byIDErr: errors.New("db gone"),
	}
	searcher := &fakeSearcher{results: []search.Result{{MessageID: uuid.New(), Score: 0.5}}}
	embedder := &fakeEmbedder{vec: pgvector.NewVector([]float32{0.1, 0.2, 0.3})}

	a := New(history, embedder, searcher, Limits{}, testutil.TestLogger())
	bundle := a.Assemble(context.Background(), uuid.New(), topicPtr("latency"), nil)

	assert.Empty(t, bundle.Snippets)
	assert.Len(t, bundle.Recent, 1)
}

func TestAssembleNilSearcher(t *testing.T) {
	history := &fakeHistory{recent: []model.Message{msg("bob", "hello")}}
	embedder := &fakeEmbedder{vec: pgvector.NewVector([]float32{0.1, 0.2, 0.3})}

	a := New(history, embedder, nil, Limits{}, testutil.TestLogger())
	bundle := a.Assemble(context.Background(), uuid.New(), topicPtr("latency"), nil)

	assert.Empty(t, bundle.Snippets)
	assert.Len(t, bundle.Recent, 1)
}

func TestAssembleHistoryErrorStillReturnsTurns(t *testing.T) {
	history := &fakeHistory{recentErr: errors.New("db timeout")}
	embedder := &fakeEmbedder{vec: pgvector.NewVector([]float32{0, 0, 0})}
	turns := []model.Turn{{AgentID: "a1", Content: "opening", Status: model.TurnSucceeded}}

	a := New(history, embedder, nil, Limits{}, testutil.TestLogger())
	bundle := a.Assemble(context.Background(), uuid.New(), topicPtr("latency"), turns)

	assert.Empty(t, bundle.Recent)
	assert.Len(t, bundle.Turns, 1)
}

func TestTruncateDropsSnippetsFirst(t *testing.T) {
	big := strings.Repeat("x", 100)
	b := Bundle{
		Recent:   []model.Message{{Content: big}, {Content: big}},
		Snippets: []Snippet{{Content: big}, {Content: big}},
		Turns:    []model.Turn{{Content: big}},
	}

	out := b.truncate(320)

	assert.Empty(t, out.Snippets)
	assert.Len(t, out.Recent, 2)
	assert.Len(t, out.Turns, 1)
}

func TestTruncateKeepsLastTurn(t *testing.T) {
	big := strings.Repeat("x", 100)
	b := Bundle{
		Turns: []model.Turn{{Content: big}, {Content: big}, {Content: big}},
	}

	out := b.truncate(50)

	require.Len(t, out.Turns, 1)
}

func TestQueryText(t *testing.T) {
	assert.Equal(t, "", queryText(nil, nil))
	assert.Equal(t, "topic", queryText(topicPtr("topic"), nil))
	turns := []model.Turn{{Content: "first"}, {Content: "last"}}
	assert.Equal(t, "topic\nlast", queryText(topicPtr("topic"), turns))
	assert.Equal(t, "last", queryText(nil, turns))
}

func TestBuildRequest(t *testing.T) {
	agent := model.Agent{
		AgentID:  "a1",
		Name:     "Sage",
		Persona:  "A careful systems thinker.",
		StyleTag: "socratic",
	}
	bundle := Bundle{
		Topic:    topicPtr("caching strategy"),
		Recent:   []model.Message{{AuthorID: "u1", Content: "should we cache?"}},
		Snippets: []Snippet{{AuthorID: "u2", Content: "caches bit us before", Score: 0.8}},
		Turns: []model.Turn{
			{AgentID: "a1", Content: "my opening"},
			{AgentID: "a2", Content: "their reply"},
		},
	}

	req := BuildRequest(agent, "user-1", bundle)

	assert.Contains(t, req.System, "Sage")
	assert.Contains(t, req.System, "careful systems thinker")
	assert.Contains(t, req.System, "socratic")
	assert.Contains(t, req.System, "caching strategy")
	assert.Equal(t, "user-1", req.UserID)

	require.Len(t, req.Messages, 4)
	assert.Equal(t, "user", req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "caches bit us before")
	assert.Contains(t, req.Messages[1].Content, "should we cache?")
	assert.Equal(t, "assistant", req.Messages[2].Role)
	assert.Equal(t, "my opening", req.Messages[2].Content)
	assert.Equal(t, "user", req.Messages[3].Role)
	assert.Contains(t, req.Messages[3].Content, "their reply")
}
