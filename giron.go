// Package giron is the public API for embedding the Giron discussion
// orchestration server.
//
// Consumers import this package to construct and extend the server
// without forking it:
//
//	app, err := giron.New(
//	    giron.WithVersion(version),
//	    giron.WithLogger(logger),
//	    giron.WithGenerationProvider(myProvider),
//	    giron.WithExtraRoutes(myRoutes),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: giron (root) imports
// internal/*, but internal/* never imports giron (root). Public types
// (Discussion, Turn, etc.) are standalone structs with no internal
// imports; conversion helpers live here because this is the only file
// that sees both sides of the boundary.
package giron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/pgvector/pgvector-go"

	"github.com/giron-ai/giron/api"
	"github.com/giron-ai/giron/internal/auth"
	"github.com/giron-ai/giron/internal/config"
	"github.com/giron-ai/giron/internal/mcp"
	"github.com/giron-ai/giron/internal/model"
	"github.com/giron-ai/giron/internal/ratelimit"
	"github.com/giron-ai/giron/internal/search"
	"github.com/giron-ai/giron/internal/server"
	"github.com/giron-ai/giron/internal/service/discussions"
	"github.com/giron-ai/giron/internal/service/embedding"
	"github.com/giron-ai/giron/internal/service/generation"
	"github.com/giron-ai/giron/internal/service/prompt"
	"github.com/giron-ai/giron/internal/storage"
	"github.com/giron-ai/giron/internal/telemetry"
	"github.com/giron-ai/giron/migrations"
)

// App is the Giron server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg           config.Config
	db            *storage.DB
	srv           *server.Server
	discussionSvc *discussions.Service
	qdrantIndex   *search.QdrantIndex // nil when Qdrant is not configured
	broker        *server.Broker      // nil when no notify connection
	limiter       ratelimit.Limiter
	otelShutdown  func(context.Context) error
	logger        *slog.Logger
	version       string
}

// New initialises the Giron server. It connects to the database, runs
// migrations, wires all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.notifyURL != "" {
		cfg.NotifyURL = o.notifyURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("giron starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, true)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	db, err := storage.New(context.Background(), cfg.DatabaseURL, cfg.NotifyURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}
	db.RegisterPoolMetrics()

	if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("migrations: %w", err)
	}
	for i, extraFS := range o.extraMigrations {
		if err := db.RunMigrations(context.Background(), extraFS); err != nil {
			db.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("extra migrations[%d]: %w", i, err)
		}
	}

	// Verify the ledger schema exists after migration.
	var schemaOK bool
	if err := db.Pool().QueryRow(context.Background(),
		`SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_schema = 'public' AND table_name = 'discussions')`,
	).Scan(&schemaOK); err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("schema verification: %w", err)
	}
	if !schemaOK {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("critical table 'discussions' does not exist after migration; check that the pgvector extension is created (see docker/init.sql)")
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("auth: %w", err)
	}

	// Embedding provider — external override takes priority over config.
	var embedder embedding.Provider
	if o.embeddingProvider != nil {
		embedder = &embeddingAdapter{p: o.embeddingProvider}
	} else {
		embedder = newEmbeddingProvider(cfg, logger)
	}

	// Qdrant vector index for context retrieval.
	var searcher search.Searcher
	var qdrantIndex *search.QdrantIndex
	if cfg.QdrantURL != "" {
		var idxErr error
		qdrantIndex, idxErr = search.NewQdrantIndex(search.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions), //nolint:gosec // validated positive in config.Validate
		}, logger)
		if idxErr != nil {
			db.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("qdrant: %w", idxErr)
		}
		if err := qdrantIndex.EnsureCollection(context.Background()); err != nil {
			_ = qdrantIndex.Close()
			db.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("qdrant ensure collection: %w", err)
		}
		searcher = qdrantIndex
		logger.Info("qdrant: enabled", "collection", cfg.QdrantCollection)
	} else {
		logger.Info("qdrant: disabled (no QDRANT_URL), context retrieval is chronological only")
	}
	if o.searcher != nil {
		searcher = &searcherAdapter{s: o.searcher}
	}

	// Turn generation with bounded retry.
	var genProvider generation.Provider
	if o.generationProvider != nil {
		genProvider = &generationAdapter{p: o.generationProvider}
	} else {
		genProvider = newGenerationProvider(cfg, logger)
	}
	generator := generation.NewAdapter(genProvider, cfg.GenerationAttempts, cfg.GenerationBaseDelay, cfg.GenerationTimeout, logger)

	// Context assembly.
	assembler := prompt.New(db, embedder, searcher, prompt.Limits{
		MaxRecent:   cfg.ContextMaxRecent,
		MaxSnippets: cfg.ContextMaxSnippets,
		MaxChars:    cfg.ContextMaxChars,
	}, logger)

	discussionSvc := discussions.New(db, assembler, generator, logger)
	for _, h := range o.eventHooks {
		discussionSvc.RegisterHook(&turnHookAdapter{hook: h})
	}

	mcpSrv := mcp.New(db, discussionSvc, logger)

	// SSE broker.
	var broker *server.Broker
	if db.HasNotifyConn() {
		broker = server.NewBroker(db, logger)
	} else {
		logger.Info("SSE broker: disabled (no notify connection)")
	}

	// Rate limiter.
	var limiter ratelimit.Limiter
	if cfg.RateLimitPerMinute > 0 {
		limiter = ratelimit.NewMemoryLimiter(float64(cfg.RateLimitPerMinute)/60.0, cfg.RateLimitPerMinute)
		logger.Info("rate limiting: memory (in-process token bucket)", "per_minute", cfg.RateLimitPerMinute)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	// Adapt route registrars from public giron.RouteRegistrar to internal server format.
	var extraRoutes []func(*http.ServeMux, server.RoleMiddlewareFn)
	for _, fn := range o.routeRegistrars {
		fn := fn // capture
		extraRoutes = append(extraRoutes, func(mux *http.ServeMux, roleFn server.RoleMiddlewareFn) {
			fn(mux, &authHelperImpl{roleFn: roleFn})
		})
	}

	// Adapt middlewares from giron.Middleware to func(http.Handler) http.Handler.
	var middlewares []func(http.Handler) http.Handler
	for _, mw := range o.middlewares {
		mw := mw // capture
		middlewares = append(middlewares, func(h http.Handler) http.Handler { return mw(h) })
	}

	srv := server.New(server.ServerConfig{
		DB:                  db,
		JWTMgr:              jwtMgr,
		DiscussionSvc:       discussionSvc,
		Embedder:            embedder,
		Logger:              logger,
		Limiter:             limiter,
		Broker:              broker,
		Indexer:             qdrantIndex,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         api.OpenAPISpec,
		ExtraRoutes:         extraRoutes,
		Middlewares:         middlewares,
	})

	// Seed admin agent.
	if cfg.AdminAPIKey != "" {
		if err := srv.Handlers().SeedAdmin(context.Background(), cfg.AdminAPIKey); err != nil {
			db.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("admin seed: %w", err)
		}
	} else {
		logger.Warn("no GIRON_ADMIN_API_KEY configured, admin agent not seeded")
	}

	return &App{
		cfg:           cfg,
		db:            db,
		srv:           srv,
		discussionSvc: discussionSvc,
		qdrantIndex:   qdrantIndex,
		broker:        broker,
		limiter:       limiter,
		otelShutdown:  otelShutdown,
		logger:        logger,
		version:       version,
	}, nil
}

// Run starts the SSE broker and the HTTP server, then blocks until ctx is
// cancelled or a fatal server error occurs. On return, Shutdown is called
// automatically — callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	if a.broker != nil {
		go a.broker.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown drains in-flight HTTP requests, then closes the vector index,
// the database pool, and the OTEL provider. Discussions that were mid-loop
// stay in state running and resume from the cursor on the next execute.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("giron shutting down")

	httpCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}

	_ = a.limiter.Close()
	if a.qdrantIndex != nil {
		_ = a.qdrantIndex.Close()
	}
	_ = a.otelShutdown(context.Background())
	a.db.Close(context.Background())

	a.logger.Info("giron stopped")
	return nil
}

// DiscussionStatus returns the public view of a discussion and its turn
// ledger, for embedding consumers that bypass the HTTP API.
func (a *App) DiscussionStatus(ctx context.Context, id uuid.UUID) (Discussion, []Turn, error) {
	snap, err := a.discussionSvc.Status(ctx, id)
	if err != nil {
		return Discussion{}, nil, err
	}
	turns := make([]Turn, len(snap.Turns))
	for i, t := range snap.Turns {
		turns[i] = toPublicTurn(t)
	}
	return toPublicDiscussion(snap.Discussion), turns, nil
}

// RoomMessages returns the public view of a room's recent messages.
func (a *App) RoomMessages(ctx context.Context, roomID uuid.UUID, limit int) ([]Message, error) {
	msgs, err := a.db.ListRecentMessages(ctx, roomID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = Message{
			ID:        m.ID,
			RoomID:    m.RoomID,
			AuthorID:  m.AuthorID,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		}
	}
	return out, nil
}

// ── Adapters (defined here because this file imports both sides) ───────────────

// embeddingAdapter wraps a public EmbeddingProvider as an internal
// embedding.Provider, converting []float32 to pgvector.Vector.
type embeddingAdapter struct {
	p EmbeddingProvider
}

func (a *embeddingAdapter) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	vec, err := a.p.Embed(ctx, text)
	if err != nil {
		return pgvector.Vector{}, err
	}
	return pgvector.NewVector(vec), nil
}

func (a *embeddingAdapter) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	vecs, err := a.p.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	out := make([]pgvector.Vector, len(vecs))
	for i, v := range vecs {
		out[i] = pgvector.NewVector(v)
	}
	return out, nil
}

func (a *embeddingAdapter) Dimensions() int { return a.p.Dimensions() }

// generationAdapter wraps a public GenerationProvider as an internal
// generation.Provider. Untyped errors are classified as transient by the
// retry adapter.
type generationAdapter struct {
	p GenerationProvider
}

func (a *generationAdapter) Complete(ctx context.Context, req generation.Request) (string, error) {
	msgs := make([]GenerationMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = GenerationMessage{Role: m.Role, Content: m.Content}
	}
	return a.p.Complete(ctx, GenerationRequest{
		System:   req.System,
		Messages: msgs,
		UserID:   req.UserID,
	})
}

// searcherAdapter wraps a public Searcher as an internal search.Searcher.
type searcherAdapter struct {
	s Searcher
}

func (a *searcherAdapter) Search(ctx context.Context, roomID uuid.UUID, emb []float32, limit int) ([]search.Result, error) {
	results, err := a.s.Search(ctx, roomID, emb, limit)
	if err != nil {
		return nil, err
	}
	out := make([]search.Result, len(results))
	for i, r := range results {
		out[i] = search.Result{MessageID: r.MessageID, Score: r.Score}
	}
	return out, nil
}

func (a *searcherAdapter) Healthy(ctx context.Context) error {
	return a.s.Healthy(ctx)
}

// turnHookAdapter bridges a public EventHook to the service-layer
// discussions.TurnHook, converting internal model types on the way out.
type turnHookAdapter struct {
	hook EventHook
}

func (a *turnHookAdapter) OnTurnAppended(ctx context.Context, turn model.Turn) error {
	return a.hook.OnTurnAppended(ctx, toPublicTurn(turn))
}

func (a *turnHookAdapter) OnStateChanged(ctx context.Context, d model.Discussion) error {
	return a.hook.OnStateChanged(ctx, toPublicDiscussion(d))
}

// authHelperImpl implements giron.AuthHelper using an internal
// server.RoleMiddlewareFn, bridging the public interface to the internal
// RBAC middleware without importing server from consumer code.
type authHelperImpl struct {
	roleFn server.RoleMiddlewareFn
}

func (a *authHelperImpl) RequireRole(roles ...Role) func(http.Handler) http.Handler {
	internal := make([]model.AgentRole, len(roles))
	for i, r := range roles {
		internal[i] = model.AgentRole(r)
	}
	return a.roleFn(internal...)
}

// ── Type converters ────────────────────────────────────────────────────────────

func toPublicDiscussion(d model.Discussion) Discussion {
	return Discussion{
		ID:              d.ID,
		RoomID:          d.RoomID,
		OriginMessageID: d.OriginMessageID,
		Topic:           d.Topic,
		Intensity:       string(d.Intensity),
		Participants:    d.ParticipantAgentIDs,
		State:           DiscussionState(d.State),
		TurnCursor:      d.TurnCursor,
		FailureReason:   d.FailureReason,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func toPublicTurn(t model.Turn) Turn {
	return Turn{
		ID:           t.ID,
		DiscussionID: t.DiscussionID,
		Sequence:     t.Sequence,
		AgentID:      t.AgentID,
		Content:      t.Content,
		Succeeded:    t.Status == model.TurnSucceeded,
		Error:        t.Error,
		CreatedAt:    t.CreatedAt,
	}
}

// ── Provider selection (config-driven defaults) ────────────────────────────────

func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when GIRON_EMBEDDING_PROVIDER=openai")
			return embedding.NewNoopProvider(dims)
		}
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", dims)
		return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)
	case "noop":
		logger.Info("embedding provider: noop (semantic retrieval disabled)")
		return embedding.NewNoopProvider(dims)
	case "auto":
		fallthrough
	default:
		if ollamaReachable(cfg.OllamaURL) {
			logger.Info("embedding provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
			return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)
		}
		if cfg.OpenAIAPIKey != "" {
			logger.Info("embedding provider: openai (auto-detected)", "model", cfg.EmbeddingModel, "dimensions", dims)
			return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
		}
		logger.Warn("no embedding provider available, using noop (semantic retrieval disabled)")
		return embedding.NewNoopProvider(dims)
	}
}

func newGenerationProvider(cfg config.Config, logger *slog.Logger) generation.Provider {
	switch cfg.GenerationProvider {
	case "script":
		logger.Warn("generation provider: script (canned responses, development only)")
		return generation.NewScriptProvider()
	default:
		if cfg.OpenAIAPIKey == "" {
			logger.Warn("generation provider: script (no OPENAI_API_KEY configured)")
			return generation.NewScriptProvider()
		}
		logger.Info("generation provider: openai", "model", cfg.GenerationModel)
		return generation.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.GenerationModel)
	}
}

func ollamaReachable(baseURL string) bool {
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(c, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
