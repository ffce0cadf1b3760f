package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/giron-ai/giron/internal/auth"
	"github.com/giron-ai/giron/internal/model"
	"github.com/giron-ai/giron/internal/search"
	"github.com/giron-ai/giron/internal/service/discussions"
	"github.com/giron-ai/giron/internal/service/embedding"
	"github.com/giron-ai/giron/internal/service/generation"
	"github.com/giron-ai/giron/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db                  *storage.DB
	jwtMgr              *auth.JWTManager
	discussionSvc       *discussions.Service
	embedder            embedding.Provider
	indexer             search.Indexer
	broker              *Broker
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	openapiSpec         []byte
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Indexer, Broker.
type HandlersDeps struct {
	DB                  *storage.DB
	JWTMgr              *auth.JWTManager
	DiscussionSvc       *discussions.Service
	Embedder            embedding.Provider
	Indexer             search.Indexer
	Broker              *Broker
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		db:                  d.DB,
		jwtMgr:              d.JWTMgr,
		discussionSvc:       d.DiscussionSvc,
		embedder:            d.Embedder,
		indexer:             d.Indexer,
		broker:              d.Broker,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		openapiSpec:         d.OpenAPISpec,
	}
}

// HandleOpenAPISpec serves the embedded OpenAPI specification.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}

// SeedAdmin ensures the bootstrap admin agent exists with the given API key.
// Called at startup when GIRON_ADMIN_API_KEY is configured.
func (h *Handlers) SeedAdmin(ctx context.Context, apiKey string) error {
	if _, err := h.db.GetAgent(ctx, "admin"); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("server: lookup admin agent: %w", err)
	}

	hash, err := auth.HashAPIKey(apiKey)
	if err != nil {
		return fmt.Errorf("server: hash admin key: %w", err)
	}
	_, err = h.db.CreateAgent(ctx, model.Agent{
		AgentID:    "admin",
		Name:       "Administrator",
		Role:       model.RoleAdmin,
		APIKeyHash: hash,
	})
	if err != nil {
		return fmt.Errorf("server: seed admin agent: %w", err)
	}
	h.logger.Info("seeded bootstrap admin agent")
	return nil
}

// HandleAuthToken handles POST /auth/token: exchanges an agent API key
// for a bearer token.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.AgentID == "" || req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "agent_id and api_key are required")
		return
	}

	agent, err := h.db.GetAgent(r.Context(), req.AgentID)
	if err != nil {
		// Burn the same hashing cost as a real verification so timing
		// does not reveal whether the agent_id exists.
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}
	if agent.APIKeyHash == "" {
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	valid, err := auth.VerifyAPIKey(req.APIKey, agent.APIKeyHash)
	if err != nil || !valid {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(agent)
	if err != nil {
		h.logger.Error("issue token", "agent_id", req.AgentID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "failed to issue token")
		return
	}

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{Token: token, ExpiresAt: expiresAt})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := h.db.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, map[string]any{
		"status":         status,
		"version":        h.version,
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
	})
}

// CreateAgentRequest is the admin payload for registering an agent.
type CreateAgentRequest struct {
	AgentID  string          `json:"agent_id"`
	Name     string          `json:"name"`
	Persona  string          `json:"persona"`
	StyleTag string          `json:"style_tag"`
	Role     model.AgentRole `json:"role"`
	APIKey   string          `json:"api_key"`
}

// HandleCreateAgent handles POST /v1/agents (admin only).
func (h *Handlers) HandleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req CreateAgentRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.AgentID == "" || req.Name == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "agent_id and name are required")
		return
	}
	if len(req.AgentID) > model.MaxAgentIDLen {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			fmt.Sprintf("agent_id exceeds %d characters", model.MaxAgentIDLen))
		return
	}

	var hash string
	if req.APIKey != "" {
		var err error
		hash, err = auth.HashAPIKey(req.APIKey)
		if err != nil {
			h.logger.Error("hash api key", "error", err)
			writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "failed to hash api key")
			return
		}
	}

	agent, err := h.db.CreateAgent(r.Context(), model.Agent{
		AgentID:    req.AgentID,
		Name:       req.Name,
		Persona:    req.Persona,
		StyleTag:   req.StyleTag,
		Role:       req.Role,
		APIKeyHash: hash,
	})
	if err != nil {
		h.logger.Error("create agent", "agent_id", req.AgentID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "failed to create agent")
		return
	}
	writeJSON(w, r, http.StatusCreated, agent)
}

// CreateRoomRequest is the payload for creating a room.
type CreateRoomRequest struct {
	Name string `json:"name"`
}

// HandleCreateRoom handles POST /v1/rooms.
func (h *Handlers) HandleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "name is required")
		return
	}

	room, err := h.db.CreateRoom(r.Context(), req.Name)
	if err != nil {
		h.logger.Error("create room", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "failed to create room")
		return
	}
	writeJSON(w, r, http.StatusCreated, room)
}

// HandleListRoomMessages handles GET /v1/rooms/{room_id}/messages.
func (h *Handlers) HandleListRoomMessages(w http.ResponseWriter, r *http.Request) {
	roomID, err := uuid.Parse(r.PathValue("room_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid room id")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, perr := strconv.Atoi(v); perr == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	if _, err := h.db.GetRoom(r.Context(), roomID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "room not found")
			return
		}
		h.logger.Error("get room", "room_id", roomID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "failed to load room")
		return
	}

	msgs, err := h.db.ListRecentMessages(r.Context(), roomID, limit)
	if err != nil {
		h.logger.Error("list messages", "room_id", roomID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "failed to list messages")
		return
	}
	writeJSON(w, r, http.StatusOK, msgs)
}

// HandlePostRoomMessage handles POST /v1/rooms/{room_id}/messages.
// Messages are embedded and indexed for semantic retrieval on a
// best-effort basis; the message is persisted regardless.
func (h *Handlers) HandlePostRoomMessage(w http.ResponseWriter, r *http.Request) {
	roomID, err := uuid.Parse(r.PathValue("room_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid room id")
		return
	}

	var req model.PostMessageRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	if _, err := h.db.GetRoom(r.Context(), roomID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "room not found")
			return
		}
		h.logger.Error("get room", "room_id", roomID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "failed to load room")
		return
	}

	claims := ClaimsFromContext(r.Context())
	msg := model.Message{
		ID:       uuid.New(),
		RoomID:   roomID,
		AuthorID: claims.AgentID,
		Kind:     model.AuthorAgent,
		Content:  req.Content,
	}

	if emb, eerr := h.embedder.Embed(r.Context(), req.Content); eerr != nil {
		h.logger.Warn("message embedding failed, storing without", "room_id", roomID, "error", eerr)
	} else if !embedding.IsZeroVector(emb) {
		msg.Embedding = &emb
	}

	msg, err = h.db.CreateMessage(r.Context(), msg)
	if err != nil {
		h.logger.Error("create message", "room_id", roomID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "failed to store message")
		return
	}

	if h.indexer != nil && msg.Embedding != nil {
		point := search.Point{
			ID:        msg.ID,
			RoomID:    msg.RoomID,
			AuthorID:  msg.AuthorID,
			Kind:      string(msg.Kind),
			CreatedAt: msg.CreatedAt,
			Embedding: msg.Embedding.Slice(),
		}
		if ierr := h.indexer.Upsert(r.Context(), []search.Point{point}); ierr != nil {
			h.logger.Warn("message index upsert failed", "message_id", msg.ID, "error", ierr)
		}
	}

	writeJSON(w, r, http.StatusCreated, msg)
}

// HandleCreateDiscussion handles POST /v1/discussions.
func (h *Handlers) HandleCreateDiscussion(w http.ResponseWriter, r *http.Request) {
	var req model.CreateDiscussionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	d, err := h.discussionSvc.Create(r.Context(), req)
	if err != nil {
		h.writeDiscussionError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, d)
}

// HandleExecuteDiscussion handles POST /v1/discussions/{id}/execute.
// The response is written after the turn loop exits, so for long
// discussions this is a long-polling call.
func (h *Handlers) HandleExecuteDiscussion(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid discussion id")
		return
	}

	claims := ClaimsFromContext(r.Context())
	res, err := h.discussionSvc.Execute(r.Context(), id, claims.AgentID)
	if err != nil {
		var genErr *generation.Error
		if errors.As(err, &genErr) {
			// The discussion has transitioned to failed; the result
			// carries the terminal row and the turns that did land.
			writeErrorState(w, r, http.StatusBadGateway, model.ErrCodeGeneration,
				genErr.Error(), string(res.Discussion.State))
			return
		}
		h.writeDiscussionError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// HandlePauseDiscussion handles POST /v1/discussions/{id}/pause.
func (h *Handlers) HandlePauseDiscussion(w http.ResponseWriter, r *http.Request) {
	h.handleLifecycle(w, r, h.discussionSvc.Pause)
}

// HandleResumeDiscussion handles POST /v1/discussions/{id}/resume.
func (h *Handlers) HandleResumeDiscussion(w http.ResponseWriter, r *http.Request) {
	h.handleLifecycle(w, r, h.discussionSvc.Resume)
}

// HandleStopDiscussion handles POST /v1/discussions/{id}/stop.
func (h *Handlers) HandleStopDiscussion(w http.ResponseWriter, r *http.Request) {
	h.handleLifecycle(w, r, h.discussionSvc.Stop)
}

func (h *Handlers) handleLifecycle(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id uuid.UUID) (model.Discussion, error)) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid discussion id")
		return
	}

	d, err := op(r.Context(), id)
	if err != nil {
		h.writeDiscussionError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, d)
}

// HandleGetDiscussion handles GET /v1/discussions/{id}.
func (h *Handlers) HandleGetDiscussion(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid discussion id")
		return
	}

	snap, err := h.discussionSvc.Status(r.Context(), id)
	if err != nil {
		h.writeDiscussionError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, snap)
}

// HandleSubscribe handles GET /v1/subscribe: an SSE stream of discussion
// state transitions and appended turns.
func (h *Handlers) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternal, "event streaming not configured")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-ch:
			if !open {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeDiscussionError maps service errors to HTTP responses.
func (h *Handlers) writeDiscussionError(w http.ResponseWriter, r *http.Request, err error) {
	var ise *discussions.InvalidStateError
	switch {
	case errors.Is(err, discussions.ErrValidation):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "discussion not found")
	case errors.As(err, &ise):
		writeErrorState(w, r, http.StatusConflict, model.ErrCodeInvalidState, ise.Error(), string(ise.State))
	default:
		h.logger.Error("discussion operation failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "internal error")
	}
}
