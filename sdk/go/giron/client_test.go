package giron

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

// mockServer creates an httptest server that mimics the Giron API.
func mockServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	// Always register auth endpoint.
	if _, ok := handlers["POST /auth/token"]; !ok {
		mux.HandleFunc("POST /auth/token", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"token":      "test-token-xyz",
					"expires_at": time.Now().Add(1 * time.Hour).Format(time.RFC3339),
				},
			})
		})
	}

	for pattern, handler := range handlers {
		mux.HandleFunc(pattern, handler)
	}

	return httptest.NewServer(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	return NewClient(Config{
		BaseURL: serverURL,
		AgentID: "test-agent",
		APIKey:  "test-key",
		Timeout: 5 * time.Second,
	})
}

func TestCreateRoomAndPostMessage(t *testing.T) {
	roomID := uuid.New()
	msgID := uuid.New()

	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/rooms": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer test-token-xyz" {
				writeJSON(w, http.StatusUnauthorized, map[string]any{
					"error": map[string]any{"code": "UNAUTHORIZED", "message": "bad token"},
				})
				return
			}
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["name"] != "war-room" {
				t.Errorf("expected room name 'war-room', got %q", body["name"])
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"data": Room{ID: roomID, Name: "war-room"},
			})
		},
		"POST /v1/rooms/{room_id}/messages": func(w http.ResponseWriter, r *http.Request) {
			if r.PathValue("room_id") != roomID.String() {
				writeJSON(w, http.StatusNotFound, map[string]any{
					"error": map[string]any{"code": "NOT_FOUND", "message": "room not found"},
				})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"data": Message{ID: msgID, RoomID: roomID, AuthorID: "test-agent", Kind: "agent", Content: "hello"},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	room, err := client.CreateRoom(context.Background(), "war-room")
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	if room.ID != roomID {
		t.Errorf("expected room ID %s, got %s", roomID, room.ID)
	}

	msg, err := client.PostMessage(context.Background(), roomID, "hello")
	if err != nil {
		t.Fatalf("PostMessage failed: %v", err)
	}
	if msg.ID != msgID {
		t.Errorf("expected message ID %s, got %s", msgID, msg.ID)
	}
	if msg.AuthorID != "test-agent" {
		t.Errorf("expected author 'test-agent', got %q", msg.AuthorID)
	}
}

func TestListMessagesPassesLimit(t *testing.T) {
	roomID := uuid.New()

	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/rooms/{room_id}/messages": func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("limit"); got != "25" {
				t.Errorf("expected limit=25, got %q", got)
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"data": []Message{
					{ID: uuid.New(), RoomID: roomID, AuthorID: "socrates", Content: "first"},
					{ID: uuid.New(), RoomID: roomID, AuthorID: "hypatia", Content: "second"},
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	msgs, err := client.ListMessages(context.Background(), roomID, 25)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "first" {
		t.Errorf("expected first message 'first', got %q", msgs[0].Content)
	}
}

func TestDiscussionLifecycle(t *testing.T) {
	discussionID := uuid.New()
	roomID := uuid.New()
	originID := uuid.New()

	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/discussions": func(w http.ResponseWriter, r *http.Request) {
			var req CreateDiscussionRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.Intensity != IntensityNormal {
				t.Errorf("expected default intensity 'normal', got %q", req.Intensity)
			}
			if len(req.AgentIDs) != 2 {
				t.Errorf("expected 2 agent IDs, got %d", len(req.AgentIDs))
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"data": Discussion{
					ID:                  discussionID,
					RoomID:              req.RoomID,
					OriginMessageID:     req.OriginMessageID,
					ParticipantAgentIDs: req.AgentIDs,
					Intensity:           req.Intensity,
					State:               DiscussionCreated,
				},
			})
		},
		"POST /v1/discussions/{id}/execute": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": ExecutionResult{
					Discussion: Discussion{ID: discussionID, State: DiscussionCompleted, TurnCursor: 4},
					Turns: []Turn{
						{DiscussionID: discussionID, Sequence: 0, AgentID: "socrates", Status: TurnSucceeded},
						{DiscussionID: discussionID, Sequence: 1, AgentID: "hypatia", Status: TurnSucceeded},
					},
				},
			})
		},
		"GET /v1/discussions/{id}": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": DiscussionSnapshot{
					Discussion: Discussion{ID: discussionID, State: DiscussionCompleted},
					Turns:      []Turn{{Sequence: 0, Status: TurnSucceeded}},
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	ctx := context.Background()

	d, err := client.CreateDiscussion(ctx, CreateDiscussionRequest{
		RoomID:          roomID,
		OriginMessageID: originID,
		AgentIDs:        []string{"socrates", "hypatia"},
	})
	if err != nil {
		t.Fatalf("CreateDiscussion failed: %v", err)
	}
	if d.State != DiscussionCreated {
		t.Errorf("expected state 'created', got %q", d.State)
	}

	res, err := client.ExecuteDiscussion(ctx, discussionID)
	if err != nil {
		t.Fatalf("ExecuteDiscussion failed: %v", err)
	}
	if res.Discussion.State != DiscussionCompleted {
		t.Errorf("expected completed discussion, got %q", res.Discussion.State)
	}
	if len(res.Turns) != 2 {
		t.Errorf("expected 2 turns, got %d", len(res.Turns))
	}

	snap, err := client.GetDiscussion(ctx, discussionID)
	if err != nil {
		t.Fatalf("GetDiscussion failed: %v", err)
	}
	if snap.Discussion.ID != discussionID {
		t.Errorf("expected discussion ID %s, got %s", discussionID, snap.Discussion.ID)
	}
}

func TestInvalidStateError(t *testing.T) {
	discussionID := uuid.New()

	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/discussions/{id}/pause": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error": map[string]any{
					"code":    "INVALID_STATE",
					"message": "cannot pause discussion in state completed",
					"state":   "completed",
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.PauseDiscussion(context.Background(), discussionID)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !IsInvalidState(err) {
		t.Errorf("expected IsInvalidState to be true for %v", err)
	}
	apiErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if apiErr.State != "completed" {
		t.Errorf("expected state 'completed', got %q", apiErr.State)
	}
	if apiErr.StatusCode != http.StatusConflict {
		t.Errorf("expected status 409, got %d", apiErr.StatusCode)
	}
}

func TestNotFoundError(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/discussions/{id}": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"error": map[string]any{"code": "NOT_FOUND", "message": "discussion not found"},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.GetDiscussion(context.Background(), uuid.New())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !IsNotFound(err) {
		t.Errorf("expected IsNotFound to be true for %v", err)
	}
}

func TestTokenIsCachedAcrossRequests(t *testing.T) {
	var authCalls atomic.Int64

	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /auth/token": func(w http.ResponseWriter, r *http.Request) {
			authCalls.Add(1)
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"token":      "test-token-xyz",
					"expires_at": time.Now().Add(1 * time.Hour).Format(time.RFC3339),
				},
			})
		},
		"POST /v1/rooms": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": Room{ID: uuid.New(), Name: "r"},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	for i := 0; i < 3; i++ {
		if _, err := client.CreateRoom(context.Background(), "r"); err != nil {
			t.Fatalf("CreateRoom %d failed: %v", i, err)
		}
	}
	if got := authCalls.Load(); got != 1 {
		t.Errorf("expected 1 auth call, got %d", got)
	}
}

func TestExpiredTokenIsRefreshed(t *testing.T) {
	var authCalls atomic.Int64

	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /auth/token": func(w http.ResponseWriter, r *http.Request) {
			authCalls.Add(1)
			// Expires inside the refresh margin, so every request refreshes.
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"token":      "test-token-xyz",
					"expires_at": time.Now().Add(5 * time.Second).Format(time.RFC3339),
				},
			})
		},
		"POST /v1/rooms": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": Room{ID: uuid.New(), Name: "r"},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	for i := 0; i < 2; i++ {
		if _, err := client.CreateRoom(context.Background(), "r"); err != nil {
			t.Fatalf("CreateRoom %d failed: %v", i, err)
		}
	}
	if got := authCalls.Load(); got != 2 {
		t.Errorf("expected 2 auth calls, got %d", got)
	}
}

func TestAuthFailureSurfaces(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /auth/token": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error": map[string]any{"code": "UNAUTHORIZED", "message": "invalid credentials"},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.CreateRoom(context.Background(), "r")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestUnwrappedResponseFallback(t *testing.T) {
	discussionID := uuid.New()

	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/discussions/{id}": func(w http.ResponseWriter, r *http.Request) {
			// No { "data": ... } envelope.
			writeJSON(w, http.StatusOK, DiscussionSnapshot{
				Discussion: Discussion{ID: discussionID, State: DiscussionPaused},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	snap, err := client.GetDiscussion(context.Background(), discussionID)
	if err != nil {
		t.Fatalf("GetDiscussion failed: %v", err)
	}
	if snap.Discussion.ID != discussionID || snap.Discussion.State != DiscussionPaused {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}
