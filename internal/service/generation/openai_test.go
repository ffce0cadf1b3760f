package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenAIStub(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p := NewOpenAIProvider("test-key", "test-model")
	p.baseURL = server.URL
	return p
}

func completionBody(content string) []byte {
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
	return body
}

func TestOpenAIProvider_Complete(t *testing.T) {
	p := newOpenAIStub(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		require.NotEmpty(t, req.Messages)
		assert.Equal(t, "system", req.Messages[0].Role)

		_, _ = w.Write(completionBody(`{"message": "I respectfully disagree."}`))
	})

	text, err := p.Complete(context.Background(), Request{
		System:   "You are a debater.",
		Messages: []Message{{Role: "user", Content: "topic"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "I respectfully disagree.", text)
}

func TestOpenAIProvider_MalformedPayloads(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "just plain text"},
		{"unknown field", `{"message": "hi", "mood": "smug"}`},
		{"trailing data", `{"message": "hi"} extra`},
		{"empty message", `{"message": "   "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newOpenAIStub(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write(completionBody(tt.content))
			})
			_, err := p.Complete(context.Background(), Request{})
			var genErr *Error
			require.ErrorAs(t, err, &genErr)
			assert.Equal(t, ClassMalformed, genErr.Class)
			assert.True(t, genErr.Transient())
		})
	}
}

func TestOpenAIProvider_StatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		class  Class
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error": {"message": "slow down", "type": "rate_limit_exceeded"}}`, ClassRateLimited},
		{"quota exhausted", http.StatusTooManyRequests, `{"error": {"message": "no credits", "type": "insufficient_quota"}}`, ClassQuotaExhausted},
		{"gateway timeout", http.StatusGatewayTimeout, "", ClassTimeout},
		{"server error", http.StatusInternalServerError, "", ClassUnavailable},
		{"bad request", http.StatusBadRequest, `{"error": {"message": "bad persona", "type": "invalid_request_error"}}`, ClassInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newOpenAIStub(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := p.Complete(context.Background(), Request{})
			var genErr *Error
			require.ErrorAs(t, err, &genErr)
			assert.Equal(t, tt.class, genErr.Class)
		})
	}
}

func TestOpenAIProvider_NoChoices(t *testing.T) {
	p := newOpenAIStub(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	})
	_, err := p.Complete(context.Background(), Request{})
	var genErr *Error
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, ClassMalformed, genErr.Class)
}

func TestDecodeTurnPayload(t *testing.T) {
	text, err := decodeTurnPayload(`{"message": "a point well made"}`)
	require.NoError(t, err)
	assert.Equal(t, "a point well made", text)
}
