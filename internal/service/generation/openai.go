package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OpenAIProvider calls the OpenAI chat completions API.
//
// The model is instructed to answer as a JSON object with a single
// "message" field; the response is decoded with a strict schema so a
// drifting output shape surfaces as ClassMalformed instead of leaking
// half-parsed text into the discussion.
type OpenAIProvider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewOpenAIProvider creates a chat-completions provider.
func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	return &OpenAIProvider{
		apiKey:  apiKey,
		model:   model,
		baseURL: "https://api.openai.com/v1",
		// Per-call deadlines come from the Adapter's context; no
		// client-level timeout so the two cannot disagree.
		httpClient: &http.Client{},
	}
}

const responseInstruction = `Respond with a JSON object of the form {"message": "<your contribution>"} and nothing else.`

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	User           string          `json:"user,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// turnPayload is the strict schema the model must produce.
type turnPayload struct {
	Message string `json:"message"`
}

// Complete performs one chat completion call.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	msgs := make([]Message, 0, len(req.Messages)+1)
	msgs = append(msgs, Message{Role: "system", Content: req.System + "\n\n" + responseInstruction})
	msgs = append(msgs, req.Messages...)

	body, err := json.Marshal(chatCompletionRequest{
		Model:          p.model,
		Messages:       msgs,
		ResponseFormat: &responseFormat{Type: "json_object"},
		User:           req.UserID,
	})
	if err != nil {
		return "", &Error{Class: ClassInvalidRequest, Message: "marshal request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", &Error{Class: ClassInvalidRequest, Message: "create request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", &Error{Class: ClassUnavailable, Message: "send request", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &Error{Class: ClassUnavailable, Message: "read response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return "", p.classifyStatus(resp.StatusCode, respBody)
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return "", &Error{Class: ClassMalformed, Message: "unmarshal completion envelope", Err: err}
	}
	if completion.Error != nil {
		return "", &Error{Class: ClassUnavailable, Message: fmt.Sprintf("api error: %s: %s", completion.Error.Type, completion.Error.Message)}
	}
	if len(completion.Choices) == 0 {
		return "", &Error{Class: ClassMalformed, Message: "no choices in completion"}
	}

	return decodeTurnPayload(completion.Choices[0].Message.Content)
}

// classifyStatus maps HTTP status codes to failure classes.
func (p *OpenAIProvider) classifyStatus(status int, body []byte) *Error {
	detail := string(body)
	var envelope chatCompletionResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		detail = envelope.Error.Message
		// Hard quota exhaustion is permanent; 429 without that code is
		// ordinary rate limiting.
		if status == http.StatusTooManyRequests && envelope.Error.Type == "insufficient_quota" {
			return &Error{Class: ClassQuotaExhausted, Message: detail}
		}
	}

	switch {
	case status == http.StatusTooManyRequests:
		return &Error{Class: ClassRateLimited, Message: detail}
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return &Error{Class: ClassTimeout, Message: detail}
	case status >= 500:
		return &Error{Class: ClassUnavailable, Message: fmt.Sprintf("status %d: %s", status, detail)}
	default:
		return &Error{Class: ClassInvalidRequest, Message: fmt.Sprintf("status %d: %s", status, detail)}
	}
}

// decodeTurnPayload decodes the model's content against the strict turn
// schema. Unknown fields, trailing garbage, and empty messages are all
// ClassMalformed — they feed the same retry path as other transient
// failures rather than being heuristically repaired.
func decodeTurnPayload(content string) (string, error) {
	dec := json.NewDecoder(strings.NewReader(content))
	dec.DisallowUnknownFields()

	var payload turnPayload
	if err := dec.Decode(&payload); err != nil {
		return "", &Error{Class: ClassMalformed, Message: "decode turn payload", Err: err}
	}
	if dec.More() {
		return "", &Error{Class: ClassMalformed, Message: "trailing data after turn payload"}
	}
	if strings.TrimSpace(payload.Message) == "" {
		return "", &Error{Class: ClassMalformed, Message: "empty message in turn payload"}
	}
	return payload.Message, nil
}
