// Package generation wraps the external AI completion service behind a
// uniform call contract: prompt in, text out, typed failure.
//
// A Provider performs one completion call. The Adapter adds the policy
// layer the orchestrator relies on: per-attempt timeouts, bounded retry
// with jittered exponential backoff on transient failure classes, and
// immediate escalation of permanent ones. A failed generation is never
// silently skipped — the orchestrator records the failed turn and halts,
// because skipping would desynchronize speaker rotation from the
// history users see.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/giron-ai/giron/internal/telemetry"
)

// Class partitions generation failures by how the adapter treats them.
type Class string

const (
	// Transient classes — retried with backoff.
	ClassRateLimited Class = "rate_limited"
	ClassTimeout     Class = "timeout"
	ClassUnavailable Class = "unavailable"
	// ClassMalformed covers responses that fail strict schema decode.
	// Treated as transient: models occasionally emit broken JSON and a
	// retry usually repairs it.
	ClassMalformed Class = "malformed_response"

	// Permanent classes — escalated without retry.
	ClassInvalidRequest Class = "invalid_request"
	ClassQuotaExhausted Class = "quota_exhausted"
)

// Error is a typed generation failure.
type Error struct {
	Class   Class
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generation: %s: %s: %v", e.Class, e.Message, e.Err)
	}
	return fmt.Sprintf("generation: %s: %s", e.Class, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether the failure class is worth retrying.
func (e *Error) Transient() bool {
	switch e.Class {
	case ClassRateLimited, ClassTimeout, ClassUnavailable, ClassMalformed:
		return true
	}
	return false
}

// ClassOf extracts the failure class from an error chain, defaulting to
// ClassUnavailable for untyped errors (network-level failures).
func ClassOf(err error) Class {
	var genErr *Error
	if errors.As(err, &genErr) {
		return genErr.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	return ClassUnavailable
}

// Message is one chat message in a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion call.
type Request struct {
	// System is the persona framing for the speaking agent.
	System string
	// Messages is the assembled conversation context, oldest first.
	Messages []Message
	// UserID attributes the call to the requesting end user.
	UserID string
}

// Provider performs one completion call against an external service.
// Implementations classify their failures as *Error; anything untyped
// is treated as ClassUnavailable.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Adapter applies the retry policy around a Provider.
type Adapter struct {
	provider    Provider
	maxAttempts int
	baseDelay   time.Duration
	callTimeout time.Duration
	logger      *slog.Logger

	callDuration metric.Float64Histogram
	retryCount   metric.Int64Counter
}

// NewAdapter wraps provider with retry policy. maxAttempts counts the
// first call (so 2 means one retry); values below 1 are clamped to 1.
func NewAdapter(provider Provider, maxAttempts int, baseDelay, callTimeout time.Duration, logger *slog.Logger) *Adapter {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	meter := telemetry.Meter("giron/generation")
	callDur, _ := meter.Float64Histogram("giron.generation.duration",
		metric.WithDescription("Time per completion call including retries (ms)"),
		metric.WithUnit("ms"),
	)
	retries, _ := meter.Int64Counter("giron.generation.retries",
		metric.WithDescription("Completion attempts beyond the first"),
	)
	return &Adapter{
		provider:     provider,
		maxAttempts:  maxAttempts,
		baseDelay:    baseDelay,
		callTimeout:  callTimeout,
		logger:       logger,
		callDuration: callDur,
		retryCount:   retries,
	}
}

// Generate performs a completion with the adapter's retry policy.
// Transient failures (timeout, rate limit, 5xx, malformed response) are
// retried with jittered exponential backoff; permanent ones return
// immediately. The last error is returned once attempts are exhausted.
func (a *Adapter) Generate(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	defer func() {
		a.callDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	}()

	delay := a.baseDelay
	var lastErr error
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		if attempt > 1 {
			a.retryCount.Add(ctx, 1)
		}

		text, err := a.complete(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err

		genErr := asError(err)
		if !genErr.Transient() {
			return "", genErr
		}
		if attempt == a.maxAttempts {
			break
		}

		a.logger.Warn("generation attempt failed, retrying",
			"attempt", attempt, "class", genErr.Class, "error", err)

		jitter := time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return "", &Error{Class: ClassTimeout, Message: "canceled while backing off", Err: ctx.Err()}
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
	return "", asError(lastErr)
}

// complete runs one attempt under the per-call timeout.
func (a *Adapter) complete(ctx context.Context, req Request) (string, error) {
	if a.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.callTimeout)
		defer cancel()
	}
	text, err := a.provider.Complete(ctx, req)
	if err != nil && ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", &Error{Class: ClassTimeout, Message: "completion call timed out", Err: err}
	}
	return text, err
}

// asError coerces any error into a typed *Error.
func asError(err error) *Error {
	var genErr *Error
	if errors.As(err, &genErr) {
		return genErr
	}
	return &Error{Class: ClassOf(err), Message: "completion failed", Err: err}
}
