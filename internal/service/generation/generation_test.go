package generation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giron-ai/giron/internal/testutil"
)

func newAdapter(p Provider, attempts int) *Adapter {
	return NewAdapter(p, attempts, time.Millisecond, 0, testutil.TestLogger())
}

func TestAdapter_SucceedsFirstAttempt(t *testing.T) {
	p := NewScriptProvider("hello")
	a := newAdapter(p, 2)

	text, err := a.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, 1, p.Calls())
}

func TestAdapter_RetriesTransient(t *testing.T) {
	p := NewScriptProvider("", "recovered").
		FailWith(&Error{Class: ClassRateLimited, Message: "slow down"})
	a := newAdapter(p, 3)

	text, err := a.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", text)
	assert.Equal(t, 2, p.Calls())
}

func TestAdapter_ExhaustsRetries(t *testing.T) {
	p := NewScriptProvider().FailWith(
		&Error{Class: ClassTimeout, Message: "t1"},
		&Error{Class: ClassTimeout, Message: "t2"},
	)
	a := newAdapter(p, 2)

	_, err := a.Generate(context.Background(), Request{})
	require.Error(t, err)
	var genErr *Error
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, ClassTimeout, genErr.Class)
	assert.Equal(t, 2, p.Calls())
}

func TestAdapter_PermanentFailsImmediately(t *testing.T) {
	p := NewScriptProvider().FailWith(
		&Error{Class: ClassQuotaExhausted, Message: "out of credits"},
	)
	a := newAdapter(p, 5)

	_, err := a.Generate(context.Background(), Request{})
	require.Error(t, err)
	var genErr *Error
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, ClassQuotaExhausted, genErr.Class)
	assert.Equal(t, 1, p.Calls(), "permanent failures must not be retried")
}

func TestAdapter_MalformedIsRetried(t *testing.T) {
	p := NewScriptProvider("", "fixed").
		FailWith(&Error{Class: ClassMalformed, Message: "broken json"})
	a := newAdapter(p, 2)

	text, err := a.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "fixed", text)
}

func TestAdapter_UntypedErrorTreatedUnavailable(t *testing.T) {
	p := NewScriptProvider("", "ok").FailWith(errors.New("connection reset"))
	a := newAdapter(p, 2)

	text, err := a.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
}

func TestAdapter_CanceledDuringBackoff(t *testing.T) {
	p := NewScriptProvider().FailWith(
		&Error{Class: ClassRateLimited, Message: "429"},
	)
	a := NewAdapter(p, 3, time.Minute, 0, testutil.TestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := a.Generate(ctx, Request{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestErrorTransient(t *testing.T) {
	transient := []Class{ClassRateLimited, ClassTimeout, ClassUnavailable, ClassMalformed}
	for _, c := range transient {
		assert.True(t, (&Error{Class: c}).Transient(), string(c))
	}
	permanent := []Class{ClassInvalidRequest, ClassQuotaExhausted}
	for _, c := range permanent {
		assert.False(t, (&Error{Class: c}).Transient(), string(c))
	}
}

func TestClassOf(t *testing.T) {
	assert.Equal(t, ClassRateLimited, ClassOf(&Error{Class: ClassRateLimited}))
	assert.Equal(t, ClassTimeout, ClassOf(context.DeadlineExceeded))
	assert.Equal(t, ClassUnavailable, ClassOf(errors.New("anything")))
}
