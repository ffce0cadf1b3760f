package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/giron-ai/giron/internal/storage"
	"github.com/giron-ai/giron/internal/testutil"
)

func TestFormatSSE(t *testing.T) {
	event := formatSSE(storage.ChannelTurns, `{"discussion_id":"abc"}`)
	assert.Equal(t, "event: giron_turns\ndata: {\"discussion_id\":\"abc\"}\n\n", string(event))
}

func TestBrokerSubscribeBroadcast(t *testing.T) {
	b := NewBroker(nil, testutil.TestLogger())

	ch1 := b.Subscribe()
	ch2 := b.Subscribe()
	defer b.Unsubscribe(ch1)
	defer b.Unsubscribe(ch2)

	b.broadcast([]byte("event: test\ndata: hello\n\n"))

	for _, ch := range []chan []byte{ch1, ch2} {
		select {
		case got := <-ch:
			assert.Equal(t, "event: test\ndata: hello\n\n", string(got))
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive broadcast")
		}
	}
}

func TestBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker(nil, testutil.TestLogger())

	ch := b.Subscribe()
	b.Unsubscribe(ch)

	// Must not panic on a closed subscriber.
	b.broadcast([]byte("data: after\n\n"))

	_, open := <-ch
	assert.False(t, open)
}

func TestBrokerDropsWhenSubscriberFull(t *testing.T) {
	b := NewBroker(nil, testutil.TestLogger())

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill the buffer without draining; the overflow broadcast must not block.
	for i := 0; i < cap(ch)+10; i++ {
		b.broadcast([]byte("data: x\n\n"))
	}

	assert.Len(t, ch, cap(ch))
}
