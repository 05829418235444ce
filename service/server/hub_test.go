package server

import (
	"io"
	"log/slog"
	"testing"

	"github.com/brojonat/nodedash/service/link"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub() *Hub {
	return NewHub(nil, slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func TestHub_BroadcastReachesEverySubscriber(t *testing.T) {
	hub := newTestHub()
	a := hub.Subscribe("ws")
	b := hub.Subscribe("sse")
	require.Equal(t, 2, hub.Len())

	hub.Broadcast(link.Message{Type: link.TypeCommand})

	assert.Equal(t, link.TypeCommand, (<-a.C()).Type)
	assert.Equal(t, link.TypeCommand, (<-b.C()).Type)
}

func TestHub_SlowSubscriberDropsEvents(t *testing.T) {
	hub := newTestHub()
	slow := hub.Subscribe("ws")

	for i := 0; i < subscriberBuffer+10; i++ {
		hub.Broadcast(link.Message{Type: link.TypeTransaction})
	}

	assert.Len(t, slow.C(), subscriberBuffer)
}

func TestHub_CloseSubscription(t *testing.T) {
	hub := newTestHub()
	sub := hub.Subscribe("ws")

	sub.Close()
	sub.Close()

	assert.Equal(t, 0, hub.Len())
	_, ok := <-sub.C()
	assert.False(t, ok)

	// No panic broadcasting after a subscriber left.
	hub.Broadcast(link.Message{Type: link.TypeTransaction})
}

func TestHub_Close(t *testing.T) {
	hub := newTestHub()
	sub := hub.Subscribe("ws")

	hub.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Len())
	sub.Close()

	late := hub.Subscribe("sse")
	_, ok = <-late.C()
	assert.False(t, ok, "subscriptions after Close start closed")
	assert.Equal(t, 0, hub.Len())
	late.Close()
}
