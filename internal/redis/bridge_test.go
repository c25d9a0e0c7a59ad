package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/messenger-service/internal/domain"
	"github.com/fathima-sithara/messenger-service/internal/events"
)

func TestEncodeDecodeEvent(t *testing.T) {
	ev := events.Event{
		Channel: events.MessageSent,
		Payload: events.MessageSentEvent{
			Message: &domain.MessageView{
				ID:             "m1",
				ConversationID: "c1",
				Sender:         domain.UserSummary{ID: "u1", Username: "ada"},
				Body:           "hi",
				CreatedAt:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
			},
			ParticipantIDs: []string{"u1", "u2"},
		},
	}
	data, err := encodeEvent("node-a", ev)
	require.NoError(t, err)

	got, err := decodeEvent(data)
	require.NoError(t, err)
	require.Equal(t, "node-a", got.Origin)
	require.Equal(t, events.MessageSent, got.Channel)
	require.Equal(t, ev.Payload, got.Payload)
}

func TestDecodeEvent_Rejects(t *testing.T) {
	cases := map[string]string{
		"not json":        `{`,
		"missing origin":  `{"channel":"MESSAGE_SENT","payload":{}}`,
		"unknown channel": `{"origin":"a","channel":"NOPE","payload":{}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := decodeEvent([]byte(raw))
			require.Error(t, err)
		})
	}
}

func TestBridge_Relay(t *testing.T) {
	bus := events.NewBus(4)
	defer bus.Close()
	b := NewBridge(nil, bus, "messenger", "node-a", nil)

	sub, err := bus.Subscribe(events.ConversationDeleted)
	require.NoError(t, err)
	defer sub.Close()

	own, err := encodeEvent("node-a", events.Event{
		Channel: events.ConversationDeleted,
		Payload: events.ConversationDeletedEvent{ConversationID: "c0"},
	})
	require.NoError(t, err)
	remote, err := encodeEvent("node-b", events.Event{
		Channel: events.ConversationDeleted,
		Payload: events.ConversationDeletedEvent{ConversationID: "c1", ParticipantIDs: []string{"u1"}},
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.relay(ctx, own))
	require.NoError(t, b.relay(ctx, []byte("garbage")))
	require.NoError(t, b.relay(ctx, remote))

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	ev, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "node-b", ev.Origin)
	require.Equal(t, "c1", ev.Payload.(events.ConversationDeletedEvent).ConversationID)
	require.Empty(t, sub.C())

	bus.Close()
	require.ErrorIs(t, b.relay(context.Background(), remote), events.ErrBusClosed)
}

func TestBridge_StartRegistersListeners(t *testing.T) {
	bus := events.NewBus(4)
	b := NewBridge(nil, bus, "messenger", "node-a", nil)

	require.NoError(t, b.Start())
	for _, ch := range events.Channels {
		require.Equal(t, 1, bus.ListenerCount(ch), ch)
	}

	bus.Close()
	closed := NewBridge(nil, bus, "messenger", "node-a", nil)
	require.ErrorIs(t, closed.Start(), events.ErrBusClosed)
}
