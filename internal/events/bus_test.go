package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/messenger-service/internal/domain"
)

type countingRecorder struct {
	mu        sync.Mutex
	published map[string]int
	dropped   map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{published: map[string]int{}, dropped: map[string]int{}}
}

func (r *countingRecorder) EventPublished(ch string, _ int) {
	r.mu.Lock()
	r.published[ch]++
	r.mu.Unlock()
}

func (r *countingRecorder) EventDropped(ch string) {
	r.mu.Lock()
	r.dropped[ch]++
	r.mu.Unlock()
}

func next(t *testing.T, s *Subscription) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := s.Next(ctx)
	require.NoError(t, err)
	return ev
}

func TestBus_DeliversInPublishOrder(t *testing.T) {
	b := NewBus(128)
	s, err := b.Subscribe(MessageSent)
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 100; i++ {
		require.NoError(t, b.Publish(context.Background(), MessageSent, i))
	}
	for i := 0; i < 100; i++ {
		require.Equal(t, i, next(t, s).Payload)
	}
}

func TestBus_FansOutToEveryListener(t *testing.T) {
	b := NewBus(8)
	s1, err := b.Subscribe(ConversationCreated)
	require.NoError(t, err)
	s2, err := b.Subscribe(ConversationCreated)
	require.NoError(t, err)
	other, err := b.Subscribe(ConversationDeleted)
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), ConversationCreated, "c1"))
	require.Equal(t, "c1", next(t, s1).Payload)
	require.Equal(t, "c1", next(t, s2).Payload)

	select {
	case ev := <-other.C():
		t.Fatalf("unexpected event on other channel: %+v", ev)
	default:
	}
}

func TestBus_NoReplay(t *testing.T) {
	b := NewBus(8)
	require.NoError(t, b.Publish(context.Background(), ConversationUpdated, "before"))

	s, err := b.Subscribe(ConversationUpdated)
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), ConversationUpdated, "after"))
	require.Equal(t, "after", next(t, s).Payload)
}

func TestBus_SlowListenerDoesNotBlockPublish(t *testing.T) {
	rec := newCountingRecorder()
	b := NewBus(2, WithRecorder(rec))
	slow, err := b.Subscribe(MessageSent)
	require.NoError(t, err)
	fast, err := b.Subscribe(MessageSent)
	require.NoError(t, err)

	done := make(chan struct{})
	got := make(chan int, 10)
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			ev, err := fast.Next(context.Background())
			if err != nil {
				return
			}
			got <- ev.Payload.(int)
		}
	}()

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(context.Background(), MessageSent, i))
		// keep the fast listener ahead of its buffer
		require.Equal(t, i, <-got)
	}
	<-done

	// slow listener got its buffered events, then the overflow fault
	require.Equal(t, 0, next(t, slow).Payload)
	require.Equal(t, 1, next(t, slow).Payload)
	_, err = slow.Next(context.Background())
	require.ErrorIs(t, err, ErrSlowConsumer)
	require.Equal(t, 1, b.ListenerCount(MessageSent))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Equal(t, 1, rec.dropped[string(MessageSent)])
	require.Equal(t, 5, rec.published[string(MessageSent)])
}

func TestBus_CloseUnsubscribes(t *testing.T) {
	b := NewBus(4)
	s, err := b.Subscribe(ConversationDeleted)
	require.NoError(t, err)
	require.Equal(t, 1, b.ListenerCount(ConversationDeleted))

	s.Close()
	s.Close()
	require.Equal(t, 0, b.ListenerCount(ConversationDeleted))

	_, err = s.Next(context.Background())
	require.ErrorIs(t, err, ErrSubscriptionClosed)
	require.NoError(t, b.Publish(context.Background(), ConversationDeleted, "x"))
}

func TestBus_Shutdown(t *testing.T) {
	b := NewBus(4)
	s, err := b.Subscribe(MessageSent)
	require.NoError(t, err)

	b.Close()
	b.Close()

	_, err = s.Next(context.Background())
	require.ErrorIs(t, err, ErrBusClosed)
	require.ErrorIs(t, b.Publish(context.Background(), MessageSent, 1), ErrBusClosed)
	_, err = b.Subscribe(MessageSent)
	require.ErrorIs(t, err, ErrBusClosed)
}

func TestBus_NextHonoursContext(t *testing.T) {
	b := NewBus(4)
	s, err := b.Subscribe(MessageSent)
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NoError(t, s.Err())
}

func TestBus_ConcurrentPublishersKeepPerChannelOrder(t *testing.T) {
	b := NewBus(4096)
	subs := map[Channel]*Subscription{}
	for _, ch := range Channels {
		s, err := b.Subscribe(ch)
		require.NoError(t, err)
		subs[ch] = s
	}

	var wg sync.WaitGroup
	for _, ch := range Channels {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				assert.NoError(t, b.Publish(context.Background(), ch, i))
			}
		}(ch)
	}
	wg.Wait()

	for _, ch := range Channels {
		for i := 0; i < 500; i++ {
			require.Equal(t, i, next(t, subs[ch]).Payload, string(ch))
		}
	}
}

func TestBus_UnknownChannelCreatedOnSubscribe(t *testing.T) {
	b := NewBus(4)
	require.NoError(t, b.Publish(context.Background(), Channel("CUSTOM"), 1))
	s, err := b.Subscribe(Channel("CUSTOM"))
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), Channel("CUSTOM"), 2))
	require.Equal(t, 2, next(t, s).Payload)
}

func TestDecodePayload(t *testing.T) {
	raw, err := json.Marshal(MessageSentEvent{
		Message:        &domain.MessageView{ID: "m1", ConversationID: "c1", Body: "hi"},
		ParticipantIDs: []string{"u1", "u2"},
	})
	require.NoError(t, err)

	p, err := DecodePayload(MessageSent, raw)
	require.NoError(t, err)
	ev, ok := p.(MessageSentEvent)
	require.True(t, ok)
	require.Equal(t, "hi", ev.Message.Body)
	require.Equal(t, "c1", ConversationKey(ev))

	_, err = DecodePayload(Channel("NOPE"), raw)
	require.Error(t, err)
}
