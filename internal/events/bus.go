package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

type Channel string

const (
	ConversationCreated Channel = "CONVERSATION_CREATED"
	ConversationUpdated Channel = "CONVERSATION_UPDATED"
	ConversationDeleted Channel = "CONVERSATION_DELETED"
	MessageSent         Channel = "MESSAGE_SENT"
)

// Channels lists every channel the resolvers publish on.
var Channels = []Channel{ConversationCreated, ConversationUpdated, ConversationDeleted, MessageSent}

var (
	ErrBusClosed          = errors.New("event bus closed")
	ErrSlowConsumer       = errors.New("subscriber fell behind and was dropped")
	ErrSubscriptionClosed = errors.New("subscription closed")
)

type Event struct {
	Channel Channel
	Payload any
	// Origin is empty for events published in this process and carries the
	// source instance id for events relayed from elsewhere.
	Origin string
}

// Recorder receives bus counters; metrics.Metrics implements it.
type Recorder interface {
	EventPublished(channel string, delivered int)
	EventDropped(channel string)
}

type nopRecorder struct{}

func (nopRecorder) EventPublished(string, int) {}
func (nopRecorder) EventDropped(string)        {}

type topic struct {
	mu   sync.Mutex
	subs map[uint64]*Subscription
}

// Bus is an in-process publish/subscribe hub. Publishes on one channel are
// delivered to each listener in publish order; channels do not share a lock.
type Bus struct {
	mu     sync.RWMutex
	topics map[Channel]*topic
	closed bool

	buffer int
	nextID atomic.Uint64
	rec    Recorder
	log    *zap.Logger
}

type Option func(*Bus)

func WithRecorder(r Recorder) Option {
	return func(b *Bus) {
		if r != nil {
			b.rec = r
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.log = l.Named("bus")
		}
	}
}

// NewBus creates a bus whose listeners buffer up to buffer events each.
func NewBus(buffer int, opts ...Option) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	b := &Bus{
		topics: make(map[Channel]*topic, len(Channels)),
		buffer: buffer,
		rec:    nopRecorder{},
		log:    zap.NewNop(),
	}
	for _, ch := range Channels {
		b.topics[ch] = &topic{subs: make(map[uint64]*Subscription)}
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Bus) topic(ch Channel, create bool) (*topic, error) {
	b.mu.RLock()
	t, ok := b.topics[ch]
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return nil, ErrBusClosed
	}
	if ok || !create {
		return t, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	if t, ok = b.topics[ch]; !ok {
		t = &topic{subs: make(map[uint64]*Subscription)}
		b.topics[ch] = t
	}
	return t, nil
}

// Publish delivers payload to every listener currently subscribed to ch. It
// never waits on a listener: one whose buffer is full is dropped with
// ErrSlowConsumer.
func (b *Bus) Publish(ctx context.Context, ch Channel, payload any) error {
	return b.publish(ctx, Event{Channel: ch, Payload: payload})
}

// Relay publishes an event that originated on another instance.
func (b *Bus) Relay(ctx context.Context, ev Event) error {
	return b.publish(ctx, ev)
}

func (b *Bus) publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t, err := b.topic(ev.Channel, false)
	if err != nil {
		return err
	}
	if t == nil {
		b.rec.EventPublished(string(ev.Channel), 0)
		return nil
	}

	t.mu.Lock()
	delivered := 0
	for id, s := range t.subs {
		select {
		case s.ch <- ev:
			delivered++
		default:
			delete(t.subs, id)
			s.terminate(ErrSlowConsumer)
			b.rec.EventDropped(string(ev.Channel))
			b.log.Warn("dropping slow subscriber", zap.String("channel", string(ev.Channel)), zap.Uint64("subscription", id))
		}
	}
	t.mu.Unlock()

	b.rec.EventPublished(string(ev.Channel), delivered)
	return nil
}

// Subscribe registers a listener on ch. Only events published after this
// call are delivered.
func (b *Bus) Subscribe(ch Channel) (*Subscription, error) {
	t, err := b.topic(ch, true)
	if err != nil {
		return nil, err
	}
	s := &Subscription{
		id:      b.nextID.Add(1),
		channel: ch,
		ch:      make(chan Event, b.buffer),
		done:    make(chan struct{}),
		topic:   t,
	}
	t.mu.Lock()
	// Close may have run between topic lookup and here
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		t.mu.Unlock()
		return nil, ErrBusClosed
	}
	t.subs[s.id] = s
	t.mu.Unlock()
	return s, nil
}

func (b *Bus) ListenerCount(ch Channel) int {
	b.mu.RLock()
	t, ok := b.topics[ch]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Close ends every live subscription; later publishes and subscribes fail
// with ErrBusClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	topics := make([]*topic, 0, len(b.topics))
	for _, t := range b.topics {
		topics = append(topics, t)
	}
	b.mu.Unlock()

	for _, t := range topics {
		t.mu.Lock()
		for id, s := range t.subs {
			delete(t.subs, id)
			s.terminate(ErrBusClosed)
		}
		t.mu.Unlock()
	}
}

// Subscription is one listener's stream of events on a channel.
type Subscription struct {
	id      uint64
	channel Channel
	ch      chan Event
	done    chan struct{}
	topic   *topic

	once sync.Once
	err  error
}

func (s *Subscription) Channel() Channel { return s.channel }

// C exposes the raw event channel. It is closed when the subscription ends;
// Err then reports why.
func (s *Subscription) C() <-chan Event { return s.ch }

// Next blocks for the next event. Buffered events are drained before the
// termination error is reported.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	select {
	case ev, ok := <-s.ch:
		if !ok {
			return Event{}, s.Err()
		}
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Err is nil while the subscription is live.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close unsubscribes. Safe to call more than once and from any goroutine.
func (s *Subscription) Close() {
	s.topic.mu.Lock()
	delete(s.topic.subs, s.id)
	s.terminate(ErrSubscriptionClosed)
	s.topic.mu.Unlock()
}

// terminate must be called with the topic lock held, which is also what
// guards sends on s.ch.
func (s *Subscription) terminate(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
		close(s.ch)
	})
}
