package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messenger-service/internal/events"
)

// wireEvent is how bus events travel between instances.
type wireEvent struct {
	Origin  string          `json:"origin"`
	Channel events.Channel  `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// Bridge fans bus events out to every other instance through Redis pub/sub
// and relays theirs into the local bus. Relayed events carry their origin and
// are never forwarded again.
type Bridge struct {
	client   *redis.Client
	bus      *events.Bus
	channel  string
	instance string
	log      *zap.Logger

	subs map[events.Channel]*events.Subscription
}

func NewBridge(r *redis.Client, bus *events.Bus, prefix, instanceID string, log *zap.Logger) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bridge{
		client:   r,
		bus:      bus,
		channel:  prefix + ":events",
		instance: instanceID,
		log:      log.Named("bridge"),
	}
}

// Start subscribes to every local channel so nothing published after it
// returns is missed by the forwarders.
func (b *Bridge) Start() error {
	subs := make(map[events.Channel]*events.Subscription, len(events.Channels))
	for _, ch := range events.Channels {
		sub, err := b.bus.Subscribe(ch)
		if err != nil {
			for _, s := range subs {
				s.Close()
			}
			return err
		}
		subs[ch] = sub
	}
	b.subs = subs
	return nil
}

// Run blocks until ctx is done. It calls Start when that has not happened yet.
func (b *Bridge) Run(ctx context.Context) {
	if b.subs == nil {
		if err := b.Start(); err != nil {
			return
		}
	}
	var wg sync.WaitGroup
	for ch, sub := range b.subs {
		wg.Add(1)
		go func(ch events.Channel, sub *events.Subscription) {
			defer wg.Done()
			b.forward(ctx, ch, sub)
		}(ch, sub)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.receive(ctx)
	}()
	wg.Wait()
}

func encodeEvent(instance string, ev events.Event) ([]byte, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEvent{Origin: instance, Channel: ev.Channel, Payload: payload})
}

func decodeEvent(data []byte) (events.Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return events.Event{}, err
	}
	if w.Origin == "" {
		return events.Event{}, errors.New("event without origin")
	}
	payload, err := events.DecodePayload(w.Channel, w.Payload)
	if err != nil {
		return events.Event{}, err
	}
	return events.Event{Channel: w.Channel, Payload: payload, Origin: w.Origin}, nil
}

// forward publishes locally originated events of one channel. One goroutine
// per channel keeps each channel's order.
func (b *Bridge) forward(ctx context.Context, ch events.Channel, sub *events.Subscription) {
	for {
		err := b.drain(ctx, sub)
		sub.Close()
		if ctx.Err() != nil || !errors.Is(err, events.ErrSlowConsumer) {
			return
		}
		b.log.Warn("bridge fell behind, resubscribing", zap.String("channel", string(ch)))
		if sub, err = b.bus.Subscribe(ch); err != nil {
			return
		}
	}
}

func (b *Bridge) drain(ctx context.Context, sub *events.Subscription) error {
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			return err
		}
		if ev.Origin != "" {
			continue
		}
		data, err := encodeEvent(b.instance, ev)
		if err != nil {
			b.log.Error("encode event", zap.String("channel", string(ev.Channel)), zap.Error(err))
			continue
		}
		if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
			b.log.Error("publish to redis", zap.String("channel", string(ev.Channel)), zap.Error(err))
		}
	}
}

// receive relays remote events, resubscribing with backoff when the Redis
// subscription drops.
func (b *Bridge) receive(ctx context.Context) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0
	op := func() error {
		ps := b.client.Subscribe(ctx, b.channel)
		defer ps.Close()
		if _, err := ps.Receive(ctx); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("subscribe %s: %w", b.channel, err)
		}
		policy.Reset()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			case msg, ok := <-msgs:
				if !ok {
					return errors.New("redis subscription closed")
				}
				if err := b.relay(ctx, []byte(msg.Payload)); errors.Is(err, events.ErrBusClosed) {
					return backoff.Permanent(err)
				}
			}
		}
	}
	notify := func(err error, next time.Duration) {
		b.log.Warn("redis bridge retrying", zap.Error(err), zap.Duration("in", next))
	}
	_ = backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify)
}

func (b *Bridge) relay(ctx context.Context, data []byte) error {
	ev, err := decodeEvent(data)
	if err != nil {
		b.log.Warn("dropping malformed remote event", zap.Error(err))
		return nil
	}
	if ev.Origin == b.instance {
		return nil
	}
	return b.bus.Relay(ctx, ev)
}
