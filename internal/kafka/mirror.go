package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messenger-service/internal/events"
)

// MessageWriter is the part of *kafka.Writer the mirror uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// FailureRecorder counts dropped writes; metrics.Metrics implements it.
type FailureRecorder interface {
	SinkFailed(sink string)
}

// Record is the JSON value written for every mirrored event.
type Record struct {
	Channel  events.Channel  `json:"channel"`
	Origin   string          `json:"origin"`
	Payload  json.RawMessage `json:"payload"`
	Mirrored time.Time       `json:"mirroredAt"`
}

// Mirror copies locally published bus events to a Kafka topic, keyed by
// conversation id so each conversation stays ordered within its partition.
// Writes go through a circuit breaker; failures are logged and dropped and
// never reach the publisher.
type Mirror struct {
	writer   MessageWriter
	cb       *gobreaker.CircuitBreaker
	bus      *events.Bus
	instance string
	timeout  time.Duration
	rec      FailureRecorder
	log      *zap.Logger

	subs map[events.Channel]*events.Subscription
}

func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

func NewMirror(w MessageWriter, bus *events.Bus, instanceID string, rec FailureRecorder, log *zap.Logger) *Mirror {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("kafka")
	st := gobreaker.Settings{
		Name:        "kafka-mirror",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &Mirror{
		writer:   w,
		cb:       gobreaker.NewCircuitBreaker(st),
		bus:      bus,
		instance: instanceID,
		timeout:  5 * time.Second,
		rec:      rec,
		log:      log,
	}
}

// Start subscribes to every channel. Events published after it returns are
// mirrored once Run drains them.
func (m *Mirror) Start() error {
	subs, err := subscribeAll(m.bus)
	if err != nil {
		return err
	}
	m.subs = subs
	return nil
}

func subscribeAll(bus *events.Bus) (map[events.Channel]*events.Subscription, error) {
	subs := make(map[events.Channel]*events.Subscription, len(events.Channels))
	for _, ch := range events.Channels {
		sub, err := bus.Subscribe(ch)
		if err != nil {
			for _, s := range subs {
				s.Close()
			}
			return nil, err
		}
		subs[ch] = sub
	}
	return subs, nil
}

// Run mirrors every channel until ctx is done or the bus closes. It calls
// Start when that has not happened yet.
func (m *Mirror) Run(ctx context.Context) {
	if m.subs == nil {
		if err := m.Start(); err != nil {
			return
		}
	}
	var wg sync.WaitGroup
	for ch, sub := range m.subs {
		wg.Add(1)
		go func(ch events.Channel, sub *events.Subscription) {
			defer wg.Done()
			m.mirror(ctx, ch, sub)
		}(ch, sub)
	}
	wg.Wait()
}

func (m *Mirror) mirror(ctx context.Context, ch events.Channel, sub *events.Subscription) {
	for {
		err := m.drain(ctx, sub)
		sub.Close()
		if !errors.Is(err, events.ErrSlowConsumer) || ctx.Err() != nil {
			return
		}
		m.log.Warn("mirror fell behind, resubscribing", zap.String("channel", string(ch)))
		if sub, err = m.bus.Subscribe(ch); err != nil {
			return
		}
	}
}

func (m *Mirror) drain(ctx context.Context, sub *events.Subscription) error {
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			return err
		}
		if ev.Origin != "" {
			// the originating instance mirrors its own events
			continue
		}
		if err := m.write(ctx, ev); err != nil {
			if m.rec != nil {
				m.rec.SinkFailed("kafka")
			}
			m.log.Error("mirror event",
				zap.String("channel", string(ev.Channel)),
				zap.String("conversation_id", events.ConversationKey(ev.Payload)),
				zap.Error(err))
		}
	}
}

func (m *Mirror) write(ctx context.Context, ev events.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}
	value, err := json.Marshal(Record{
		Channel:  ev.Channel,
		Origin:   m.instance,
		Payload:  payload,
		Mirrored: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(events.ConversationKey(ev.Payload)),
		Value: value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "channel", Value: []byte(ev.Channel)},
		},
	}
	_, err = m.cb.Execute(func() (interface{}, error) {
		wctx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()
		return nil, m.writer.WriteMessages(wctx, msg)
	})
	return err
}

func (m *Mirror) Close() error {
	return m.writer.Close()
}
