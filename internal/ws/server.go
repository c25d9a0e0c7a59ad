package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messenger-service/internal/auth"
	"github.com/fathima-sithara/messenger-service/internal/metrics"
	"github.com/fathima-sithara/messenger-service/internal/middleware"
	"github.com/fathima-sithara/messenger-service/internal/service"
)

// Presence records which users hold an open streaming connection.
type Presence interface {
	Join(ctx context.Context, userID, connID string) error
	Leave(ctx context.Context, userID, connID string) error
}

type Config struct {
	CookieName        string
	InitTimeout       time.Duration
	PingInterval      time.Duration
	WriteDeadline     time.Duration
	MaxMessageSize    int64
	MessagesPerSecond float64
	Burst             int
}

func (c *Config) defaults() {
	if c.InitTimeout <= 0 {
		c.InitTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.WriteDeadline <= 0 {
		c.WriteDeadline = 10 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 * 1024
	}
	if c.MessagesPerSecond <= 0 {
		c.MessagesPerSecond = 20
	}
	if c.Burst <= 0 {
		c.Burst = 40
	}
}

// Server adapts registry subscriptions to websocket connections.
type Server struct {
	reg      *service.Registry
	resolver *auth.SessionResolver
	presence Presence
	met      *metrics.Metrics
	cfg      Config
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	conns  sync.WaitGroup
}

type Option func(*Server)

func WithPresence(p Presence) Option {
	return func(s *Server) { s.presence = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.met = m }
}

func NewServer(reg *service.Registry, resolver *auth.SessionResolver, cfg Config, log *zap.Logger, opts ...Option) *Server {
	cfg.defaults()
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		reg:      reg,
		resolver: resolver,
		cfg:      cfg,
		log:      log.Named("ws"),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler upgrades GET requests; anything else is answered with 426.
func (s *Server) Handler() fiber.Handler {
	upgrade := websocket.New(s.serve, websocket.Config{
		Subprotocols: []string{Subprotocol},
	})
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": middleware.ErrorBody{
				Kind:    "UPGRADE_REQUIRED",
				Message: "websocket upgrade required",
			}})
		}
		return upgrade(c)
	}
}

// Close tells every connection to go away and waits for their teardown or
// for ctx to end.
func (s *Server) Close(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) serve(conn *websocket.Conn) {
	s.conns.Add(1)
	defer s.conns.Done()

	c := newConnection(s, conn)
	defer c.teardown()
	go c.writePump()
	c.readLoop()
}
