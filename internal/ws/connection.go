package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fathima-sithara/messenger-service/internal/apperr"
	"github.com/fathima-sithara/messenger-service/internal/auth"
	"github.com/fathima-sithara/messenger-service/internal/service"
)

type state int32

const (
	stateConnecting state = iota
	stateActive
	stateClosed
)

type subscription struct {
	name   string
	stream *service.Stream
	cancel context.CancelFunc
}

// connection is one client. The read loop owns the state machine; the write
// pump is the only data writer; every subscription pulls on its own goroutine.
type connection struct {
	id      string
	srv     *Server
	ws      *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	state    atomic.Int32
	identity atomic.Pointer[auth.Identity]
	cookie   string

	mu   sync.Mutex
	subs map[string]*subscription
	wg   sync.WaitGroup

	writerDone chan struct{}
	closeOnce  sync.Once
}

func newConnection(s *Server, conn *websocket.Conn) *connection {
	ctx, cancel := context.WithCancel(s.ctx)
	c := &connection{
		id:         uuid.NewString(),
		srv:        s,
		ws:         conn,
		send:       make(chan []byte, 256),
		limiter:    rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.Burst),
		ctx:        ctx,
		cancel:     cancel,
		cookie:     conn.Cookies(s.cfg.CookieName),
		subs:       make(map[string]*subscription),
		writerDone: make(chan struct{}),
	}
	if s.met != nil {
		s.met.Connections.Inc()
	}
	return c
}

func (c *connection) pongWait() time.Duration {
	return c.srv.cfg.PingInterval * 2
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (c *connection) readLoop() {
	c.ws.SetReadLimit(c.srv.cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.srv.cfg.InitTimeout))
	c.ws.SetPongHandler(func(string) error {
		if state(c.state.Load()) == stateActive {
			_ = c.ws.SetReadDeadline(time.Now().Add(c.pongWait()))
		}
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if state(c.state.Load()) == stateConnecting && isTimeout(err) && c.ctx.Err() == nil {
				c.closeWith(CloseInitTimeout, "Connection initialisation timeout")
			}
			return
		}
		if state(c.state.Load()) == stateActive {
			_ = c.ws.SetReadDeadline(time.Now().Add(c.pongWait()))
		}
		if !c.limiter.Allow() {
			c.closeWith(ClosePolicyViolation, "rate limit exceeded")
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil || f.Type == "" {
			c.closeWith(CloseBadRequest, "Invalid message received")
			return
		}
		if !c.handle(f) {
			return
		}
	}
}

// handle processes one frame and reports whether the connection stays open.
func (c *connection) handle(f Frame) bool {
	switch f.Type {
	case TypeConnectionInit:
		if state(c.state.Load()) != stateConnecting {
			c.closeWith(CloseTooManyInitRequest, "Too many initialisation requests")
			return false
		}
		return c.init(f.Payload)

	case TypePing:
		c.enqueue(Frame{Type: TypePong})
		return true

	case TypePong:
		return true

	case TypeSubscribe:
		if state(c.state.Load()) != stateActive {
			c.closeWith(CloseUnauthorized, "Unauthorized")
			return false
		}
		if f.ID == "" {
			c.closeWith(CloseBadRequest, "subscribe requires an id")
			return false
		}
		var p SubscribePayload
		if err := json.Unmarshal(f.Payload, &p); err != nil || p.OperationName == "" {
			c.closeWith(CloseBadRequest, "Invalid message received")
			return false
		}
		return c.subscribe(f.ID, p)

	case TypeComplete:
		c.unsubscribe(f.ID)
		return true
	}
	c.closeWith(CloseBadRequest, "Invalid message received")
	return false
}

// init resolves the identity once. It is kept for the connection's lifetime.
func (c *connection) init(payload json.RawMessage) bool {
	ctx, cancel := context.WithTimeout(c.ctx, c.srv.cfg.InitTimeout)
	defer cancel()
	id, err := c.srv.resolver.ResolveConnectionInit(ctx, payload, c.cookie)
	if err != nil {
		c.srv.log.Error("resolve connection identity", zap.String("conn_id", c.id), zap.Error(err))
		c.closeWith(CloseInternal, "Internal error")
		return false
	}
	if id != nil {
		c.identity.Store(id)
		if c.srv.presence != nil {
			if err := c.srv.presence.Join(ctx, id.UserID, c.id); err != nil {
				c.srv.log.Warn("presence join", zap.String("user_id", id.UserID), zap.Error(err))
			}
		}
	}
	c.state.Store(int32(stateActive))
	_ = c.ws.SetReadDeadline(time.Now().Add(c.pongWait()))
	c.enqueue(Frame{Type: TypeConnectionAck})

	log := c.srv.log.With(zap.String("conn_id", c.id))
	if id != nil {
		log.Debug("connection acknowledged", zap.String("user_id", id.UserID))
	} else {
		log.Debug("connection acknowledged anonymously")
	}
	return true
}

func (c *connection) subscribe(id string, p SubscribePayload) bool {
	c.mu.Lock()
	_, exists := c.subs[id]
	c.mu.Unlock()
	if exists {
		c.closeWith(CloseSubscriberExists, "Subscriber for "+id+" already exists")
		return false
	}

	start := time.Now()
	stream, err := c.open(p)
	c.observe(p.OperationName, err, time.Since(start))
	if err != nil {
		c.sendError(id, err)
		return true
	}

	ctx, cancel := context.WithCancel(c.ctx)
	sub := &subscription{name: p.OperationName, stream: stream, cancel: cancel}
	c.mu.Lock()
	c.subs[id] = sub
	c.mu.Unlock()

	if c.srv.met != nil {
		c.srv.met.Subscriptions.WithLabelValues(p.OperationName).Inc()
	}
	c.wg.Add(1)
	go c.pump(ctx, id, sub)
	return true
}

func (c *connection) open(p SubscribePayload) (*service.Stream, error) {
	handler, ok := c.srv.reg.Subscriptions[p.OperationName]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "unknown subscription %q", p.OperationName)
	}
	return handler(c.ctx, c.identity.Load(), p.Variables)
}

// pump forwards one stream to the client until it ends, the client completes
// it or the connection goes away.
func (c *connection) pump(ctx context.Context, id string, sub *subscription) {
	defer c.wg.Done()
	defer func() {
		sub.stream.Close()
		c.mu.Lock()
		if c.subs[id] == sub {
			delete(c.subs, id)
		}
		c.mu.Unlock()
		if c.srv.met != nil {
			c.srv.met.Subscriptions.WithLabelValues(sub.name).Dec()
		}
	}()

	for {
		v, err := sub.stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if service.StreamEnded(err) {
				c.enqueue(Frame{Type: TypeComplete, ID: id})
				return
			}
			c.srv.log.Warn("subscription terminated",
				zap.String("conn_id", c.id), zap.String("id", id),
				zap.String("operation", sub.name), zap.Error(err))
			c.sendError(id, apperr.Wrap(apperr.Internal, err, "subscription terminated: "+err.Error()))
			return
		}
		payload, err := json.Marshal(nextPayload{Data: map[string]any{sub.name: v}})
		if err != nil {
			c.srv.log.Error("encode event", zap.String("operation", sub.name), zap.Error(err))
			continue
		}
		if !c.enqueue(Frame{Type: TypeNext, ID: id, Payload: payload}) {
			return
		}
	}
}

func (c *connection) unsubscribe(id string) {
	c.mu.Lock()
	sub, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if ok {
		sub.cancel()
		sub.stream.Close()
	}
}

func (c *connection) sendError(id string, err error) {
	kind, msg := apperr.Public(err)
	payload, _ := json.Marshal([]ErrorPayload{{Kind: string(kind), Message: msg}})
	c.enqueue(Frame{Type: TypeError, ID: id, Payload: payload})
}

func (c *connection) observe(op string, err error, took time.Duration) {
	if c.srv.met == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = string(apperr.KindOf(err))
	}
	c.srv.met.ObserveOperation("subscription", op, result, took)
}

// enqueue hands a frame to the write pump. It reports false once the
// connection is going away.
func (c *connection) enqueue(f Frame) bool {
	b, err := json.Marshal(f)
	if err != nil {
		c.srv.log.Error("encode frame", zap.String("type", f.Type), zap.Error(err))
		return true
	}
	select {
	case c.send <- b:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *connection) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.srv.cfg.WriteDeadline))
	})
}

func (c *connection) writePump() {
	ticker := time.NewTicker(c.srv.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		// unblocks the read loop if it is still waiting. The socket must not
		// be touched after writerDone: teardown hands it back to the pool.
		_ = c.ws.Close()
		close(c.writerDone)
	}()
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteDeadline))
			w, err := c.ws.NextWriter(websocket.TextMessage)
			if err != nil {
				c.cancel()
				return
			}
			if _, err := w.Write(msg); err != nil {
				_ = w.Close()
				c.cancel()
				return
			}
			if err := w.Close(); err != nil {
				c.cancel()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.srv.cfg.WriteDeadline)); err != nil {
				c.cancel()
				return
			}
			c.refreshPresence()
		case <-c.ctx.Done():
			if c.srv.ctx.Err() != nil {
				c.closeWith(CloseGoingAway, "server shutting down")
			}
			return
		}
	}
}

func (c *connection) refreshPresence() {
	id := c.identity.Load()
	if id == nil || c.srv.presence == nil {
		return
	}
	if err := c.srv.presence.Join(c.ctx, id.UserID, c.id); err != nil {
		c.srv.log.Warn("presence refresh", zap.String("user_id", id.UserID), zap.Error(err))
	}
}

// teardown runs exactly once when the read loop exits, whatever the cause.
func (c *connection) teardown() {
	c.state.Store(int32(stateClosed))
	c.cancel()

	c.mu.Lock()
	subs := make([]*subscription, 0, len(c.subs))
	for id, sub := range c.subs {
		subs = append(subs, sub)
		delete(c.subs, id)
	}
	c.mu.Unlock()
	for _, sub := range subs {
		sub.cancel()
		sub.stream.Close()
	}
	c.wg.Wait()
	<-c.writerDone

	if id := c.identity.Load(); id != nil && c.srv.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.srv.cfg.WriteDeadline)
		if err := c.srv.presence.Leave(ctx, id.UserID, c.id); err != nil {
			c.srv.log.Warn("presence leave", zap.String("user_id", id.UserID), zap.Error(err))
		}
		cancel()
	}
	if c.srv.met != nil {
		c.srv.met.Connections.Dec()
	}
	_ = c.ws.Close()
}
