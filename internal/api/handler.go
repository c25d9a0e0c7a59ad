package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messenger-service/internal/apperr"
	"github.com/fathima-sithara/messenger-service/internal/metrics"
	"github.com/fathima-sithara/messenger-service/internal/middleware"
	"github.com/fathima-sithara/messenger-service/internal/service"
)

const requestTimeout = 10 * time.Second

type Handlers struct {
	reg *service.Registry
	met *metrics.Metrics
	log *zap.Logger
}

func NewHandlers(reg *service.Registry, met *metrics.Metrics, log *zap.Logger) *Handlers {
	return &Handlers{reg: reg, met: met, log: log.Named("api")}
}

type operationRequest struct {
	Variables json.RawMessage `json:"variables"`
}

func (h *Handlers) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *Handlers) query(c *fiber.Ctx) error {
	return h.run(c, "query", h.reg.Queries)
}

func (h *Handlers) mutation(c *fiber.Ctx) error {
	return h.run(c, "mutation", h.reg.Mutations)
}

func (h *Handlers) run(c *fiber.Ctx, typ string, table map[string]service.Handler) error {
	name := c.Params("name")
	op, ok := table[name]
	if !ok {
		return middleware.Fail(c, apperr.Newf(apperr.NotFound, "unknown %s %q", typ, name))
	}

	var req operationRequest
	if len(c.Body()) > 0 {
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return middleware.Fail(c, apperr.Wrap(apperr.InvalidInput, err, "invalid body"))
		}
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()
	start := time.Now()
	out, err := op(ctx, middleware.Identity(c), req.Variables)
	h.observe(typ, name, err, time.Since(start))
	if err != nil {
		if apperr.KindOf(err) == apperr.Internal {
			h.log.Error("operation failed", zap.String("type", typ), zap.String("operation", name), zap.Error(err))
		}
		return middleware.Fail(c, err)
	}
	return c.JSON(fiber.Map{"data": out})
}

func (h *Handlers) observe(typ, name string, err error, took time.Duration) {
	if h.met == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = string(apperr.KindOf(err))
	}
	h.met.ObserveOperation(typ, name, result, took)
}
