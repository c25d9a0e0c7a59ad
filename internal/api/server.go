package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messenger-service/internal/apperr"
	"github.com/fathima-sithara/messenger-service/internal/auth"
	"github.com/fathima-sithara/messenger-service/internal/metrics"
	"github.com/fathima-sithara/messenger-service/internal/middleware"
	"github.com/fathima-sithara/messenger-service/internal/service"
)

type Deps struct {
	Registry   *service.Registry
	Resolver   *auth.SessionResolver
	CookieName string
	// Limiter guards mutations when set.
	Limiter *middleware.RateLimiter
	Metrics *metrics.Metrics
	// Gatherer backs GET /metrics when set.
	Gatherer prometheus.Gatherer
	// Subscriptions is the websocket handler mounted at /v1/subscriptions.
	Subscriptions fiber.Handler
	// Presence backs GET /v1/presence/:userId when set.
	Presence  PresenceReader
	AccessLog bool
	Log       *zap.Logger
}

func NewServer(d Deps) *fiber.App {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(d.Log),
	})
	app.Use(recover.New())
	if d.AccessLog {
		app.Use(logger.New())
	}
	h := NewHandlers(d.Registry, d.Metrics, d.Log)

	if d.Gatherer != nil {
		app.Get("/metrics", metrics.Handler(d.Gatherer))
	}

	api := app.Group("/v1")
	api.Get("/health", h.health)

	if d.Subscriptions != nil {
		// identity comes from connection_init, not from request middleware
		api.Get("/subscriptions", d.Subscriptions)
	}

	api.Use(middleware.Session(d.Resolver, d.CookieName, d.Log))
	api.Post("/query/:name", h.query)
	if d.Limiter != nil {
		api.Post("/mutation/:name", d.Limiter.MiddlewareByKey(middleware.ByCaller), h.mutation)
	} else {
		api.Post("/mutation/:name", h.mutation)
	}
	if d.Presence != nil {
		api.Get("/presence/:userId", presenceHandler(d.Presence, d.Log.Named("api")))
	}

	return app
}

// errorHandler renders errors that escape handlers, including fiber's own
// routing errors, in the same envelope operations use.
func errorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			kind := apperr.Internal
			switch fe.Code {
			case fiber.StatusNotFound:
				kind = apperr.NotFound
			case fiber.StatusMethodNotAllowed, fiber.StatusBadRequest, fiber.StatusRequestEntityTooLarge:
				kind = apperr.InvalidInput
			case fiber.StatusUnauthorized:
				kind = apperr.Unauthorized
			}
			return c.Status(fe.Code).JSON(fiber.Map{"error": middleware.ErrorBody{Kind: kind, Message: fe.Message}})
		}
		if apperr.KindOf(err) == apperr.Internal {
			log.Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
		}
		return middleware.Fail(c, err)
	}
}
