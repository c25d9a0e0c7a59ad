package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messenger-service/internal/apperr"
	"github.com/fathima-sithara/messenger-service/internal/middleware"
	redisstore "github.com/fathima-sithara/messenger-service/internal/redis"
)

type PresenceReader interface {
	Get(ctx context.Context, userID string) (*redisstore.Presence, error)
}

func presenceHandler(p PresenceReader, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if middleware.Identity(c) == nil {
			return middleware.Fail(c, apperr.ErrUnauthorized)
		}
		uid := c.Params("userId")
		ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
		defer cancel()
		pres, err := p.Get(ctx, uid)
		if err != nil {
			log.Error("presence lookup", zap.String("user_id", uid), zap.Error(err))
			return middleware.Fail(c, apperr.Wrap(apperr.Internal, err, "internal error"))
		}
		return c.JSON(fiber.Map{"data": pres})
	}
}
