package middleware

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messenger-service/internal/apperr"
	"github.com/fathima-sithara/messenger-service/internal/auth"
)

const identityKey = "identity"

// Session resolves the caller once per request and stores it for handlers.
// An anonymous request still passes; operations decide whether they need an
// identity.
func Session(resolver *auth.SessionResolver, cookieName string, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := resolver.ResolveRequest(c.UserContext(), c.Cookies(cookieName), c.Get(fiber.HeaderAuthorization))
		if err != nil {
			log.Error("resolve session", zap.String("path", c.Path()), zap.Error(err))
			return Fail(c, apperr.Wrap(apperr.Internal, err, "internal error"))
		}
		c.Locals(identityKey, id)
		return c.Next()
	}
}

// Identity returns the caller resolved by Session, or nil.
func Identity(c *fiber.Ctx) *auth.Identity {
	id, _ := c.Locals(identityKey).(*auth.Identity)
	return id
}

type ErrorBody struct {
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
}

func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.Unauthorized:
		return http.StatusUnauthorized
	case apperr.Forbidden:
		return http.StatusForbidden
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.InvalidInput:
		return http.StatusBadRequest
	case apperr.Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Fail writes err as the {"error": {...}} envelope with the matching status.
func Fail(c *fiber.Ctx, err error) error {
	kind, msg := apperr.Public(err)
	return c.Status(StatusFor(kind)).JSON(fiber.Map{"error": ErrorBody{Kind: kind, Message: msg}})
}
