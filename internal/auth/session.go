package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fathima-sithara/messenger-service/internal/domain"
	"github.com/fathima-sithara/messenger-service/internal/repository"
)

// Identity is the caller an operation runs as. A nil *Identity means the
// caller is not authenticated.
type Identity struct {
	UserID   string `json:"id"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Image    string `json:"image,omitempty"`
}

// UserDirectory is the slice of the user store session resolution needs.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
	UpsertUser(ctx context.Context, u *domain.User) error
}

// ConnectionInit is the payload a streaming client sends once, right after
// connecting.
type ConnectionInit struct {
	Token string `json:"token"`
}

type SessionResolver struct {
	verifier  *Verifier
	users     UserDirectory
	provision bool
	log       *zap.Logger
}

// NewSessionResolver builds a resolver. With provision set, a valid token for
// an unknown user creates that user from the token's claims, standing in for
// the identity provider's first sign-in.
func NewSessionResolver(v *Verifier, users UserDirectory, provision bool, log *zap.Logger) *SessionResolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionResolver{verifier: v, users: users, provision: provision, log: log.Named("session")}
}

// ResolveRequest resolves the identity of an HTTP request. The session cookie
// wins over an Authorization header. Missing or invalid credentials resolve
// to nil without error.
func (r *SessionResolver) ResolveRequest(ctx context.Context, cookie, authorization string) (*Identity, error) {
	token := cookie
	if token == "" && authorization != "" {
		t, err := ParseBearerToken(authorization)
		if err != nil {
			return nil, nil
		}
		token = t
	}
	return r.ResolveToken(ctx, token)
}

// ResolveConnectionInit resolves a streaming connection's identity from its
// init payload, falling back to the cookie presented on the upgrade request.
// Callers run it once per connection and keep the result for the
// connection's lifetime; a session revoked later does not end the stream.
func (r *SessionResolver) ResolveConnectionInit(ctx context.Context, payload json.RawMessage, upgradeCookie string) (*Identity, error) {
	var init ConnectionInit
	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, &init); err != nil {
			r.log.Debug("unreadable connection_init payload", zap.Error(err))
		}
	}
	token := init.Token
	if token == "" {
		token = upgradeCookie
	}
	return r.ResolveToken(ctx, token)
}

func (r *SessionResolver) ResolveToken(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, nil
	}
	claims, err := r.verifier.Verify(token)
	if err != nil {
		r.log.Debug("rejecting token", zap.Error(err))
		return nil, nil
	}
	uid := claims.UserIDFromClaims()

	u, err := r.users.GetUser(ctx, uid)
	if errors.Is(err, repository.ErrNotFound) {
		if !r.provision {
			return nil, nil
		}
		u = &domain.User{
			ID:            uid,
			Email:         claims.Email,
			EmailVerified: claims.Email != "",
			Name:          claims.Name,
			Image:         claims.Picture,
		}
		if err := r.users.UpsertUser(ctx, u); err != nil {
			return nil, fmt.Errorf("provision user %s: %w", uid, err)
		}
		r.log.Info("provisioned user", zap.String("user_id", uid))
	} else if err != nil {
		return nil, fmt.Errorf("load user %s: %w", uid, err)
	}

	return &Identity{
		UserID:   u.ID,
		Username: u.Username,
		Email:    u.Email,
		Name:     u.Name,
		Image:    u.Image,
	}, nil
}
