package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/fathima-sithara/messenger-service/internal/apperr"
	"github.com/fathima-sithara/messenger-service/internal/auth"
	"github.com/fathima-sithara/messenger-service/internal/domain"
	"github.com/fathima-sithara/messenger-service/internal/repository"
)

type SearchUsersInput struct {
	Username string `json:"username"`
}

type CreateUsernameInput struct {
	Username string `json:"username" validate:"required,min=3,max=32,handle"`
}

// SearchUsers finds users whose handle matches the query case-insensitively.
// The caller is never part of the result.
func (m *Messenger) SearchUsers(ctx context.Context, id *auth.Identity, in SearchUsersInput) ([]domain.UserSummary, error) {
	if err := requireIdentity(id); err != nil {
		return nil, err
	}
	q := strings.TrimSpace(in.Username)
	if q == "" {
		return []domain.UserSummary{}, nil
	}
	users, err := m.store.SearchUsers(ctx, repository.UserQuery{
		Username:  q,
		ExcludeID: id.UserID,
		Match:     m.opts.SearchMatch,
		Limit:     m.opts.SearchLimit,
	})
	if err != nil {
		return nil, m.classify("searchUsers", err, "user not found")
	}
	out := make([]domain.UserSummary, 0, len(users))
	for _, u := range users {
		out = append(out, u.Summary())
	}
	return out, nil
}

func (m *Messenger) CreateUsername(ctx context.Context, id *auth.Identity, in CreateUsernameInput) (*SuccessResult, error) {
	if err := requireIdentity(id); err != nil {
		return nil, err
	}
	in.Username = strings.TrimSpace(in.Username)
	if err := checkInput(in); err != nil {
		return nil, err
	}
	name := in.Username

	existing, err := m.store.GetUserByUsername(ctx, name)
	switch {
	case err == nil && existing.ID == id.UserID:
		return nil, apperr.New(apperr.InvalidInput, "username already set")
	case err == nil:
		return nil, apperr.New(apperr.InvalidInput, "username already taken")
	case !errors.Is(err, repository.ErrNotFound):
		return nil, m.classify("createUsername", err, "user not found")
	}

	me, err := m.store.GetUser(ctx, id.UserID)
	if err != nil {
		return nil, m.classify("createUsername", err, "user not found")
	}
	if me.Username != "" {
		return nil, apperr.New(apperr.InvalidInput, "username already set")
	}

	if err := m.store.SetUsername(ctx, id.UserID, name); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperr.Wrap(apperr.Conflict, err, "username was claimed concurrently")
		}
		return nil, m.classify("createUsername", err, "user not found")
	}
	m.log.Info("username created", zap.String("user_id", id.UserID), zap.String("username", name))
	return &SuccessResult{Success: true}, nil
}
