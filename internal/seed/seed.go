// Package seed loads development users from a YAML fixture. It stands in for
// the identity provider when running locally.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/fathima-sithara/messenger-service/internal/domain"
	"github.com/fathima-sithara/messenger-service/internal/repository"
)

type File struct {
	Users []*domain.User `yaml:"users"`
}

func Parse(b []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	seen := make(map[string]bool, len(f.Users))
	for i, u := range f.Users {
		if u == nil || strings.TrimSpace(u.ID) == "" {
			return nil, fmt.Errorf("seed user %d: id is required", i)
		}
		if seen[u.ID] {
			return nil, fmt.Errorf("seed user %s: duplicate id", u.ID)
		}
		seen[u.ID] = true
	}
	return &f, nil
}

func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed %s: %w", path, err)
	}
	return Parse(b)
}

// Apply upserts every user. Users that already have a handle keep it; a
// username held by a different user is logged and the user is stored
// without it.
func Apply(ctx context.Context, store repository.UserStore, f *File, log *zap.Logger) (int, error) {
	if log == nil {
		log = zap.NewNop()
	}
	n := 0
	for _, u := range f.Users {
		err := store.UpsertUser(ctx, u)
		if errors.Is(err, repository.ErrConflict) && u.Username != "" {
			log.Warn("seed username taken, storing without it", zap.String("user_id", u.ID), zap.String("username", u.Username))
			cp := *u
			cp.Username = ""
			err = store.UpsertUser(ctx, &cp)
		}
		if err != nil {
			return n, fmt.Errorf("seed user %s: %w", u.ID, err)
		}
		n++
	}
	return n, nil
}
