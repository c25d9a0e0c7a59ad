package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	r := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.Ping(ctx).Err(); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return r, nil
}

// PresenceStore tracks open streaming connections per user so any instance
// can answer whether a user is online.
// Keys:
//   - <prefix>:conn:<userID> set of connection ids
//   - <prefix>:presence:<userID> json {status,last_seen}
type PresenceStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

type Presence struct {
	UserID   string `json:"userId"`
	Status   string `json:"status"`
	LastSeen int64  `json:"last_seen"`
}

func NewPresenceStore(r *redis.Client, prefix string, ttl time.Duration) *PresenceStore {
	return &PresenceStore{client: r, prefix: prefix, ttl: ttl}
}

func (s *PresenceStore) connKey(userID string) string {
	return fmt.Sprintf("%s:conn:%s", s.prefix, userID)
}

func (s *PresenceStore) presenceKey(userID string) string {
	return fmt.Sprintf("%s:presence:%s", s.prefix, userID)
}

// Join registers connID for the user and marks them online. Calling it again
// refreshes the ttl.
func (s *PresenceStore) Join(ctx context.Context, userID, connID string) error {
	key := s.connKey(userID)
	pres, _ := json.Marshal(Presence{UserID: userID, Status: "online", LastSeen: time.Now().Unix()})
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, key, connID)
	pipe.Expire(ctx, key, s.ttl)
	pipe.Set(ctx, s.presenceKey(userID), pres, s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Leave drops connID; the user goes offline with their last connection.
func (s *PresenceStore) Leave(ctx context.Context, userID, connID string) error {
	key := s.connKey(userID)
	if err := s.client.SRem(ctx, key, connID).Err(); err != nil {
		return err
	}
	cnt, err := s.client.SCard(ctx, key).Result()
	if err != nil {
		return err
	}
	if cnt > 0 {
		return nil
	}
	pres, _ := json.Marshal(Presence{UserID: userID, Status: "offline", LastSeen: time.Now().Unix()})
	return s.client.Set(ctx, s.presenceKey(userID), pres, 0).Err()
}

// Get reports the user's presence. Users never seen are offline.
func (s *PresenceStore) Get(ctx context.Context, userID string) (*Presence, error) {
	b, err := s.client.Get(ctx, s.presenceKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return &Presence{UserID: userID, Status: "offline"}, nil
	}
	if err != nil {
		return nil, err
	}
	var p Presence
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("decode presence of %s: %w", userID, err)
	}
	p.UserID = userID
	return &p, nil
}
