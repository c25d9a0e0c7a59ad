package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fathima-sithara/messenger-service/internal/domain"
	"github.com/fathima-sithara/messenger-service/internal/utils"
)

const (
	usersColl         = "users"
	conversationsColl = "conversations"
	messagesColl      = "messages"
)

type MongoStore struct {
	client        *mongo.Client
	users         *mongo.Collection
	conversations *mongo.Collection
	messages      *mongo.Collection
	transactions  bool
}

func NewMongoClient(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}

// NewMongoStore wraps an open client. With transactions set, deletes and
// message appends run inside a multi-document transaction (replica set only).
func NewMongoStore(ctx context.Context, client *mongo.Client, dbName string, transactions bool) (*MongoStore, error) {
	db := client.Database(dbName)
	s := &MongoStore{
		client:        client,
		users:         db.Collection(usersColl),
		conversations: db.Collection(conversationsColl),
		messages:      db.Collection(messagesColl),
		transactions:  transactions,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	if _, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetName("username_unique").SetUnique(true).
			SetPartialFilterExpression(bson.M{"username": bson.M{"$type": "string"}}),
	}); err != nil {
		return fmt.Errorf("users index: %w", err)
	}
	if _, err := s.conversations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "participants.user_id", Value: 1}}, Options: options.Index().SetName("participant_user_idx")},
		{Keys: bson.D{{Key: "updated_at", Value: -1}}, Options: options.Index().SetName("updated_at_idx")},
	}); err != nil {
		return fmt.Errorf("conversations index: %w", err)
	}
	if _, err := s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}},
		Options: options.Index().SetName("conversation_created_idx"),
	}); err != nil {
		return fmt.Errorf("messages index: %w", err)
	}
	return nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return ErrConflict
	}
	return err
}

// users

// userUpsert builds the profile upsert. The username is left to
// usernameClaim so it can be applied to users that already exist.
func userUpsert(u *domain.User, created time.Time) (filter, update bson.M) {
	return bson.M{"_id": u.ID}, bson.M{
		"$set": bson.M{
			"email":          u.Email,
			"email_verified": u.EmailVerified,
			"name":           u.Name,
			"image":          u.Image,
		},
		"$setOnInsert": bson.M{"created_at": created},
	}
}

// usernameClaim sets the handle only on a user that has none yet.
func usernameClaim(id, username string) (filter, update bson.M) {
	return bson.M{"_id": id, "username": bson.M{"$in": bson.A{nil, ""}}},
		bson.M{"$set": bson.M{"username": username}}
}

// UpsertUser creates or refreshes a profile. A username is applied only when
// the stored user has none, matching SetUsername's set-once rule.
func (s *MongoStore) UpsertUser(ctx context.Context, u *domain.User) error {
	created := u.CreatedAt
	if created.IsZero() {
		created = utils.NowUTC()
	}
	filter, update := userUpsert(u, created)
	if _, err := s.users.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("upsert user %s: %w", u.ID, mapErr(err))
	}
	if u.Username == "" {
		return nil
	}
	filter, update = usernameClaim(u.ID, u.Username)
	if _, err := s.users.UpdateOne(ctx, filter, update); err != nil {
		return fmt.Errorf("claim username for %s: %w", u.ID, mapErr(err))
	}
	return nil
}

func (s *MongoStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	if err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

func (s *MongoStore) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var u domain.User
	if err := s.users.FindOne(ctx, bson.M{"username": username}).Decode(&u); err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

func (s *MongoStore) GetUsers(ctx context.Context, ids []string) ([]*domain.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cur, err := s.users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	out := []*domain.User{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) SetUsername(ctx context.Context, id, username string) error {
	filter, update := usernameClaim(id, username)
	res, err := s.users.UpdateOne(ctx, filter, update)
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		if _, err := s.GetUser(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func userSearchFilter(q UserQuery) bson.M {
	pattern := regexp.QuoteMeta(q.Username)
	if q.Match == MatchPrefix {
		pattern = "^" + pattern
	}
	filter := bson.M{"username": bson.M{"$regex": pattern, "$options": "i"}}
	if q.ExcludeID != "" {
		filter["_id"] = bson.M{"$ne": q.ExcludeID}
	}
	return filter
}

func (s *MongoStore) SearchUsers(ctx context.Context, q UserQuery) ([]*domain.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "username", Value: 1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	cur, err := s.users.Find(ctx, userSearchFilter(q), opts)
	if err != nil {
		return nil, err
	}
	out := []*domain.User{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// conversations

func (s *MongoStore) CreateConversation(ctx context.Context, c *domain.Conversation) error {
	seen := make(map[string]struct{}, len(c.Participants))
	for _, p := range c.Participants {
		if _, dup := seen[p.UserID]; dup {
			return ErrConflict
		}
		seen[p.UserID] = struct{}{}
	}
	if _, err := s.conversations.InsertOne(ctx, c); err != nil {
		return fmt.Errorf("insert conversation: %w", mapErr(err))
	}
	return nil
}

func (s *MongoStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := s.conversations.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (s *MongoStore) ListConversations(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: 1}})
	cur, err := s.conversations.Find(ctx, bson.M{"participants.user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	out := []*domain.Conversation{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) DeleteConversation(ctx context.Context, id string) error {
	return s.inTxn(ctx, func(ctx context.Context) error {
		res, err := s.conversations.DeleteOne(ctx, bson.M{"_id": id})
		if err != nil {
			return err
		}
		if res.DeletedCount == 0 {
			return ErrNotFound
		}
		if _, err := s.messages.DeleteMany(ctx, bson.M{"conversation_id": id}); err != nil {
			return fmt.Errorf("delete messages of %s: %w", id, err)
		}
		return nil
	})
}

func (s *MongoStore) MarkSeen(ctx context.Context, conversationID, userID string) error {
	res, err := s.conversations.UpdateOne(ctx,
		bson.M{"_id": conversationID, "participants.user_id": userID},
		bson.M{"$set": bson.M{"participants.$.has_seen_latest_message": true}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// messages

func (s *MongoStore) AppendMessage(ctx context.Context, m *domain.Message) (*domain.Conversation, error) {
	var updated domain.Conversation
	err := s.inTxn(ctx, func(ctx context.Context) error {
		if _, err := s.messages.InsertOne(ctx, m); err != nil {
			return mapErr(err)
		}
		// one document update: pointer, activity time and every seen flag
		update := bson.M{
			"$set": bson.M{
				"latest_message_id": m.ID,
				"participants.$[other].has_seen_latest_message":  false,
				"participants.$[sender].has_seen_latest_message": true,
			},
			"$max": bson.M{"updated_at": m.CreatedAt},
		}
		opts := options.FindOneAndUpdate().
			SetArrayFilters(options.ArrayFilters{Filters: []interface{}{
				bson.M{"other.user_id": bson.M{"$ne": m.SenderID}},
				bson.M{"sender.user_id": m.SenderID},
			}}).
			SetReturnDocument(options.After)
		err := s.conversations.FindOneAndUpdate(ctx, bson.M{"_id": m.ConversationID}, update, opts).Decode(&updated)
		if err != nil {
			if !s.transactions {
				_, _ = s.messages.DeleteOne(ctx, bson.M{"_id": m.ID})
			}
			return mapErr(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *MongoStore) GetMessages(ctx context.Context, ids []string) ([]*domain.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cur, err := s.messages.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	out := []*domain.Message{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) ListMessages(ctx context.Context, conversationID string) ([]*domain.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := s.messages.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, err
	}
	out := []*domain.Message{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// inTxn runs fn in a transaction when enabled, otherwise directly.
func (s *MongoStore) inTxn(ctx context.Context, fn func(ctx context.Context) error) error {
	if !s.transactions {
		return fn(ctx)
	}
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}
