package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/messenger-service/internal/domain"
	"github.com/fathima-sithara/messenger-service/internal/repository"
)

const secret = "test-secret"

func token(t *testing.T, c Claims) string {
	t.Helper()
	if c.ExpiresAt == nil {
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	}
	s, err := SignHS256(secret, c)
	require.NoError(t, err)
	return s
}

func sub(id string) Claims {
	return Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: id}}
}

func newResolver(t *testing.T, provision bool) (*SessionResolver, *repository.MemoryStore) {
	t.Helper()
	v, err := NewVerifierHS256(secret)
	require.NoError(t, err)
	store := repository.NewMemoryStore()
	require.NoError(t, store.UpsertUser(context.Background(), &domain.User{ID: "u1", Username: "ada", Email: "ada@example.com"}))
	return NewSessionResolver(v, store, provision, nil), store
}

func TestVerifier_HS256(t *testing.T) {
	v, err := NewVerifier("HS256", secret, "")
	require.NoError(t, err)

	c, err := v.Verify(token(t, Claims{UserID: "u9", RegisteredClaims: jwt.RegisteredClaims{Subject: "ignored"}}))
	require.NoError(t, err)
	require.Equal(t, "u9", c.UserIDFromClaims())

	expired := token(t, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}})
	_, err = v.Verify(expired)
	require.Error(t, err)

	forged, err := SignHS256("other-secret", sub("u1"))
	require.NoError(t, err)
	_, err = v.Verify(forged)
	require.Error(t, err)

	_, err = v.Verify(token(t, Claims{}))
	require.Error(t, err, "tokens without a user id are rejected")
}

func TestVerifier_RS256(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "pub.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600))

	v, err := NewVerifier("RS256", "", path)
	require.NoError(t, err)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, sub("u1")).SignedString(key)
	require.NoError(t, err)
	c, err := v.Verify(signed)
	require.NoError(t, err)
	require.Equal(t, "u1", c.UserIDFromClaims())

	// an HS256 token must not pass an RS256 verifier
	_, err = v.Verify(token(t, sub("u1")))
	require.Error(t, err)
}

func TestNewVerifier_Errors(t *testing.T) {
	_, err := NewVerifier("HS256", "", "")
	require.Error(t, err)
	_, err = NewVerifier("ES256", "x", "")
	require.Error(t, err)
	_, err = NewVerifier("RS256", "", filepath.Join(t.TempDir(), "missing.pem"))
	require.Error(t, err)
}

func TestParseBearerToken(t *testing.T) {
	tok, err := ParseBearerToken("Bearer abc")
	require.NoError(t, err)
	require.Equal(t, "abc", tok)

	for _, h := range []string{"", "abc", "Basic abc", "Bearer "} {
		_, err := ParseBearerToken(h)
		require.Error(t, err, h)
	}
}

func TestResolveRequest(t *testing.T) {
	r, _ := newResolver(t, false)
	ctx := context.Background()

	id, err := r.ResolveRequest(ctx, token(t, sub("u1")), "")
	require.NoError(t, err)
	require.NotNil(t, id)
	require.Equal(t, "u1", id.UserID)
	require.Equal(t, "ada", id.Username)

	id, err = r.ResolveRequest(ctx, "", "Bearer "+token(t, sub("u1")))
	require.NoError(t, err)
	require.NotNil(t, id)

	// cookie wins over header
	id, err = r.ResolveRequest(ctx, "garbage", "Bearer "+token(t, sub("u1")))
	require.NoError(t, err)
	require.Nil(t, id)

	id, err = r.ResolveRequest(ctx, "", "")
	require.NoError(t, err)
	require.Nil(t, id)

	id, err = r.ResolveRequest(ctx, "", "Token abc")
	require.NoError(t, err)
	require.Nil(t, id)
}

func TestResolveToken_UnknownUser(t *testing.T) {
	ctx := context.Background()

	r, _ := newResolver(t, false)
	id, err := r.ResolveToken(ctx, token(t, sub("stranger")))
	require.NoError(t, err)
	require.Nil(t, id)

	r, store := newResolver(t, true)
	id, err = r.ResolveToken(ctx, token(t, Claims{
		Email:            "new@example.com",
		Name:             "New",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "stranger"},
	}))
	require.NoError(t, err)
	require.NotNil(t, id)
	require.Equal(t, "stranger", id.UserID)

	u, err := store.GetUser(ctx, "stranger")
	require.NoError(t, err)
	require.Equal(t, "new@example.com", u.Email)
	require.Empty(t, u.Username)
}

func TestResolveConnectionInit(t *testing.T) {
	r, _ := newResolver(t, false)
	ctx := context.Background()
	tok := token(t, sub("u1"))

	payload, err := json.Marshal(ConnectionInit{Token: tok})
	require.NoError(t, err)
	id, err := r.ResolveConnectionInit(ctx, payload, "")
	require.NoError(t, err)
	require.NotNil(t, id)

	id, err = r.ResolveConnectionInit(ctx, nil, tok)
	require.NoError(t, err)
	require.NotNil(t, id, "falls back to the upgrade cookie")

	id, err = r.ResolveConnectionInit(ctx, json.RawMessage(`{"token":"nope"}`), "")
	require.NoError(t, err)
	require.Nil(t, id)

	id, err = r.ResolveConnectionInit(ctx, json.RawMessage(`[1,2`), "")
	require.NoError(t, err)
	require.Nil(t, id)
}

type failingUsers struct{}

func (failingUsers) GetUser(context.Context, string) (*domain.User, error) {
	return nil, errors.New("db down")
}
func (failingUsers) UpsertUser(context.Context, *domain.User) error { return nil }

func TestResolveToken_StoreFailure(t *testing.T) {
	v, err := NewVerifierHS256(secret)
	require.NoError(t, err)
	r := NewSessionResolver(v, failingUsers{}, true, nil)

	id, err := r.ResolveToken(context.Background(), token(t, sub("u1")))
	require.Error(t, err)
	require.Nil(t, id)
}
