package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	UserID  string `json:"user_id,omitempty"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// UserIDFromClaims prefers user_id and falls back to sub.
func (c *Claims) UserIDFromClaims() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

type Verifier struct {
	method   string
	hsSecret []byte
	pub      *rsa.PublicKey
}

func NewVerifierHS256(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("hs256 secret is empty")
	}
	return &Verifier{method: "HS256", hsSecret: []byte(secret)}, nil
}

func NewVerifierRS256(pubKeyPath string) (*Verifier, error) {
	b, err := os.ReadFile(pubKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(b)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return &Verifier{method: "RS256", pub: pub}, nil
}

func NewVerifier(algorithm, secret, pubKeyPath string) (*Verifier, error) {
	switch strings.ToUpper(algorithm) {
	case "RS256":
		return NewVerifierRS256(pubKeyPath)
	case "HS256", "":
		return NewVerifierHS256(secret)
	}
	return nil, fmt.Errorf("unsupported jwt algorithm %q", algorithm)
}

func (v *Verifier) keyFunc(t *jwt.Token) (interface{}, error) {
	switch v.method {
	case "RS256":
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.pub, nil
	default:
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.hsSecret, nil
	}
}

// Verify checks signature and expiry and returns the claims.
func (v *Verifier) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, v.keyFunc, jwt.WithValidMethods([]string{v.method}))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.UserIDFromClaims() == "" {
		return nil, errors.New("missing user id in token")
	}
	return claims, nil
}

// SignHS256 issues a token the HS256 verifier accepts. Used by local tooling
// and tests; production tokens come from the identity provider.
func SignHS256(secret string, c Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}

func ParseBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header empty")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
		return "", errors.New("invalid authorization header format")
	}
	return parts[1], nil
}
