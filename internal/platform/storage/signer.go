package storage

import (
	"context"
	"crypto/rsa"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/oauth2/google"
)

// Signer produces the RSA-SHA256 signatures required by V4 signed URLs.
type Signer interface {
	Email() string
	SignBytes(ctx context.Context, payload []byte) ([]byte, error)
}

// keySigner signs with a service-account private key held in memory.
type keySigner struct {
	email string
	key   *rsa.PrivateKey
}

// ParseSigner builds a Signer from a service-account JSON key, or from a PEM key plus the account
// email. An empty key means images are served unsigned and yields a nil Signer.
func ParseSigner(email, key string) (Signer, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	pemKey := []byte(key)
	if strings.HasPrefix(key, "{") {
		cfg, err := google.JWTConfigFromJSON(pemKey)
		if err != nil {
			return nil, fmt.Errorf("storage: service account json: %w", err)
		}
		email, pemKey = cfg.Email, cfg.PrivateKey
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, errSignerNotReady
	}
	rsaKey, err := jwt.ParseRSAPrivateKeyFromPEM(pemKey)
	if err != nil {
		return nil, fmt.Errorf("storage: signer private key: %w", err)
	}
	return &keySigner{email: email, key: rsaKey}, nil
}

func (s *keySigner) Email() string { return s.email }

// SignBytes is RS256 over payload, returned raw rather than base64url encoded.
func (s *keySigner) SignBytes(ctx context.Context, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	encoded, err := jwt.SigningMethodRS256.Sign(string(payload), s.key)
	if err != nil {
		return nil, fmt.Errorf("storage: sign: %w", err)
	}
	return jwt.DecodeSegment(encoded)
}
