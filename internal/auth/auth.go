// Package auth verifies the bearer credentials presented by realtime and REST
// clients.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/haasonsaas/tandem/pkg/models"
)

var (
	ErrAuthDisabled = errors.New("auth disabled")
	ErrInvalidToken = errors.New("invalid token")
	ErrInvalidKey   = errors.New("invalid api key")
	ErrMissingToken = errors.New("missing token")
)

// Config configures the token service.
type Config struct {
	JWTSecret   string
	TokenExpiry time.Duration
	APIKeys     []APIKeyConfig
}

// APIKeyConfig binds a static key, typically held by a backend service, to
// the identity it acts as.
type APIKeyConfig struct {
	Key    string
	UserID string
	Email  string
	Name   string
}

// apiKey keeps only the digest of a configured key.
type apiKey struct {
	digest [sha256.Size]byte
	user   models.User
}

// Service authenticates handshake and REST credentials. A credential shaped
// like a JWT is checked as one first; anything else is treated as an API key.
type Service struct {
	tokens *JWTService
	keys   []apiKey
}

// NewService builds a service. With neither a secret nor keys it is disabled.
func NewService(cfg Config) *Service {
	s := &Service{}
	if strings.TrimSpace(cfg.JWTSecret) != "" {
		s.tokens = NewJWTService(cfg.JWTSecret, cfg.TokenExpiry)
	}
	for _, entry := range cfg.APIKeys {
		key := strings.TrimSpace(entry.Key)
		if key == "" {
			continue
		}
		digest := sha256.Sum256([]byte(key))
		userID := strings.TrimSpace(entry.UserID)
		if userID == "" {
			userID = "api_" + hex.EncodeToString(digest[:8])
		}
		s.keys = append(s.keys, apiKey{
			digest: digest,
			user: models.User{
				ID:    userID,
				Email: strings.TrimSpace(entry.Email),
				Name:  strings.TrimSpace(entry.Name),
			},
		})
	}
	return s
}

// Enabled reports whether any credential type is configured.
func (s *Service) Enabled() bool {
	return s != nil && (s.tokens != nil || len(s.keys) > 0)
}

// GenerateJWT issues a session token for user.
func (s *Service) GenerateJWT(user *models.User) (string, error) {
	if s == nil || s.tokens == nil {
		return "", ErrAuthDisabled
	}
	return s.tokens.Generate(user)
}

// ValidateJWT returns the user a session token was issued to.
func (s *Service) ValidateJWT(token string) (*models.User, error) {
	if s == nil || s.tokens == nil {
		return nil, ErrAuthDisabled
	}
	return s.tokens.Validate(token)
}

// ValidateAPIKey returns the identity bound to key. Every configured digest is
// compared so the time taken does not depend on which key matched.
func (s *Service) ValidateAPIKey(key string) (*models.User, error) {
	if s == nil || len(s.keys) == 0 {
		return nil, ErrAuthDisabled
	}
	digest := sha256.Sum256([]byte(strings.TrimSpace(key)))
	match := -1
	for i := range s.keys {
		if subtle.ConstantTimeCompare(digest[:], s.keys[i].digest[:]) == 1 {
			match = i
		}
	}
	if match < 0 {
		return nil, ErrInvalidKey
	}
	user := s.keys[match].user
	return &user, nil
}

// Authenticate resolves a handshake or bearer credential to a user. All
// failures wrap ErrInvalidToken except an empty credential.
func (s *Service) Authenticate(token string) (*models.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}
	if !s.Enabled() {
		return nil, ErrAuthDisabled
	}
	if s.tokens != nil && looksLikeJWT(token) {
		user, err := s.tokens.Validate(token)
		if err == nil || len(s.keys) == 0 {
			return user, err
		}
	}
	if len(s.keys) > 0 {
		if user, err := s.ValidateAPIKey(token); err == nil {
			return user, nil
		}
	}
	return nil, ErrInvalidToken
}

// looksLikeJWT reports whether token has the three dot-separated segments of
// a compact JWS.
func looksLikeJWT(token string) bool {
	return strings.Count(token, ".") == 2
}
