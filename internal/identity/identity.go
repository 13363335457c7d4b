// Package identity exposes who is issuing commands and their sync-related
// privacy preferences. The auth/UI layer owns the values; the core only
// queries them synchronously at command time.
package identity

import (
	"errors"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// Accessor is consumed by the delivery machine and signalers.
type Accessor interface {
	CurrentUserID() string
	ReadReceiptsEnabled(userID string) bool
	TypingIndicatorsEnabled(userID string) bool
}

// Static is a fixed-preference accessor, used by tests and by callers
// that resolve preferences upstream.
type Static struct {
	UserID string

	mu           sync.RWMutex
	readReceipts map[string]bool
	typing       map[string]bool
}

func NewStatic(userID string) *Static {
	return &Static{
		UserID:       userID,
		readReceipts: make(map[string]bool),
		typing:       make(map[string]bool),
	}
}

func (s *Static) CurrentUserID() string { return s.UserID }

// Preferences default to enabled unless explicitly disabled.
func (s *Static) ReadReceiptsEnabled(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.readReceipts[userID]
	return !ok || v
}

func (s *Static) TypingIndicatorsEnabled(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.typing[userID]
	return !ok || v
}

func (s *Static) SetReadReceipts(userID string, enabled bool) {
	s.mu.Lock()
	s.readReceipts[userID] = enabled
	s.mu.Unlock()
}

func (s *Static) SetTypingIndicators(userID string, enabled bool) {
	s.mu.Lock()
	s.typing[userID] = enabled
	s.mu.Unlock()
}

// Claims are the JWT claims issued by the auth service.
type Claims struct {
	UserUUID string `json:"user_uuid"`
	jwt.RegisteredClaims
}

func ParseBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header empty")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", errors.New("invalid authorization header format")
	}
	return parts[1], nil
}

func ParseAndValidateToken(secret, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}
