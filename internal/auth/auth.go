// Package auth classifies bearer tokens into access scopes. Global access
// comes from a configured static API key (plain or bcrypt-hashed) or a JWT
// signed with the configured secret; match access comes from the per-match
// token issued at match creation.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Scope is the access level a bearer token grants
type Scope int

const (
	ScopeUnauthorized Scope = iota
	ScopeMatch
	ScopeGlobal
)

func (s Scope) String() string {
	switch s {
	case ScopeGlobal:
		return "GLOBAL"
	case ScopeMatch:
		return "MATCH"
	}
	return "UNAUTHORIZED"
}

// Access is one classification outcome. MatchID is set only for ScopeMatch.
type Access struct {
	Scope   Scope
	MatchID string
}

// MatchTokenLookup resolves a bearer token against the live match tokens
type MatchTokenLookup func(token string) (matchID string, ok bool)

// Claims represents the JWT claims for a global token
type Claims struct {
	Subject string `json:"sub_name,omitempty"`
	jwt.RegisteredClaims
}

// Service handles token classification and issuance
type Service struct {
	jwtSecret     []byte
	apiKeys       []string
	tokenDuration time.Duration
}

// NewService creates a new auth service
func NewService(jwtSecret string, apiKeys []string, tokenDuration time.Duration) *Service {
	if tokenDuration == 0 {
		tokenDuration = 24 * time.Hour
	}
	return &Service{
		jwtSecret:     []byte(jwtSecret),
		apiKeys:       apiKeys,
		tokenDuration: tokenDuration,
	}
}

// Classify maps a bearer token onto an access scope. Global credentials are
// checked first, then the live match tokens; anything else is unauthorized.
func (s *Service) Classify(bearer string, matches MatchTokenLookup) Access {
	if bearer == "" {
		return Access{Scope: ScopeUnauthorized}
	}
	if s.checkAPIKey(bearer) {
		return Access{Scope: ScopeGlobal}
	}
	if _, err := s.ValidateToken(bearer); err == nil {
		return Access{Scope: ScopeGlobal}
	}
	if matches != nil {
		if id, ok := matches(bearer); ok {
			return Access{Scope: ScopeMatch, MatchID: id}
		}
	}
	return Access{Scope: ScopeUnauthorized}
}

// checkAPIKey compares the token against every configured static key.
// Hashed keys (bcrypt prefix) are compared with bcrypt, plain keys in
// constant time.
func (s *Service) checkAPIKey(token string) bool {
	for _, key := range s.apiKeys {
		if strings.HasPrefix(key, "$2") {
			if bcrypt.CompareHashAndPassword([]byte(key), []byte(token)) == nil {
				return true
			}
			continue
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(token)) == 1 {
			return true
		}
	}
	return false
}

// HashKey creates a bcrypt hash of an API key for the config file
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	return string(hash), err
}

// GenerateToken creates a global JWT for the given subject
func (s *Service) GenerateToken(subject string) (string, error) {
	claims := Claims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateToken validates a global JWT and returns the claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	if len(s.jwtSecret) == 0 {
		return nil, ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
