package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNotAuthenticated indicates a request with no valid principal.
var ErrNotAuthenticated = errors.New("not authenticated")

// Principal is the authenticated identity attached to a request. Identity
// issuing lives outside this service; tokens arrive already minted.
type Principal struct {
	ID          string
	Email       string
	DisplayName string
	Section     string
	Role        string
}

// Claims is the token payload the identity provider mints for app users.
type Claims struct {
	jwt.RegisteredClaims
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"name,omitempty"`
	Section     string `json:"section,omitempty"`
	Role        string `json:"role,omitempty"`
}

// Verifier validates HS256 bearer tokens.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for tokens signed with the shared secret.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// Verify parses and validates a token, returning the principal it carries.
// Any parse or validation failure maps to ErrNotAuthenticated; the cause is
// wrapped for logging but callers should not branch on it.
func (v *Verifier) Verify(tokenString string) (*Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrNotAuthenticated
	}

	return &Principal{
		ID:          claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.DisplayName,
		Section:     claims.Section,
		Role:        claims.Role,
	}, nil
}

// NewToken mints a token for a principal. Used by tests and local dev
// tooling; production tokens come from the identity provider.
func NewToken(secret []byte, principal Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email:       principal.Email,
		DisplayName: principal.DisplayName,
		Section:     principal.Section,
		Role:        principal.Role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
