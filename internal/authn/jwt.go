package authn

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rjlane/courses/internal/store"
)

var (
	ErrAuthDisabled = errors.New("authn: jwt signing disabled (no secret configured)")
	ErrInvalidToken = errors.New("authn: invalid or expired token")
)

// jwtService signs and verifies the bearer/cookie tokens issued after OAuth
// login completes. Secret-less services (AUTH_DISABLED deployments) never
// construct one.
type jwtService struct {
	secret []byte
	expiry time.Duration
}

func newJWTService(secret string, expiry time.Duration) *jwtService {
	if strings.TrimSpace(secret) == "" {
		return nil
	}
	return &jwtService{secret: []byte(secret), expiry: expiry}
}

// claims carries just enough of the store.User to reconstruct it without a
// database round trip on every request; Role rides along so admin status
// survives until the token expires even if ADMIN_EMAILS changes underneath
// it — a redeploy that edits the allowlist requires re-issuing tokens.
type claims struct {
	Email string     `json:"email,omitempty"`
	Role  store.Role `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func (s *jwtService) generate(user *store.User) (string, error) {
	if s == nil {
		return "", ErrAuthDisabled
	}
	if strings.TrimSpace(user.ID) == "" {
		return "", errors.New("authn: user id required")
	}

	c := claims{
		Email: strings.TrimSpace(user.Email),
		Role:  user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.expiry)),
		},
	}
	if s.expiry <= 0 {
		c.ExpiresAt = nil
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(s.secret)
}

func (s *jwtService) validate(token string) (*store.User, error) {
	if s == nil {
		return nil, ErrAuthDisabled
	}

	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("authn: unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(c.Subject) == "" {
		return nil, ErrInvalidToken
	}

	role := c.Role
	if role == "" {
		role = store.RoleUser
	}
	return &store.User{
		ID:    c.Subject,
		Email: strings.TrimSpace(c.Email),
		Role:  role,
	}, nil
}
