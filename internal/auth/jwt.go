package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/netsbox/control-plane/internal/user"
)

// SessionClaims holds the JWT claims for a NetsBox session token. Beyond
// the standard subject/issuer/expiry, it carries a snapshot of the
// username, role, and group membership taken at mint time. Middleware does
// not rely on that snapshot: it re-reads the user record on every request.
type SessionClaims struct {
	jwt.RegisteredClaims
	Username string     `json:"username"`
	Role     user.Role  `json:"role"`
	GroupID  *uuid.UUID `json:"group_id,omitempty"`
}

// NewAccessToken creates a signed JWT session token for u.
func NewAccessToken(u *user.User, secret string, ttl time.Duration, issuer string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("JWT secret must not be empty")
	}
	if issuer == "" {
		return "", fmt.Errorf("JWT issuer must not be empty")
	}

	now := time.Now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Username: u.Username,
		Role:     u.Role,
		GroupID:  u.GroupID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}

	return signed, nil
}

// ValidateAccessToken parses and validates a JWT session token string,
// enforcing HMAC signing method and optional issuer check.
func ValidateAccessToken(tokenStr, secret, issuer string) (*SessionClaims, error) {
	claims := &SessionClaims{}

	var parserOpts []jwt.ParserOption
	if issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(issuer))
	}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, parserOpts...)
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}
