package session

import (
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

type tokenClaims struct {
	UserID    uuid.UUID
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type accessClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// readClaims decodes an access token without verifying it; the backend is
// the only party that checks signatures. Opaque tokens yield ok=false.
func readClaims(token string) (tokenClaims, bool) {
	if token == "" {
		return tokenClaims{}, false
	}
	var ac accessClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &ac); err != nil {
		return tokenClaims{}, false
	}

	var c tokenClaims
	if id, err := uuid.FromString(ac.Subject); err == nil {
		c.UserID = id
	}
	c.Email = ac.Email
	if ac.IssuedAt != nil {
		c.IssuedAt = ac.IssuedAt.UTC()
	}
	if ac.ExpiresAt != nil {
		c.ExpiresAt = ac.ExpiresAt.UTC()
	}
	return c, true
}
