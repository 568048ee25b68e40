// Package servicetoken mints and verifies the short-lived signed assertions
// the edge layer passes to internal services in place of a user's session
// credential. Tokens are self-contained: internal services verify signature
// and expiry only, and never look anything up.
package servicetoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const DefaultTTL = time.Hour

var (
	ErrExpired          = errors.New("service token expired")
	ErrInvalidSignature = errors.New("service token signature invalid")
)

// Claims is the identity and authorization context a minted token carries.
// SecondFactorVerified is copied from the caller's already-validated session;
// the minter never re-derives it.
type Claims struct {
	UserID               uuid.UUID `json:"userID"`
	Email                string    `json:"email"`
	Role                 string    `json:"role"`
	OrganizationID       uuid.UUID `json:"organizationID"`
	SecondFactorVerified bool      `json:"secondFactorVerified"`
	jwt.RegisteredClaims
}

type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithClock overrides the issuer's time source. Test hook.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

func (i *Issuer) Mint(claims Claims) (string, error) {
	issuedAt := i.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(i.ttl)),
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		Subject:   claims.UserID.String(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(jwt.WithTimeFunc(i.now))
	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %T", token.Method)
		}
		return i.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalidSignature
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidSignature
	}

	return claims, nil
}
