package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims carried by locally minted operator tokens. Site doubles the
// subject for older minters that only set one of the two.
type Claims struct {
	jwt.RegisteredClaims
	Site string `json:"site,omitempty"`
}

// MintToken issues an HS256 operator token. Used by the admin CLI and
// by development setups without an external issuer.
func MintToken(secret, issuer, siteIdentity string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("no signing secret: %w", ErrBadToken)
	}
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   siteIdentity,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Site: siteIdentity,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// VerifyJWT checks an HS256 operator token and returns its claims with
// the site resolved from either the site claim or the subject.
func VerifyJWT(secret, issuer, raw string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrBadToken)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims shape: %w", ErrBadToken)
	}
	if claims.Site == "" {
		claims.Site = claims.Subject
	}
	if claims.Site == "" {
		return nil, fmt.Errorf("token names no site: %w", ErrBadToken)
	}
	return claims, nil
}
