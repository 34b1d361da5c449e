package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"finpulse.org/internal/ids"
)

// accessClaims deliberately carries nothing beyond the opaque user
// reference. Role, organization and the active flag live only in
// storage; embedding them here would let a stale token outlive a role
// downgrade.
type accessClaims struct {
	jwt.RegisteredClaims
}

func signAccessToken(secret []byte, issuer, userID string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("%w: ttl must be positive", ErrInvalidInput)
	}
	exp := now.Add(ttl)
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// parseAccessToken verifies signature and registered claims and returns
// the subject user ID. Every failure collapses to ErrInvalidToken.
func parseAccessToken(secret []byte, issuer, raw string, now time.Time) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(raw, &accessClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return now }))
	if err != nil {
		return "", ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*accessClaims)
	if !ok || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if claims.Issuer != issuer {
		return "", ErrInvalidToken
	}
	if claims.ExpiresAt == nil || !now.Before(claims.ExpiresAt.Time) {
		return "", ErrInvalidToken
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return "", ErrInvalidToken
	}
	return sub, nil
}

// newRefreshToken mints an opaque "id.secret" refresh credential. The
// secret carries 256 bits of crypto/rand entropy; only its SHA-256 is
// persisted.
func newRefreshToken(userID string, now time.Time, ttl time.Duration) (string, *RefreshToken, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	rec := &RefreshToken{
		ID:        ids.New(),
		UserID:    userID,
		TokenHash: hashRefreshSecret(secret),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	return rec.ID + "." + secret, rec, nil
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", ErrInvalidToken
	}
	return parts[0], parts[1], nil
}

func hashRefreshSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
