package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var unverifiedParser = jwt.NewParser()

// TokenExpiry reads the exp claim without checking the signature. Only use it
// on tokens that were already verified or that came straight from the token
// endpoint.
func TokenExpiry(raw string) (time.Time, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := unverifiedParser.ParseUnverified(raw, &claims); err != nil {
		return time.Time{}, fmt.Errorf("failed to parse token: %w", err)
	}

	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("token has no exp claim")
	}

	return claims.ExpiresAt.Time, nil
}
