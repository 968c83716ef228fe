package domain

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RefreshToken is one encrypted refresh token per (user, device)
type RefreshToken struct {
	ID             int64     `json:"token_id" db:"token_id"`
	UserID         int64     `json:"user_id" db:"user_id"`
	EncryptedToken string    `json:"-" db:"refresh_token_encrypted"`
	ExpiresAt      time.Time `json:"expires_at" db:"expires_at"`
	DeviceInfo     string    `json:"device_info" db:"device_info"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// RealmAccess is the Keycloak realm_access claim
type RealmAccess struct {
	Roles []string `json:"roles"`
}

// Claims are the access and id token claims the service reads
type Claims struct {
	Email             string      `json:"email,omitempty"`
	PreferredUsername string      `json:"preferred_username,omitempty"`
	GivenName         string      `json:"given_name,omitempty"`
	FamilyName        string      `json:"family_name,omitempty"`
	RealmAccess       RealmAccess `json:"realm_access,omitempty"`
	jwt.RegisteredClaims
}

// Roles returns the realm roles, never nil
func (c Claims) Roles() []string {
	if c.RealmAccess.Roles == nil {
		return []string{}
	}
	return c.RealmAccess.Roles
}

// TokenSet is what the token endpoint returns for both grants
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	ExpiresAt    time.Time
}
