package domain

import "time"

// User is the local record of a citizen authenticated by the identity provider
type User struct {
	ID         int64      `json:"user_id" db:"user_id"`
	Subject    string     `json:"keycloak_user_id" db:"keycloak_user_id"`
	Email      string     `json:"email" db:"email"`
	FamilyName string     `json:"family_name" db:"family_name"`
	GivenName  string     `json:"given_name" db:"given_name"`
	Name       string     `json:"display_name" db:"display_name"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// Identity is the normalized caller every protected route receives.
// UserID is zero for bearer callers that never logged in through the browser.
type Identity struct {
	UserID     int64    `json:"user_id"`
	Username   string   `json:"username"`
	Email      string   `json:"email"`
	Name       string   `json:"name"`
	FamilyName string   `json:"family_name"`
	GivenName  string   `json:"given_name"`
	Roles      []string `json:"roles"`
}

// HasRole reports whether the identity carries a realm role
func (i Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}
