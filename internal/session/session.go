// Package session holds the typed contents of the browser session and a
// Redis backed gorilla/sessions store.
//
// An authenticated session carries exactly two keys, "user" and "token".
// Both are present or both are absent; anything else is rejected by Load.
// While a login is in flight only "next" and "oauth_state" exist.
package session

import (
	"encoding/gob"
	"errors"
	"sort"
	"time"

	"github.com/gorilla/sessions"
)

const (
	keyUser  = "user"
	keyToken = "token"
	keyNext  = "next"
	keyState = "oauth_state"
)

var (
	// ErrNotAuthenticated means neither canonical key is present
	ErrNotAuthenticated = errors.New("session is not authenticated")

	// ErrPartialSession means only one canonical key is present or a value has the wrong type
	ErrPartialSession = errors.New("session is partially populated")
)

// User is the denormalized identity copied into the session at login.
type User struct {
	UserID     int64
	Username   string
	Email      string
	Name       string
	FamilyName string
	GivenName  string
}

// Token is the short-lived access token. The refresh token never enters the session.
type Token struct {
	AccessToken string
	ExpiresAt   int64
}

// Expired reports whether the access token expiry has passed.
func (t Token) Expired(now time.Time) bool {
	return now.Unix() >= t.ExpiresAt
}

// Data is an authenticated session.
type Data struct {
	User  User
	Token Token
}

func init() {
	gob.Register(User{})
	gob.Register(Token{})
}

// Load validates and returns the authenticated contents of s.
func Load(s *sessions.Session) (*Data, error) {
	rawUser, hasUser := s.Values[keyUser]
	rawToken, hasToken := s.Values[keyToken]

	switch {
	case !hasUser && !hasToken:
		return nil, ErrNotAuthenticated
	case hasUser != hasToken:
		return nil, ErrPartialSession
	}

	user, ok := rawUser.(User)
	if !ok {
		return nil, ErrPartialSession
	}
	token, ok := rawToken.(Token)
	if !ok || token.AccessToken == "" {
		return nil, ErrPartialSession
	}

	return &Data{User: user, Token: token}, nil
}

// Store replaces everything in s with exactly the two canonical keys.
func Store(s *sessions.Session, d Data) {
	Reset(s)
	s.Values[keyUser] = d.User
	s.Values[keyToken] = d.Token
}

// SetToken overwrites the token key after a refresh.
func SetToken(s *sessions.Session, t Token) {
	s.Values[keyToken] = t
}

// SetLoginIntent records where to go after the callback and the expected state.
func SetLoginIntent(s *sessions.Session, next, state string) {
	Reset(s)
	s.Values[keyNext] = next
	s.Values[keyState] = state
}

// LoginIntent returns what SetLoginIntent stored.
func LoginIntent(s *sessions.Session) (next, state string) {
	next, _ = s.Values[keyNext].(string)
	state, _ = s.Values[keyState].(string)
	return next, state
}

// Reset removes every value but keeps the session alive.
func Reset(s *sessions.Session) {
	for k := range s.Values {
		delete(s.Values, k)
	}
}

// Destroy removes every value and expires the cookie on the next save.
func Destroy(s *sessions.Session) {
	Reset(s)
	opts := sessions.Options{MaxAge: -1, Path: "/"}
	if s.Options != nil {
		opts = *s.Options
		opts.MaxAge = -1
	}
	s.Options = &opts
}

// Keys lists the string keys present, sorted.
func Keys(s *sessions.Session) []string {
	keys := make([]string, 0, len(s.Values))
	for k := range s.Values {
		if name, ok := k.(string); ok {
			keys = append(keys, name)
		}
	}
	sort.Strings(keys)
	return keys
}

// Has reports which canonical keys are present, whatever their values.
func Has(s *sessions.Session) (user, token bool) {
	_, user = s.Values[keyUser]
	_, token = s.Values[keyToken]
	return user, token
}
