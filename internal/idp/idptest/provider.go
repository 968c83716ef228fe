// Package idptest runs an in-process OpenID provider that behaves like a
// Keycloak realm closely enough for login, refresh and bearer tests.
package idptest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/minwoneasy/minwon-api/internal/domain"
)

const (
	ClientID     = "minwon-api"
	ClientSecret = "minwon-secret"
)

// User is a realm account.
type User struct {
	Subject           string
	Email             string
	PreferredUsername string
	GivenName         string
	FamilyName        string
	Roles             []string
}

type Provider struct {
	Server *httptest.Server

	// AccessTTL is the lifetime announced in expires_in.
	AccessTTL time.Duration
	// RotateRefresh makes the refresh grant return a new refresh token.
	RotateRefresh bool
	// FailRefresh makes every refresh grant answer invalid_grant.
	FailRefresh bool
	// OmitIDToken drops id_token from token responses.
	OmitIDToken bool
	// OmitExpiresIn drops expires_in from token responses.
	OmitExpiresIn bool

	mu           sync.Mutex
	key          *rsa.PrivateKey
	kid          string
	codes        map[string]User
	refresh      map[string]User
	refreshCalls int
	jwksCalls    int
}

// New starts a provider and stops it when the test ends.
func New(t testing.TB) *Provider {
	t.Helper()

	p := &Provider{
		AccessTTL: 5 * time.Minute,
		codes:     map[string]User{},
		refresh:   map[string]User{},
	}
	p.rotateKey(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", p.discovery)
	mux.HandleFunc("/protocol/openid-connect/certs", p.jwks)
	mux.HandleFunc("/protocol/openid-connect/token", p.token)
	mux.HandleFunc("/protocol/openid-connect/userinfo", p.userinfo)

	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Server.Close)

	return p
}

// Issuer is the realm issuer URL.
func (p *Provider) Issuer() string {
	return p.Server.URL
}

// RotateKey replaces the signing key and key id.
func (p *Provider) RotateKey(t testing.TB) {
	t.Helper()
	p.rotateKey(t)
}

func (p *Provider) rotateKey(t testing.TB) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate rsa key: %v", err)
	}

	p.mu.Lock()
	p.key = key
	p.kid = uuid.NewString()
	p.mu.Unlock()
}

// IssueCode registers a one-time authorization code for u.
func (p *Provider) IssueCode(u User) string {
	code := uuid.NewString()
	p.mu.Lock()
	p.codes[code] = u
	p.mu.Unlock()
	return code
}

// IssueRefreshToken registers a refresh token for u.
func (p *Provider) IssueRefreshToken(u User) string {
	token := "rt-" + uuid.NewString()
	p.mu.Lock()
	p.refresh[token] = u
	p.mu.Unlock()
	return token
}

// AccessToken signs an access token for u that expires after ttl.
func (p *Provider) AccessToken(t testing.TB, u User, ttl time.Duration) string {
	t.Helper()
	raw, err := p.sign(p.claims(u, "account", ttl))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return raw
}

// ForeignToken signs a well-formed token with a key the realm never published.
func (p *Provider) ForeignToken(t testing.TB, u User) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate rsa key: %v", err)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, p.claims(u, "account", time.Minute))
	token.Header["kid"] = "unknown-kid"
	raw, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return raw
}

// RefreshCalls counts refresh grants received.
func (p *Provider) RefreshCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshCalls
}

// JWKSCalls counts key set downloads.
func (p *Provider) JWKSCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jwksCalls
}

func (p *Provider) claims(u User, audience string, ttl time.Duration) *domain.Claims {
	now := time.Now()
	return &domain.Claims{
		Email:             u.Email,
		PreferredUsername: u.PreferredUsername,
		GivenName:         u.GivenName,
		FamilyName:        u.FamilyName,
		RealmAccess:       domain.RealmAccess{Roles: u.Roles},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.Issuer(),
			Subject:   u.Subject,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
}

func (p *Provider) sign(claims *domain.Claims) (string, error) {
	p.mu.Lock()
	key, kid := p.key, p.kid
	p.mu.Unlock()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	return token.SignedString(key)
}

func (p *Provider) discovery(w http.ResponseWriter, _ *http.Request) {
	base := p.Issuer() + "/protocol/openid-connect"
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                p.Issuer(),
		"authorization_endpoint":                base + "/auth",
		"token_endpoint":                        base + "/token",
		"userinfo_endpoint":                     base + "/userinfo",
		"jwks_uri":                              base + "/certs",
		"end_session_endpoint":                  base + "/logout",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (p *Provider) jwks(w http.ResponseWriter, _ *http.Request) {
	p.mu.Lock()
	p.jwksCalls++
	pub, kid := p.key.PublicKey, p.kid
	p.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"use": "sig",
			"alg": "RS256",
			"kid": kid,
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

func (p *Provider) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	clientID, secret, ok := r.BasicAuth()
	if !ok {
		clientID, secret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
	}
	if clientID != ClientID || secret != ClientSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}

	var (
		user  User
		found bool
	)

	p.mu.Lock()
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		code := r.PostForm.Get("code")
		user, found = p.codes[code]
		delete(p.codes, code)
	case "refresh_token":
		p.refreshCalls++
		rt := r.PostForm.Get("refresh_token")
		user, found = p.refresh[rt]
		if p.FailRefresh {
			found = false
		}
		if found && p.RotateRefresh {
			delete(p.refresh, rt)
		}
	}
	p.mu.Unlock()

	if !found {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_grant",
			"error_description": "Token is not active",
		})
		return
	}

	access, err := p.sign(p.claims(user, "account", p.AccessTTL))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
		return
	}

	resp := map[string]any{
		"access_token": access,
		"token_type":   "Bearer",
		"scope":        "openid email profile",
	}
	if !p.OmitExpiresIn {
		resp["expires_in"] = int(p.AccessTTL.Seconds())
	}

	if r.PostForm.Get("grant_type") == "authorization_code" || p.RotateRefresh {
		resp["refresh_token"] = p.IssueRefreshToken(user)
	}

	if !p.OmitIDToken {
		idToken, err := p.sign(p.claims(user, ClientID, time.Hour))
		if err == nil {
			resp["id_token"] = idToken
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (p *Provider) userinfo(w http.ResponseWriter, r *http.Request) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	p.mu.Lock()
	pub := &p.key.PublicKey
	p.mu.Unlock()

	claims := &domain.Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return pub, nil },
		jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sub":                claims.Subject,
		"email":              claims.Email,
		"preferred_username": claims.PreferredUsername,
		"given_name":         claims.GivenName,
		"family_name":        claims.FamilyName,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
