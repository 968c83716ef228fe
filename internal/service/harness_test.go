package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/sessions"
	"github.com/minwoneasy/minwon-api/internal/idp"
	"github.com/minwoneasy/minwon-api/internal/idp/idptest"
	"github.com/minwoneasy/minwon-api/internal/repository/repotest"
	"github.com/minwoneasy/minwon-api/internal/session"
	"github.com/minwoneasy/minwon-api/internal/utils"
	"github.com/minwoneasy/minwon-api/pkg/database"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testKey     = "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY="
	userInfoURL = "http://localhost:8000/api/userinfo"
	testUA      = "Mozilla/5.0 (Test)"
)

var citizen = idptest.User{
	Subject:           "0b8f5c2e-sub",
	Email:             "hong@example.kr",
	PreferredUsername: "hong",
	GivenName:         "길동",
	FamilyName:        "홍",
	Roles:             []string{"citizen"},
}

func ptr[T any](v T) *T { return &v }

func newCipher(t *testing.T) *utils.TokenCipher {
	t.Helper()
	c, err := utils.NewTokenCipher(testKey)
	require.NoError(t, err)
	return c
}

func newRedis(t *testing.T) (*database.Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return database.NewRedisFromClient(client), mr
}

// harness wires the auth services against a fake realm
type harness struct {
	provider   *idptest.Provider
	repos      *repotest.Fixture
	store      *TokenStore
	revocation *TokenBlacklistService
	redis      *miniredis.Miniredis
	manager    *SessionManager
	resolver   *Resolver
	jar        map[string]*http.Cookie
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	p := idptest.New(t)
	client, err := idp.Discover(context.Background(), idp.Config{
		IssuerURL:        p.Issuer(),
		ClientID:         idptest.ClientID,
		ClientSecret:     idptest.ClientSecret,
		RedirectURL:      "http://localhost:8000/api/callback",
		DiscoveryTimeout: 5 * time.Second,
		HTTPTimeout:      5 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)

	repos := repotest.New()
	store := NewTokenStore(repos.Tokens, newCipher(t), 30*24*time.Hour, zap.NewNop())
	rdb, mr := newRedis(t)
	revocation := NewTokenBlacklistService(rdb)

	cookies := sessions.NewCookieStore([]byte("0123456789abcdef0123456789abcdef"))
	cookies.Options = &sessions.Options{Path: "/", MaxAge: 3600, HttpOnly: true, SameSite: http.SameSiteLaxMode}

	manager := NewSessionManager(cookies, client, repos.Users, store, revocation, nil, SessionManagerConfig{
		CookieName:  "minwon_session",
		UserInfoURL: userInfoURL,
	}, zap.NewNop())
	resolver := NewResolver(manager, client, repos.Users, revocation, nil, userInfoURL, zap.NewNop())

	return &harness{
		provider:   p,
		repos:      repos,
		store:      store,
		revocation: revocation,
		redis:      mr,
		manager:    manager,
		resolver:   resolver,
		jar:        map[string]*http.Cookie{},
	}
}

// request builds a request carrying the harness cookies
func (h *harness) request(target string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("User-Agent", testUA)
	for _, c := range h.jar {
		req.AddCookie(c)
	}
	return req
}

// keep stores the cookies a response set, dropping deleted ones
func (h *harness) keep(rec *httptest.ResponseRecorder) {
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(h.jar, c.Name)
			continue
		}
		h.jar[c.Name] = c
	}
}

// login runs the full authorization code flow for u
func (h *harness) login(t *testing.T, u idptest.User) *LoginResult {
	t.Helper()

	rec := httptest.NewRecorder()
	authURL, err := h.manager.StartLogin(rec, h.request("/api/login"))
	require.NoError(t, err)
	h.keep(rec)

	rec = httptest.NewRecorder()
	result, err := h.manager.CompleteLogin(rec, h.request("/api/callback"), h.provider.IssueCode(u), queryParam(t, authURL, "state"))
	require.NoError(t, err)
	h.keep(rec)

	return result
}

// sessionData reads the session the jar currently carries
func (h *harness) sessionData(t *testing.T) (*session.Data, error) {
	t.Helper()
	return session.Load(h.manager.Session(h.request("/")))
}

// expireSession rewrites the session token so it is already past expiry
func (h *harness) expireSession(t *testing.T) {
	t.Helper()
	req := h.request("/")
	sess := h.manager.Session(req)
	data, err := session.Load(sess)
	require.NoError(t, err)

	data.Token.ExpiresAt = time.Now().Add(-time.Minute).Unix()
	session.SetToken(sess, data.Token)

	rec := httptest.NewRecorder()
	require.NoError(t, sess.Save(req, rec))
	h.keep(rec)
}

func queryParam(t *testing.T, raw, name string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Query().Get(name)
}
