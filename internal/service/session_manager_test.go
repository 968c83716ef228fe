package service

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/minwoneasy/minwon-api/internal/idp"
	"github.com/minwoneasy/minwon-api/internal/session"
	"github.com/minwoneasy/minwon-api/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearedCookie(rec *httptest.ResponseRecorder, name string) bool {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name && c.MaxAge < 0 {
			return true
		}
	}
	return false
}

func TestStartLoginRecordsIntent(t *testing.T) {
	h := newHarness(t)

	rec := httptest.NewRecorder()
	authURL, err := h.manager.StartLogin(rec, h.request("/api/login?next=https://evil.example"))
	require.NoError(t, err)
	h.keep(rec)

	state := queryParam(t, authURL, "state")
	assert.NotEmpty(t, state)

	sess := h.manager.Session(h.request("/"))
	next, stored := session.LoginIntent(sess)
	assert.Equal(t, userInfoURL, next)
	assert.Equal(t, state, stored)
	assert.Equal(t, []string{"next", "oauth_state"}, session.Keys(sess))
}

func TestStartLoginClearsExistingSession(t *testing.T) {
	h := newHarness(t)
	h.login(t, citizen)

	rec := httptest.NewRecorder()
	_, err := h.manager.StartLogin(rec, h.request("/api/login"))
	require.NoError(t, err)
	h.keep(rec)

	_, err = h.sessionData(t)
	assert.ErrorIs(t, err, session.ErrNotAuthenticated)
}

func TestCompleteLogin(t *testing.T) {
	h := newHarness(t)

	result := h.login(t, citizen)
	assert.Equal(t, userInfoURL, result.Next)
	assert.NotEmpty(t, result.IDToken)

	require.Equal(t, 1, h.repos.Users.Count())
	user, err := h.repos.Users.GetBySubject(context.Background(), citizen.Subject)
	require.NoError(t, err)
	assert.Equal(t, "홍길동", user.Name)

	data, err := h.sessionData(t)
	require.NoError(t, err)
	assert.Equal(t, session.User{
		UserID:     user.ID,
		Username:   "hong",
		Email:      "hong@example.kr",
		Name:       "홍길동",
		FamilyName: "홍",
		GivenName:  "길동",
	}, data.User)
	assert.NotEmpty(t, data.Token.AccessToken)
	assert.InDelta(t, time.Now().Add(5*time.Minute).Unix(), data.Token.ExpiresAt, 10)

	token, ok, err := h.store.Get(context.Background(), user.ID, utils.DeviceFingerprint(testUA))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, token)
}

func TestCompleteLoginTwiceKeepsOneUserAndOneToken(t *testing.T) {
	h := newHarness(t)

	h.login(t, citizen)
	h.login(t, citizen)

	assert.Equal(t, 1, h.repos.Users.Count())
	assert.Equal(t, 1, h.repos.Tokens.Len())
	assert.Equal(t, 2, h.repos.Tokens.Replaces())
}

func TestCompleteLoginFallsBackToUserInfo(t *testing.T) {
	h := newHarness(t)
	h.provider.OmitIDToken = true

	result := h.login(t, citizen)
	assert.Empty(t, result.IDToken)

	data, err := h.sessionData(t)
	require.NoError(t, err)
	assert.Equal(t, "hong@example.kr", data.User.Email)
}

func TestCompleteLoginRejectsStateMismatch(t *testing.T) {
	h := newHarness(t)

	rec := httptest.NewRecorder()
	_, err := h.manager.StartLogin(rec, h.request("/api/login"))
	require.NoError(t, err)
	h.keep(rec)

	rec = httptest.NewRecorder()
	_, err = h.manager.CompleteLogin(rec, h.request("/api/callback"), h.provider.IssueCode(citizen), "forged")
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.True(t, clearedCookie(rec, "minwon_session"))
	assert.Equal(t, 0, h.repos.Users.Count())
}

func TestCompleteLoginWithoutStartedLogin(t *testing.T) {
	h := newHarness(t)

	rec := httptest.NewRecorder()
	_, err := h.manager.CompleteLogin(rec, h.request("/api/callback"), h.provider.IssueCode(citizen), "")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCompleteLoginExchangeFailure(t *testing.T) {
	h := newHarness(t)

	rec := httptest.NewRecorder()
	authURL, err := h.manager.StartLogin(rec, h.request("/api/login"))
	require.NoError(t, err)
	h.keep(rec)

	rec = httptest.NewRecorder()
	_, err = h.manager.CompleteLogin(rec, h.request("/api/callback"), "bogus", queryParam(t, authURL, "state"))
	assert.ErrorIs(t, err, idp.ErrExchangeFailed)
	assert.True(t, clearedCookie(rec, "minwon_session"))
}

func TestCompleteLoginProvisioningFailure(t *testing.T) {
	h := newHarness(t)
	h.repos.Users.CreateErr = errors.New("connection reset")

	rec := httptest.NewRecorder()
	authURL, err := h.manager.StartLogin(rec, h.request("/api/login"))
	require.NoError(t, err)
	h.keep(rec)

	rec = httptest.NewRecorder()
	_, err = h.manager.CompleteLogin(rec, h.request("/api/callback"), h.provider.IssueCode(citizen), queryParam(t, authURL, "state"))
	assert.Error(t, err)
	assert.Equal(t, 0, h.repos.Tokens.Len())
}

func refresh(t *testing.T, h *harness) (*session.Data, *httptest.ResponseRecorder, error) {
	t.Helper()
	req := h.request("/api/userinfo")
	sess := h.manager.Session(req)
	data, err := session.Load(sess)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	refreshed, err := h.manager.Refresh(rec, req, sess, data)
	h.keep(rec)
	return refreshed, rec, err
}

func TestRefreshKeepsUnrotatedToken(t *testing.T) {
	h := newHarness(t)
	h.login(t, citizen)
	h.expireSession(t)

	refreshed, _, err := refresh(t, h)
	require.NoError(t, err)
	assert.Greater(t, refreshed.Token.ExpiresAt, time.Now().Unix())
	assert.Equal(t, 1, h.provider.RefreshCalls())
	assert.Equal(t, 1, h.repos.Tokens.Replaces(), "an unrotated refresh token is not rewritten")

	data, err := h.sessionData(t)
	require.NoError(t, err)
	assert.Equal(t, refreshed.Token, data.Token)
}

func TestRefreshPersistsRotatedToken(t *testing.T) {
	h := newHarness(t)
	h.login(t, citizen)
	h.expireSession(t)

	user, err := h.repos.Users.GetBySubject(context.Background(), citizen.Subject)
	require.NoError(t, err)
	fingerprint := utils.DeviceFingerprint(testUA)
	before, _, err := h.store.Get(context.Background(), user.ID, fingerprint)
	require.NoError(t, err)

	h.provider.RotateRefresh = true
	_, _, err = refresh(t, h)
	require.NoError(t, err)

	after, ok, err := h.store.Get(context.Background(), user.ID, fingerprint)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, before, after)
	assert.Equal(t, 1, h.repos.Tokens.Len())
}

func TestRefreshFailureClearsSession(t *testing.T) {
	h := newHarness(t)
	h.login(t, citizen)
	h.expireSession(t)
	h.provider.FailRefresh = true

	_, rec, err := refresh(t, h)
	assert.ErrorIs(t, err, ErrReauthRequired)
	assert.True(t, clearedCookie(rec, "minwon_session"))

	_, err = h.sessionData(t)
	assert.ErrorIs(t, err, session.ErrNotAuthenticated)
}

func TestRefreshWithoutStoredToken(t *testing.T) {
	h := newHarness(t)
	h.login(t, citizen)
	h.expireSession(t)

	user, err := h.repos.Users.GetBySubject(context.Background(), citizen.Subject)
	require.NoError(t, err)
	h.store.Delete(context.Background(), user.ID, utils.DeviceFingerprint(testUA))

	_, _, err = refresh(t, h)
	assert.ErrorIs(t, err, ErrReauthRequired)
	assert.Equal(t, 0, h.provider.RefreshCalls())
}

func TestRefreshFromAnotherDevice(t *testing.T) {
	h := newHarness(t)
	h.login(t, citizen)
	h.expireSession(t)

	req := h.request("/api/userinfo")
	req.Header.Set("User-Agent", "curl/8.0")
	sess := h.manager.Session(req)
	data, err := session.Load(sess)
	require.NoError(t, err)

	_, err = h.manager.Refresh(httptest.NewRecorder(), req, sess, data)
	assert.ErrorIs(t, err, ErrReauthRequired)
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	h.login(t, citizen)

	data, err := h.sessionData(t)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.manager.Logout(rec, h.request("/api/logout"))
	assert.True(t, clearedCookie(rec, "minwon_session"))
	h.keep(rec)

	assert.Equal(t, 0, h.repos.Tokens.Len())

	revoked, err := h.revocation.IsTokenBlacklisted(context.Background(), data.Token.AccessToken)
	require.NoError(t, err)
	assert.True(t, revoked)

	_, err = h.sessionData(t)
	assert.ErrorIs(t, err, session.ErrNotAuthenticated)
}

func TestLogoutSurvivesStorageFailure(t *testing.T) {
	h := newHarness(t)
	h.login(t, citizen)
	h.repos.Tokens.Fail = errors.New("connection refused")
	h.redis.SetError("READONLY")

	rec := httptest.NewRecorder()
	h.manager.Logout(rec, h.request("/api/logout"))
	assert.True(t, clearedCookie(rec, "minwon_session"))
}

func TestLogoutWithoutSession(t *testing.T) {
	h := newHarness(t)

	rec := httptest.NewRecorder()
	h.manager.Logout(rec, h.request("/api/logout"))
	assert.True(t, clearedCookie(rec, "minwon_session"))
}
