package idp_test

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/minwoneasy/minwon-api/internal/idp"
	"github.com/minwoneasy/minwon-api/internal/idp/idptest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var citizen = idptest.User{
	Subject:           "0b8f5c2e-sub",
	Email:             "hong@example.kr",
	PreferredUsername: "hong",
	GivenName:         "길동",
	FamilyName:        "홍",
	Roles:             []string{"citizen"},
}

func discover(t *testing.T, p *idptest.Provider) *idp.Client {
	t.Helper()
	client, err := idp.Discover(context.Background(), idp.Config{
		IssuerURL:        p.Issuer(),
		ClientID:         idptest.ClientID,
		ClientSecret:     idptest.ClientSecret,
		RedirectURL:      "http://localhost:8000/api/callback",
		SigningAlg:       "RS256",
		DiscoveryTimeout: 5 * time.Second,
		HTTPTimeout:      5 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)
	return client
}

func TestDiscoverFailsWhenProviderIsDown(t *testing.T) {
	_, err := idp.Discover(context.Background(), idp.Config{
		IssuerURL:        "http://127.0.0.1:1/realms/minwon",
		ClientID:         "x",
		DiscoveryTimeout: time.Second,
		HTTPTimeout:      time.Second,
	}, zap.NewNop())
	assert.ErrorIs(t, err, idp.ErrDiscoveryFailed)
}

func TestAuthCodeURL(t *testing.T) {
	p := idptest.New(t)
	client := discover(t, p)

	raw := client.AuthCodeURL("state-123")
	u, err := url.Parse(raw)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(raw, p.Issuer()+"/protocol/openid-connect/auth"))
	assert.Equal(t, "state-123", u.Query().Get("state"))
	assert.Equal(t, "code", u.Query().Get("response_type"))
	assert.Equal(t, "openid email profile", u.Query().Get("scope"))
	assert.Equal(t, "http://localhost:8000/api/callback", u.Query().Get("redirect_uri"))
}

func TestExchange(t *testing.T) {
	p := idptest.New(t)
	client := discover(t, p)

	set, err := client.Exchange(context.Background(), p.IssueCode(citizen))
	require.NoError(t, err)

	assert.NotEmpty(t, set.AccessToken)
	assert.NotEmpty(t, set.RefreshToken)
	assert.NotEmpty(t, set.IDToken)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), set.ExpiresAt, 10*time.Second)

	claims, err := client.VerifyIDToken(context.Background(), set.IDToken)
	require.NoError(t, err)
	assert.Equal(t, citizen.Subject, claims.Subject)
	assert.Equal(t, citizen.Email, claims.Email)
}

func TestExchangeDefaultsExpiry(t *testing.T) {
	p := idptest.New(t)
	p.OmitExpiresIn = true
	client := discover(t, p)

	set, err := client.Exchange(context.Background(), p.IssueCode(citizen))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(idp.DefaultExpiresIn), set.ExpiresAt, 10*time.Second)
}

func TestExchangeUnknownCode(t *testing.T) {
	p := idptest.New(t)
	client := discover(t, p)

	_, err := client.Exchange(context.Background(), "bogus")
	assert.ErrorIs(t, err, idp.ErrExchangeFailed)
}

func TestRefresh(t *testing.T) {
	p := idptest.New(t)
	client := discover(t, p)
	rt := p.IssueRefreshToken(citizen)

	set, err := client.Refresh(context.Background(), rt)
	require.NoError(t, err)
	assert.NotEmpty(t, set.AccessToken)
	assert.Equal(t, rt, set.RefreshToken, "refresh token is kept when the provider does not rotate")

	p.RotateRefresh = true
	rotated, err := client.Refresh(context.Background(), rt)
	require.NoError(t, err)
	assert.NotEqual(t, rt, rotated.RefreshToken)
}

func TestRefreshRejected(t *testing.T) {
	p := idptest.New(t)
	client := discover(t, p)

	_, err := client.Refresh(context.Background(), "rt-unknown")
	assert.ErrorIs(t, err, idp.ErrRefreshFailed)

	_, err = client.Refresh(context.Background(), "")
	assert.ErrorIs(t, err, idp.ErrRefreshFailed)

	p.FailRefresh = true
	_, err = client.Refresh(context.Background(), p.IssueRefreshToken(citizen))
	assert.ErrorIs(t, err, idp.ErrRefreshFailed)
	assert.Equal(t, 2, p.RefreshCalls())
}

func TestVerify(t *testing.T) {
	p := idptest.New(t)
	client := discover(t, p)

	claims, err := client.Verify(context.Background(), p.AccessToken(t, citizen, time.Minute))
	require.NoError(t, err)
	assert.Equal(t, citizen.Subject, claims.Subject)
	assert.Equal(t, []string{"citizen"}, claims.Roles())
	assert.Equal(t, "hong", claims.PreferredUsername)
}

func TestVerifyRejects(t *testing.T) {
	p := idptest.New(t)
	client := discover(t, p)
	ctx := context.Background()

	cases := map[string]string{
		"expired":       p.AccessToken(t, citizen, -time.Minute),
		"malformed":     "not.a.jwt",
		"empty":         "",
		"unknown kid":   p.ForeignToken(t, citizen),
		"tampered body": tamper(p.AccessToken(t, citizen, time.Minute)),
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := client.Verify(ctx, raw)
			assert.ErrorIs(t, err, idp.ErrInvalidToken)
		})
	}
}

func TestVerifyAfterKeyRotation(t *testing.T) {
	p := idptest.New(t)
	client := discover(t, p)
	ctx := context.Background()

	_, err := client.Verify(ctx, p.AccessToken(t, citizen, time.Minute))
	require.NoError(t, err)
	before := p.JWKSCalls()

	p.RotateKey(t)
	_, err = client.Verify(ctx, p.AccessToken(t, citizen, time.Minute))
	require.NoError(t, err)
	assert.Greater(t, p.JWKSCalls(), before)
}

func TestUserInfo(t *testing.T) {
	p := idptest.New(t)
	client := discover(t, p)

	claims, err := client.UserInfo(context.Background(), p.AccessToken(t, citizen, time.Minute))
	require.NoError(t, err)
	assert.Equal(t, citizen.Subject, claims.Subject)
	assert.Equal(t, citizen.Email, claims.Email)

	_, err = client.UserInfo(context.Background(), "garbage")
	assert.ErrorIs(t, err, idp.ErrUserInfoFailed)
}

func TestEndSessionURL(t *testing.T) {
	p := idptest.New(t)
	client := discover(t, p)

	u, err := url.Parse(client.EndSessionURL("id-token", "http://localhost:8000/api/logged-out"))
	require.NoError(t, err)

	assert.Equal(t, "/protocol/openid-connect/logout", u.Path)
	assert.Equal(t, "id-token", u.Query().Get("id_token_hint"))
	assert.Equal(t, "http://localhost:8000/api/logged-out", u.Query().Get("post_logout_redirect_uri"))
	assert.Equal(t, idptest.ClientID, u.Query().Get("client_id"))
}

func tamper(raw string) string {
	parts := strings.Split(raw, ".")
	parts[1] = parts[1][:len(parts[1])-2] + "AA"
	return strings.Join(parts, ".")
}
