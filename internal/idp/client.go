// Package idp talks to the Keycloak realm: discovery, the authorization code
// and refresh grants, userinfo, and JWKS based token verification.
package idp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/minwoneasy/minwon-api/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// DefaultExpiresIn is assumed when the token endpoint omits expires_in.
const DefaultExpiresIn = 300 * time.Second

var (
	ErrDiscoveryFailed = errors.New("identity provider discovery failed")
	ErrExchangeFailed  = errors.New("authorization code exchange failed")
	ErrRefreshFailed   = errors.New("refresh token grant failed")
	ErrUserInfoFailed  = errors.New("userinfo request failed")
	ErrInvalidToken    = errors.New("invalid token")
)

// Config holds what the client needs to reach the realm.
type Config struct {
	IssuerURL          string
	ClientID           string
	ClientSecret       string
	RedirectURL        string
	SigningAlg         string
	DiscoveryTimeout   time.Duration
	HTTPTimeout        time.Duration
	InsecureSkipVerify bool
}

// Client is built once at startup and shared read-only by every request.
type Client struct {
	provider       *oidc.Provider
	oauth          oauth2.Config
	accessVerifier *oidc.IDTokenVerifier
	idVerifier     *oidc.IDTokenVerifier
	httpClient     *http.Client
	endSessionURL  string
	clientID       string
	logger         *zap.Logger
}

type providerMetadata struct {
	EndSessionEndpoint string `json:"end_session_endpoint"`
}

// Discover fetches the realm's OpenID configuration. A failure here means
// the process cannot authenticate anyone and should not start.
func Discover(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	httpClient := newHTTPClient(cfg.HTTPTimeout, cfg.InsecureSkipVerify)

	discoveryCtx, cancel := context.WithTimeout(ctx, cfg.DiscoveryTimeout)
	defer cancel()

	provider, err := oidc.NewProvider(oidc.ClientContext(discoveryCtx, httpClient), cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscoveryFailed, err)
	}

	var meta providerMetadata
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscoveryFailed, err)
	}
	if meta.EndSessionEndpoint == "" {
		meta.EndSessionEndpoint = cfg.IssuerURL + "/protocol/openid-connect/logout"
	}

	algs := []string{cfg.SigningAlg}
	if cfg.SigningAlg == "" {
		algs = []string{oidc.RS256}
	}

	endpoint := provider.Endpoint()
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	c := &Client{
		provider: provider,
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
		// Access tokens are issued for several audiences, so only the
		// signature, algorithm, issuer and expiry are checked.
		accessVerifier: provider.Verifier(&oidc.Config{
			SkipClientIDCheck:    true,
			SupportedSigningAlgs: algs,
		}),
		idVerifier: provider.Verifier(&oidc.Config{
			ClientID:             cfg.ClientID,
			SupportedSigningAlgs: algs,
		}),
		httpClient:    httpClient,
		endSessionURL: meta.EndSessionEndpoint,
		clientID:      cfg.ClientID,
		logger:        logger,
	}

	logger.Info("Identity provider discovered",
		zap.String("issuer", cfg.IssuerURL),
		zap.String("token_endpoint", provider.Endpoint().TokenURL),
		zap.String("end_session_endpoint", c.endSessionURL),
	)

	return c, nil
}

func newHTTPClient(timeout time.Duration, insecure bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // legacy self-signed realm
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

func (c *Client) withHTTP(ctx context.Context) context.Context {
	return oidc.ClientContext(ctx, c.httpClient)
}

// AuthCodeURL is where an anonymous browser is sent to log in.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// Exchange redeems an authorization code.
func (c *Client) Exchange(ctx context.Context, code string) (*domain.TokenSet, error) {
	token, err := c.oauth.Exchange(c.withHTTP(ctx), code)
	if err != nil {
		c.logProviderError("code exchange", err)
		return nil, ErrExchangeFailed
	}

	set := toTokenSet(token)
	if set.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token", ErrExchangeFailed)
	}
	return set, nil
}

// Refresh runs the refresh token grant. It never retries; any non-2xx
// answer from the token endpoint is reported as ErrRefreshFailed.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*domain.TokenSet, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: empty refresh token", ErrRefreshFailed)
	}

	source := c.oauth.TokenSource(c.withHTTP(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		c.logProviderError("refresh", err)
		return nil, ErrRefreshFailed
	}

	return toTokenSet(token), nil
}

// UserInfo asks the userinfo endpoint for the caller's claims.
func (c *Client) UserInfo(ctx context.Context, accessToken string) (*domain.Claims, error) {
	info, err := c.provider.UserInfo(c.withHTTP(ctx), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	if err != nil {
		c.logger.Warn("Userinfo request failed", zap.Error(err))
		return nil, ErrUserInfoFailed
	}

	claims := &domain.Claims{}
	if err := info.Claims(claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserInfoFailed, err)
	}
	if claims.Subject == "" {
		claims.Subject = info.Subject
	}
	return claims, nil
}

// Verify checks an access or bearer token against the realm's JWKS. The key
// set re-fetches when it meets an unknown key id.
func (c *Client) Verify(ctx context.Context, raw string) (*domain.Claims, error) {
	return verify(c.withHTTP(ctx), c.accessVerifier, raw)
}

// VerifyIDToken checks an id token, including its audience.
func (c *Client) VerifyIDToken(ctx context.Context, raw string) (*domain.Claims, error) {
	return verify(c.withHTTP(ctx), c.idVerifier, raw)
}

func verify(ctx context.Context, verifier *oidc.IDTokenVerifier, raw string) (*domain.Claims, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	token, err := verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims := &domain.Claims{}
	if err := token.Claims(claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// EndSessionURL builds the realm logout redirect.
func (c *Client) EndSessionURL(idTokenHint, postLogoutRedirect string) string {
	q := url.Values{}
	q.Set("client_id", c.clientID)
	q.Set("post_logout_redirect_uri", postLogoutRedirect)
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	}
	return c.endSessionURL + "?" + q.Encode()
}

func (c *Client) logProviderError(op string, err error) {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		c.logger.Error("Identity provider rejected request",
			zap.String("op", op),
			zap.Int("status", status),
			zap.String("error_code", re.ErrorCode),
			zap.ByteString("body", re.Body),
		)
		return
	}
	c.logger.Error("Identity provider request failed", zap.String("op", op), zap.Error(err))
}

func toTokenSet(token *oauth2.Token) *domain.TokenSet {
	expiresAt := token.Expiry
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(DefaultExpiresIn)
	}

	set := &domain.TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    expiresAt,
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		set.IDToken = idToken
	}
	return set
}
