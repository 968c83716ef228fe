package service

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/minwoneasy/minwon-api/internal/domain"
	"github.com/minwoneasy/minwon-api/internal/repository"
	"github.com/minwoneasy/minwon-api/internal/session"
	"github.com/minwoneasy/minwon-api/internal/utils"
	"github.com/minwoneasy/minwon-api/pkg/observability"
	"go.uber.org/zap"
)

var (
	// ErrReauthRequired means the session was cleared and the browser must log in again
	ErrReauthRequired = errors.New("re-authentication required")

	// ErrInvalidState means the callback state does not match the one issued at login
	ErrInvalidState = errors.New("invalid oauth state")

	// ErrMissingSubject means the provider returned claims without a subject
	ErrMissingSubject = errors.New("identity has no subject")
)

// SessionManagerConfig holds the session manager settings
type SessionManagerConfig struct {
	CookieName string
	// UserInfoURL is where a fresh login lands
	UserInfoURL string
}

// SessionManager drives the browser session through login, refresh and logout
type SessionManager struct {
	store      sessions.Store
	idp        IdentityProvider
	users      repository.UserRepository
	tokens     *TokenStore
	revocation RevocationList
	metrics    *observability.AuthMetrics
	cfg        SessionManagerConfig
	logger     *zap.Logger
	now        func() time.Time
}

// NewSessionManager creates a new session manager
func NewSessionManager(
	store sessions.Store,
	idp IdentityProvider,
	users repository.UserRepository,
	tokens *TokenStore,
	revocation RevocationList,
	metrics *observability.AuthMetrics,
	cfg SessionManagerConfig,
	logger *zap.Logger,
) *SessionManager {
	return &SessionManager{
		store:      store,
		idp:        idp,
		users:      users,
		tokens:     tokens,
		revocation: revocation,
		metrics:    metrics,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// LoginResult is what the callback handler needs to finish the redirect
type LoginResult struct {
	Next    string
	IDToken string
}

// Session returns the request's session. An unreadable cookie yields a fresh session.
func (m *SessionManager) Session(r *http.Request) *sessions.Session {
	sess, err := m.store.Get(r, m.cfg.CookieName)
	if err != nil {
		m.logger.Warn("Session could not be loaded", zap.Error(err))
	}
	return sess
}

// StartLogin resets the session, records the login intent and returns the
// provider authorization URL.
func (m *SessionManager) StartLogin(w http.ResponseWriter, r *http.Request) (string, error) {
	sess := m.Session(r)

	state, err := newState()
	if err != nil {
		return "", err
	}

	session.SetLoginIntent(sess, m.cfg.UserInfoURL, state)
	if err := sess.Save(r, w); err != nil {
		return "", fmt.Errorf("failed to save session: %w", err)
	}

	return m.idp.AuthCodeURL(state), nil
}

// CompleteLogin finishes the authorization code flow. On any error the
// session is destroyed.
func (m *SessionManager) CompleteLogin(w http.ResponseWriter, r *http.Request, code, state string) (*LoginResult, error) {
	sess := m.Session(r)

	result, err := m.completeLogin(r.Context(), sess, r.UserAgent(), code, state)
	if err != nil {
		m.metrics.Login(r.Context(), "failure")
		m.destroy(w, r, sess)
		return nil, err
	}

	if err := sess.Save(r, w); err != nil {
		m.metrics.Login(r.Context(), "failure")
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	m.metrics.Login(r.Context(), "success")
	return result, nil
}

func (m *SessionManager) completeLogin(ctx context.Context, sess *sessions.Session, userAgent, code, state string) (*LoginResult, error) {
	next, expected := session.LoginIntent(sess)
	if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(state)) != 1 {
		return nil, ErrInvalidState
	}
	if next == "" {
		next = m.cfg.UserInfoURL
	}

	set, err := m.idp.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	claims, err := m.loginClaims(ctx, set)
	if err != nil {
		return nil, err
	}

	user, err := m.provision(ctx, claims)
	if err != nil {
		return nil, err
	}

	if set.RefreshToken != "" {
		if err := m.tokens.Save(ctx, user.ID, set.RefreshToken, utils.DeviceFingerprint(userAgent)); err != nil {
			return nil, err
		}
	}

	session.Store(sess, session.Data{
		User: session.User{
			UserID:     user.ID,
			Username:   utils.FirstNonEmpty(claims.PreferredUsername, claims.Email, claims.Subject),
			Email:      user.Email,
			Name:       user.Name,
			FamilyName: user.FamilyName,
			GivenName:  user.GivenName,
		},
		Token: session.Token{
			AccessToken: set.AccessToken,
			ExpiresAt:   set.ExpiresAt.Unix(),
		},
	})

	m.logger.Info("User logged in", zap.Int64("user_id", user.ID))

	return &LoginResult{Next: next, IDToken: set.IDToken}, nil
}

// loginClaims prefers the verified id token and falls back to userinfo
func (m *SessionManager) loginClaims(ctx context.Context, set *domain.TokenSet) (*domain.Claims, error) {
	var (
		claims *domain.Claims
		err    error
	)
	if set.IDToken != "" {
		claims, err = m.idp.VerifyIDToken(ctx, set.IDToken)
	} else {
		claims, err = m.idp.UserInfo(ctx, set.AccessToken)
	}
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	return claims, nil
}

// provision returns the local user for the subject, creating it on first login
func (m *SessionManager) provision(ctx context.Context, claims *domain.Claims) (*domain.User, error) {
	user, err := m.users.GetBySubject(ctx, claims.Subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	user = &domain.User{
		Subject:    claims.Subject,
		Email:      utils.SanitizeEmail(utils.FirstNonEmpty(claims.Email, claims.PreferredUsername, claims.Subject)),
		FamilyName: claims.FamilyName,
		GivenName:  claims.GivenName,
		Name:       utils.DisplayName(claims.FamilyName, claims.GivenName),
	}
	if !utils.ValidateEmail(user.Email) {
		m.logger.Warn("Provisioning user without a valid email address", zap.String("subject", claims.Subject))
	}

	if err := m.users.Create(ctx, user); err != nil {
		if !errors.Is(err, repository.ErrDuplicateUser) {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		// a concurrent first login won the insert
		existing, getErr := m.users.GetBySubject(ctx, claims.Subject)
		if getErr != nil {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		return existing, nil
	}

	m.logger.Info("User provisioned", zap.Int64("user_id", user.ID))
	return user, nil
}

// Refresh trades the stored refresh token for a new access token. Any
// failure destroys the session and returns ErrReauthRequired.
func (m *SessionManager) Refresh(w http.ResponseWriter, r *http.Request, sess *sessions.Session, data *session.Data) (*session.Data, error) {
	ctx := r.Context()

	fail := func(reason string, err error) (*session.Data, error) {
		fields := []zap.Field{zap.String("reason", reason), zap.String("email", data.User.Email)}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		m.logger.Warn("Session refresh failed", fields...)
		m.metrics.Refresh(ctx, "failure")
		m.destroy(w, r, sess)
		return nil, ErrReauthRequired
	}

	user, err := m.users.GetByEmail(ctx, data.User.Email)
	if err != nil {
		return fail("user lookup", err)
	}

	fingerprint := utils.DeviceFingerprint(r.UserAgent())
	refreshToken, ok, err := m.tokens.Get(ctx, user.ID, fingerprint)
	if err != nil {
		return fail("token lookup", err)
	}
	if !ok {
		return fail("no stored refresh token", nil)
	}

	set, err := m.idp.Refresh(ctx, refreshToken)
	if err != nil {
		return fail("refresh grant", err)
	}

	if set.RefreshToken != "" && set.RefreshToken != refreshToken {
		if err := m.tokens.Save(ctx, user.ID, set.RefreshToken, fingerprint); err != nil {
			return fail("token save", err)
		}
	}

	refreshed := &session.Data{
		User: data.User,
		Token: session.Token{
			AccessToken: set.AccessToken,
			ExpiresAt:   set.ExpiresAt.Unix(),
		},
	}
	session.SetToken(sess, refreshed.Token)
	if err := sess.Save(r, w); err != nil {
		return fail("session save", err)
	}

	m.metrics.Refresh(ctx, "success")
	return refreshed, nil
}

// Logout forgets the device's refresh token, revokes the access token and
// destroys the session. Failures along the way are logged only.
func (m *SessionManager) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := m.Session(r)

	if data, err := session.Load(sess); err == nil {
		if user, err := m.users.GetByEmail(ctx, data.User.Email); err == nil {
			m.tokens.Delete(ctx, user.ID, utils.DeviceFingerprint(r.UserAgent()))
		} else {
			m.logger.Warn("Logout user lookup failed", zap.Error(err))
		}
		m.revoke(ctx, data.Token)
	}

	m.destroy(w, r, sess)
}

// EndSessionURL is the provider logout redirect
func (m *SessionManager) EndSessionURL(idTokenHint, postLogoutRedirect string) string {
	return m.idp.EndSessionURL(idTokenHint, postLogoutRedirect)
}

func (m *SessionManager) revoke(ctx context.Context, token session.Token) {
	if m.revocation == nil {
		return
	}

	expiresAt, err := utils.TokenExpiry(token.AccessToken)
	if err != nil {
		expiresAt = time.Unix(token.ExpiresAt, 0)
	}

	if err := m.revocation.AddToken(ctx, token.AccessToken, expiresAt.Sub(m.now())); err != nil {
		m.logger.Warn("Failed to revoke access token", zap.Error(err))
	}
}

func (m *SessionManager) destroy(w http.ResponseWriter, r *http.Request, sess *sessions.Session) {
	session.Destroy(sess)
	if err := sess.Save(r, w); err != nil {
		m.logger.Error("Failed to clear session", zap.Error(err))
	}
}

func newState() (string, error) {
	key := securecookie.GenerateRandomKey(32)
	if key == nil {
		return "", errors.New("failed to generate oauth state")
	}
	return base64.RawURLEncoding.EncodeToString(key), nil
}
