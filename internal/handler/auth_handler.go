package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/minwoneasy/minwon-api/internal/dto"
	"github.com/minwoneasy/minwon-api/internal/service"
	"github.com/minwoneasy/minwon-api/internal/session"
	"go.uber.org/zap"
)

const (
	idTokenCookie = "id_token"
	idTokenMaxAge = 3600
)

type AuthHandlerConfig struct {
	// LoggedOutURL is the landing page after logout and failed logins
	LoggedOutURL string
	// HomeURL is where the logged-out page sends the browser
	HomeURL       string
	SecureCookies bool
}

// AuthHandler handles the browser login flow and identity endpoints
type AuthHandler struct {
	sessions *service.SessionManager
	cfg      AuthHandlerConfig
	logger   *zap.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(sessions *service.SessionManager, cfg AuthHandlerConfig, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		sessions: sessions,
		cfg:      cfg,
		logger:   logger,
	}
}

// Login starts the authorization code flow. Any next parameter is ignored.
func (h *AuthHandler) Login(c *gin.Context) {
	authURL, err := h.sessions.StartLogin(c.Writer, c.Request)
	if err != nil {
		h.logger.Error("Failed to start login", zap.Error(err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "Internal server error",
			Message: "Failed to start login",
		})
		return
	}

	c.Redirect(http.StatusTemporaryRedirect, authURL)
}

// Callback completes the flow started by Login
func (h *AuthHandler) Callback(c *gin.Context) {
	if providerErr := c.Query("error"); providerErr != "" {
		h.logger.Warn("Identity provider returned an error",
			zap.String("error", providerErr),
			zap.String("description", c.Query("error_description")),
		)
		h.sessions.Logout(c.Writer, c.Request)
		c.Redirect(http.StatusTemporaryRedirect, h.cfg.LoggedOutURL)
		return
	}

	result, err := h.sessions.CompleteLogin(c.Writer, c.Request, c.Query("code"), c.Query("state"))
	if err != nil {
		h.logger.Error("Login callback failed", zap.Error(err))
		c.Redirect(http.StatusTemporaryRedirect, h.cfg.LoggedOutURL)
		return
	}

	if result.IDToken != "" {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(idTokenCookie, result.IDToken, idTokenMaxAge, "/", "", h.cfg.SecureCookies, true)
	}

	c.Redirect(http.StatusTemporaryRedirect, result.Next)
}

// Logout always clears the session and both cookies. With an id_token the
// browser continues to the provider's end-session endpoint.
func (h *AuthHandler) Logout(c *gin.Context) {
	idToken, _ := c.Cookie(idTokenCookie)

	h.sessions.Logout(c.Writer, c.Request)

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(idTokenCookie, "", -1, "/", "", h.cfg.SecureCookies, true)

	target := h.cfg.LoggedOutURL
	if idToken != "" {
		target = h.sessions.EndSessionURL(idToken, h.cfg.LoggedOutURL)
	}
	c.Redirect(http.StatusTemporaryRedirect, target)
}

func (h *AuthHandler) LoggedOut(c *gin.Context) {
	c.Redirect(http.StatusTemporaryRedirect, h.cfg.HomeURL)
}

// UserInfo returns the resolved caller
func (h *AuthHandler) UserInfo(c *gin.Context) {
	identity, ok := mustIdentity(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, dto.UserInfoResponse{User: *identity})
}

// SessionDebug describes the session. Token values are never included.
func (h *AuthHandler) SessionDebug(c *gin.Context) {
	sess := h.sessions.Session(c.Request)

	resp := dto.SessionDebugResponse{Keys: session.Keys(sess)}
	resp.HasUser, resp.HasToken = session.Has(sess)

	data, err := session.Load(sess)
	switch {
	case err == nil:
		resp.Valid = true
		resp.ExpiresAt = &data.Token.ExpiresAt
		resp.Expired = data.Token.Expired(time.Now())
	case !errors.Is(err, session.ErrNotAuthenticated):
		resp.SessionError = err.Error()
	}

	c.JSON(http.StatusOK, resp)
}

// Token hands the session's access token to the browser application
func (h *AuthHandler) Token(c *gin.Context) {
	data, err := session.Load(h.sessions.Session(c.Request))
	if err != nil {
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{
			Error:   "Unauthorized",
			Message: "Not logged in",
		})
		return
	}

	c.JSON(http.StatusOK, dto.TokenResponse{
		AccessToken: data.Token.AccessToken,
		ExpiresAt:   data.Token.ExpiresAt,
		Username:    data.User.Username,
	})
}
