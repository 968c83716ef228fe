package handler

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/minwoneasy/minwon-api/internal/domain"
	"github.com/minwoneasy/minwon-api/internal/dto"
	"github.com/minwoneasy/minwon-api/internal/service"
)

const (
	identityKey = "identity"
	userIDKey   = "user_id"
)

// CurrentUser resolves the caller from the session or a bearer token and
// adds the identity to the context. A session that can no longer be
// refreshed is sent back through loginPath.
func CurrentUser(resolver *service.Resolver, loginPath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		res := resolver.Resolve(c.Writer, c.Request)

		switch res.Kind {
		case service.Authenticated:
			c.Set(identityKey, res.Identity)
			c.Set(userIDKey, res.Identity.UserID)
			c.Next()
		case service.ReauthRequired:
			c.Redirect(http.StatusTemporaryRedirect, loginPath+"?next="+url.QueryEscape(res.Destination))
			c.Abort()
		default:
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.ErrorResponse{
				Error:   "Unauthorized",
				Message: res.Reason,
			})
		}
	}
}

// CurrentIdentity returns the identity set by CurrentUser
func CurrentIdentity(c *gin.Context) (*domain.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	identity, ok := v.(*domain.Identity)
	return identity, ok && identity != nil
}

func mustIdentity(c *gin.Context) (*domain.Identity, bool) {
	identity, ok := CurrentIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{
			Error:   "Unauthorized",
			Message: service.ReasonAuthRequired,
		})
	}
	return identity, ok
}
