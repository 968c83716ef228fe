package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/minwoneasy/minwon-api/internal/domain"
	"github.com/minwoneasy/minwon-api/internal/repository"
	"github.com/minwoneasy/minwon-api/internal/session"
	"github.com/minwoneasy/minwon-api/internal/utils"
	"github.com/minwoneasy/minwon-api/pkg/observability"
	"go.uber.org/zap"
)

// ResolutionKind tags a Resolution
type ResolutionKind int

const (
	Authenticated ResolutionKind = iota
	ReauthRequired
	Unauthorized
)

func (k ResolutionKind) String() string {
	switch k {
	case Authenticated:
		return "authenticated"
	case ReauthRequired:
		return "reauth_required"
	default:
		return "unauthorized"
	}
}

// Resolution is the outcome of resolving the caller. Identity is set for
// Authenticated, Destination for ReauthRequired and Reason for Unauthorized.
type Resolution struct {
	Kind        ResolutionKind
	Identity    *domain.Identity
	Destination string
	Reason      string
}

const (
	ReasonAuthRequired = "authentication required"
	ReasonInvalidToken = "invalid token"
	ReasonRevoked      = "invalid token: revoked"
	ReasonNoEmail      = "email not found in token"
)

// Resolver turns a request into a normalized identity. The session cookie
// wins over a bearer header.
type Resolver struct {
	sessions    *SessionManager
	idp         IdentityProvider
	users       repository.UserRepository
	revocation  RevocationList
	metrics     *observability.AuthMetrics
	destination string
	logger      *zap.Logger
	now         func() time.Time
}

// NewResolver creates a resolver. destination is where a browser goes to log in again.
func NewResolver(
	sessions *SessionManager,
	idp IdentityProvider,
	users repository.UserRepository,
	revocation RevocationList,
	metrics *observability.AuthMetrics,
	destination string,
	logger *zap.Logger,
) *Resolver {
	return &Resolver{
		sessions:    sessions,
		idp:         idp,
		users:       users,
		revocation:  revocation,
		metrics:     metrics,
		destination: destination,
		logger:      logger,
		now:         time.Now,
	}
}

// Resolve may write a refreshed or cleared session cookie to w
func (res *Resolver) Resolve(w http.ResponseWriter, r *http.Request) Resolution {
	result, source := res.resolve(w, r)
	res.metrics.Resolution(r.Context(), result.Kind.String(), source)
	return result
}

func (res *Resolver) resolve(w http.ResponseWriter, r *http.Request) (Resolution, string) {
	sess := res.sessions.Session(r)

	data, err := session.Load(sess)
	switch {
	case err == nil:
		return res.fromSession(w, r, data), "session"
	case errors.Is(err, session.ErrPartialSession):
		res.logger.Warn("Discarding partially populated session", zap.Strings("keys", session.Keys(sess)))
		res.sessions.destroy(w, r, sess)
	}

	if raw, ok := bearerToken(r); ok {
		return res.fromBearer(r.Context(), raw), "bearer"
	}

	return Resolution{Kind: Unauthorized, Reason: ReasonAuthRequired}, "none"
}

func (res *Resolver) fromSession(w http.ResponseWriter, r *http.Request, data *session.Data) Resolution {
	if data.Token.Expired(res.now()) {
		refreshed, err := res.sessions.Refresh(w, r, res.sessions.Session(r), data)
		if err != nil {
			return Resolution{Kind: ReauthRequired, Destination: res.destination}
		}
		data = refreshed
	}

	roles := []string{}
	claims, err := res.idp.Verify(r.Context(), data.Token.AccessToken)
	if err != nil {
		res.logger.Warn("Session access token could not be decoded for roles",
			zap.Int64("user_id", data.User.UserID),
			zap.Error(err),
		)
	} else {
		roles = claims.Roles()
	}

	return Resolution{
		Kind: Authenticated,
		Identity: &domain.Identity{
			UserID:     data.User.UserID,
			Username:   data.User.Username,
			Email:      data.User.Email,
			Name:       data.User.Name,
			FamilyName: data.User.FamilyName,
			GivenName:  data.User.GivenName,
			Roles:      roles,
		},
	}
}

func (res *Resolver) fromBearer(ctx context.Context, raw string) Resolution {
	claims, err := res.idp.Verify(ctx, raw)
	if err != nil {
		res.logger.Debug("Bearer token rejected", zap.Error(err))
		return Resolution{Kind: Unauthorized, Reason: ReasonInvalidToken}
	}

	if res.revocation != nil {
		revoked, err := res.revocation.IsTokenBlacklisted(ctx, raw)
		if err != nil {
			res.logger.Error("Revocation check failed", zap.Error(err))
		} else if revoked {
			return Resolution{Kind: Unauthorized, Reason: ReasonRevoked}
		}
	}

	email := utils.FirstNonEmpty(claims.Email, claims.PreferredUsername, claims.Subject)
	if email == "" {
		return Resolution{Kind: Unauthorized, Reason: ReasonNoEmail}
	}

	return Resolution{
		Kind: Authenticated,
		Identity: &domain.Identity{
			UserID:     res.localUserID(ctx, claims.Subject),
			Username:   utils.FirstNonEmpty(claims.PreferredUsername, claims.Email, claims.Subject),
			Email:      email,
			Name:       utils.DisplayName(claims.FamilyName, claims.GivenName),
			FamilyName: claims.FamilyName,
			GivenName:  claims.GivenName,
			Roles:      claims.Roles(),
		},
	}
}

// localUserID is zero for subjects that never logged in through the browser
func (res *Resolver) localUserID(ctx context.Context, subject string) int64 {
	if subject == "" {
		return 0
	}
	user, err := res.users.GetBySubject(ctx, subject)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			res.logger.Error("Failed to look up bearer user", zap.Error(err))
		}
		return 0
	}
	return user.ID
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
