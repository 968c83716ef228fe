package service

import (
	"context"
	"io"
	"time"

	"github.com/minwoneasy/minwon-api/internal/domain"
)

// IdentityProvider is the subset of the realm client the services call
type IdentityProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*domain.TokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (*domain.TokenSet, error)
	UserInfo(ctx context.Context, accessToken string) (*domain.Claims, error)
	Verify(ctx context.Context, raw string) (*domain.Claims, error)
	VerifyIDToken(ctx context.Context, raw string) (*domain.Claims, error)
	EndSessionURL(idTokenHint, postLogoutRedirect string) string
}

// Cipher encrypts refresh tokens at rest
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(encoded string) (string, error)
}

// RevocationList remembers access tokens that were logged out before expiry
type RevocationList interface {
	AddToken(ctx context.Context, token string, expiry time.Duration) error
	IsTokenBlacklisted(ctx context.Context, token string) (bool, error)
}

// ObjectStorage stores complaint attachments
type ObjectStorage interface {
	Bucket() string
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error)
	Remove(ctx context.Context, key string) error
}
