package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/minwoneasy/minwon-api/internal/domain"
	"github.com/minwoneasy/minwon-api/internal/repository"
	"go.uber.org/zap"
)

// TokenStore persists one encrypted refresh token per (user, device)
type TokenStore struct {
	repo   repository.TokenRepository
	cipher Cipher
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewTokenStore creates a new token store
func NewTokenStore(repo repository.TokenRepository, cipher Cipher, ttl time.Duration, logger *zap.Logger) *TokenStore {
	return &TokenStore{
		repo:   repo,
		cipher: cipher,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Save replaces whatever is stored for the device with refreshToken
func (s *TokenStore) Save(ctx context.Context, userID int64, refreshToken, fingerprint string) error {
	encrypted, err := s.cipher.Encrypt(refreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	record := &domain.RefreshToken{
		UserID:         userID,
		EncryptedToken: encrypted,
		ExpiresAt:      s.now().Add(s.ttl),
		DeviceInfo:     fingerprint,
	}

	if err := s.repo.Replace(ctx, record); err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}
	return nil
}

// Get returns the stored refresh token. ok is false when the row is
// missing, expired or sealed under another key.
func (s *TokenStore) Get(ctx context.Context, userID int64, fingerprint string) (token string, ok bool, err error) {
	record, err := s.repo.GetActive(ctx, userID, fingerprint, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to load refresh token: %w", err)
	}

	token, err = s.cipher.Decrypt(record.EncryptedToken)
	if err != nil {
		s.logger.Warn("Stored refresh token could not be decrypted",
			zap.Int64("user_id", userID),
			zap.Int64("token_id", record.ID),
			zap.Error(err),
		)
		return "", false, nil
	}

	return token, true, nil
}

// Delete removes the device's token. Failures are logged, never returned.
func (s *TokenStore) Delete(ctx context.Context, userID int64, fingerprint string) {
	if err := s.repo.Delete(ctx, userID, fingerprint); err != nil {
		s.logger.Error("Failed to delete refresh token",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
	}
}

// PurgeExpired deletes every expired row
func (s *TokenStore) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired tokens: %w", err)
	}
	return n, nil
}
