package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/minwoneasy/minwon-api/internal/domain"
	"github.com/minwoneasy/minwon-api/pkg/database"
)

// tokenRepository implements TokenRepository over user_tokens
type tokenRepository struct {
	db *database.Postgres
}

// NewTokenRepository creates a new token repository
func NewTokenRepository(db *database.Postgres) TokenRepository {
	return &tokenRepository{db: db}
}

// Replace keeps at most one row per (user_id, device_info)
func (r *tokenRepository) Replace(ctx context.Context, token *domain.RefreshToken) error {
	deleteQuery := `DELETE FROM user_tokens WHERE user_id = $1 AND device_info = $2`
	insertQuery := `
		INSERT INTO user_tokens (user_id, refresh_token_encrypted, expires_at, device_info, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING token_id, created_at, updated_at
	`

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, deleteQuery, token.UserID, token.DeviceInfo); err != nil {
			return fmt.Errorf("failed to delete previous token: %w", err)
		}

		err := tx.QueryRowContext(ctx, insertQuery,
			token.UserID,
			token.EncryptedToken,
			token.ExpiresAt,
			token.DeviceInfo,
		).Scan(&token.ID, &token.CreatedAt, &token.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert token: %w", err)
		}

		return nil
	})
}

// GetActive retrieves the unexpired token for a device
func (r *tokenRepository) GetActive(ctx context.Context, userID int64, deviceInfo string, now time.Time) (*domain.RefreshToken, error) {
	query := `
		SELECT token_id, user_id, refresh_token_encrypted, expires_at, device_info, created_at, updated_at
		FROM user_tokens
		WHERE user_id = $1 AND device_info = $2 AND expires_at > $3
		ORDER BY created_at DESC
		LIMIT 1
	`

	token := &domain.RefreshToken{}
	err := r.db.DB.QueryRowContext(ctx, query, userID, deviceInfo, now).Scan(
		&token.ID,
		&token.UserID,
		&token.EncryptedToken,
		&token.ExpiresAt,
		&token.DeviceInfo,
		&token.CreatedAt,
		&token.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("active token for user %d not found: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	return token, nil
}

// Delete removes the token for a device. Deleting nothing is not an error.
func (r *tokenRepository) Delete(ctx context.Context, userID int64, deviceInfo string) error {
	query := `DELETE FROM user_tokens WHERE user_id = $1 AND device_info = $2`

	if _, err := r.db.DB.ExecContext(ctx, query, userID, deviceInfo); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}

	return nil
}

// DeleteExpired deletes all expired refresh tokens
func (r *tokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM user_tokens WHERE expires_at <= $1`

	result, err := r.db.DB.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}
