package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PasswordResetToken is a single-use reset credential; only its sha256 is stored.
type PasswordResetToken struct {
	ID        int64
	UserID    int64
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// Usable reports whether the token is unused and not yet expired at t
func (p *PasswordResetToken) Usable(t time.Time) bool {
	return p.UsedAt == nil && t.Before(p.ExpiresAt)
}

// CreatePasswordResetToken stores a new reset token hash
func (db *DB) CreatePasswordResetToken(ctx context.Context, userID int64, tokenHash string, expiresAt time.Time) (*PasswordResetToken, error) {
	ts := now()
	result, err := db.exec(ctx, `
		INSERT INTO password_reset_tokens (user_id, token_hash, expires_at, created_at)
		VALUES (?, ?, ?, ?)
	`, userID, tokenHash, expiresAt.UTC(), ts)
	if err != nil {
		return nil, mapConstraint(err, "create password reset token")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get token id: %w", err)
	}

	return &PasswordResetToken{
		ID:        id,
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt.UTC(),
		CreatedAt: ts,
	}, nil
}

// GetPasswordResetTokenByHash looks a token up by hash. Returns nil, nil when not found.
func (db *DB) GetPasswordResetTokenByHash(ctx context.Context, tokenHash string) (*PasswordResetToken, error) {
	t := &PasswordResetToken{}
	var usedAt sql.NullTime
	err := db.queryRow(ctx, `
		SELECT id, user_id, token_hash, expires_at, used_at, created_at
		FROM password_reset_tokens WHERE token_hash = ?
	`, tokenHash).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &usedAt, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get password reset token: %w", err)
	}
	t.UsedAt = nullTimeToPtr(usedAt)
	return t, nil
}

// MarkPasswordResetTokenUsed consumes a token. Returns false when it was already used.
func (db *DB) MarkPasswordResetTokenUsed(ctx context.Context, id int64) (bool, error) {
	result, err := db.exec(ctx, `
		UPDATE password_reset_tokens SET used_at = ? WHERE id = ? AND used_at IS NULL
	`, now(), id)
	if err != nil {
		return false, fmt.Errorf("failed to mark token used: %w", err)
	}
	return affected(result)
}

// InvalidatePasswordResetTokens marks every outstanding token of a user as used
func (db *DB) InvalidatePasswordResetTokens(ctx context.Context, userID int64) error {
	_, err := db.exec(ctx, `
		UPDATE password_reset_tokens SET used_at = ? WHERE user_id = ? AND used_at IS NULL
	`, now(), userID)
	if err != nil {
		return fmt.Errorf("failed to invalidate reset tokens: %w", err)
	}
	return nil
}

// PurgePasswordResetTokens deletes used tokens and tokens that expired before cutoff
func (db *DB) PurgePasswordResetTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := db.exec(ctx, `
		DELETE FROM password_reset_tokens WHERE used_at IS NOT NULL OR expires_at < ?
	`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge reset tokens: %w", err)
	}
	return result.RowsAffected()
}
