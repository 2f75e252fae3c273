package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/staffhub/staffhub/internal/database"
)

// BcryptCost is the bcrypt cost factor
var BcryptCost = 12

// TokenLength is the size in bytes of generated opaque tokens (hex encoded on the wire)
const TokenLength = 32

// ErrInvalidResetToken is returned for unknown, used or expired reset tokens
var ErrInvalidResetToken = errors.New("invalid or expired reset token")

// AuthService handles credential checks and password resets
type AuthService struct {
	db *database.DB
}

// NewAuthService creates a new auth service
func NewAuthService(db *database.DB) *AuthService {
	return &AuthService{db: db}
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword verifies a password against a hash
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// GenerateToken creates a cryptographically secure opaque token
func GenerateToken() (string, error) {
	b := make([]byte, TokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken returns the sha256 hex digest stored in place of an opaque token
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Authenticate verifies credentials and returns the user.
// Returns nil, nil for unknown emails, wrong passwords and deactivated accounts.
func (s *AuthService) Authenticate(ctx context.Context, email, password string) (*database.User, error) {
	user, err := s.db.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.Active {
		return nil, nil
	}
	if !CheckPassword(password, user.PasswordHash) {
		return nil, nil
	}
	return user, nil
}

// UpdatePassword changes a user's password
func (s *AuthService) UpdatePassword(ctx context.Context, userID int64, newPassword string) error {
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	return s.db.UpdateUserPassword(ctx, userID, hash)
}

// CreateResetToken issues a password reset token for the user and returns the raw
// token. Only its hash is stored.
func (s *AuthService) CreateResetToken(ctx context.Context, userID int64, ttl time.Duration) (string, time.Time, error) {
	token, err := GenerateToken()
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt := time.Now().Add(ttl)
	if _, err := s.db.CreatePasswordResetToken(ctx, userID, HashToken(token), expiresAt); err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// ResetPassword consumes a reset token and sets the user's new password.
// Returns ErrInvalidResetToken when the token cannot be used.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) (*database.User, error) {
	hash, err := HashPassword(newPassword)
	if err != nil {
		return nil, err
	}

	var user *database.User
	err = s.db.Transaction(ctx, func(tx *database.DB) error {
		rt, err := tx.GetPasswordResetTokenByHash(ctx, HashToken(token))
		if err != nil {
			return err
		}
		if rt == nil || !rt.Usable(time.Now()) {
			return ErrInvalidResetToken
		}

		user, err = tx.GetUserByID(ctx, rt.UserID)
		if err != nil {
			return err
		}
		if user == nil || !user.Active {
			return ErrInvalidResetToken
		}

		used, err := tx.MarkPasswordResetTokenUsed(ctx, rt.ID)
		if err != nil {
			return err
		}
		if !used {
			return ErrInvalidResetToken
		}
		if err := tx.UpdateUserPassword(ctx, user.ID, hash); err != nil {
			return err
		}
		// Any other outstanding link for this account is now stale
		return tx.InvalidatePasswordResetTokens(ctx, user.ID)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}
