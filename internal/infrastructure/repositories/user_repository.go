package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/coinrail/custody_service/internal/domain/entities"
)

// UserRepository resolves account holders for notification delivery
type UserRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetEmail returns the notification address for a user
func (r *UserRepository) GetEmail(ctx context.Context, userID uuid.UUID) (string, error) {
	var email string
	query := `SELECT email FROM users WHERE id = $1`

	err := r.db.GetContext(ctx, &email, query, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", entities.ErrUserNotFound
		}
		return "", fmt.Errorf("failed to get user email: %w", err)
	}
	return email, nil
}
