package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"talky-service/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// ErrAssistantNotFound means no user row carries the assistant flag.
var ErrAssistantNotFound = errors.New("assistant identity not found")

// UserRepository abstracts user lookups.
type UserRepository interface {
	Get(ctx context.Context, userID int) (models.User, error)
	GetAssistant(ctx context.Context) (models.User, error)
	List(ctx context.Context, excludeUserID int) ([]models.User, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

const userColumns = `id, name, email, avatar, is_ai, created_at, updated_at`

// Get fetches a user by id.
func (r *UserRepo) Get(ctx context.Context, userID int) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// GetAssistant returns the designated assistant identity.
func (r *UserRepo) GetAssistant(ctx context.Context) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE is_ai = TRUE LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrAssistantNotFound
	}
	return user, err
}

// List returns every user except the caller, assistant included, for the
// new-chat picker.
func (r *UserRepo) List(ctx context.Context, excludeUserID int) ([]models.User, error) {
	var users []models.User
	err := r.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users WHERE id <> $1 ORDER BY name`, excludeUserID)
	return users, err
}
