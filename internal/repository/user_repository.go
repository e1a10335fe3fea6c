package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"aqi-platform/internal/models"
	"aqi-platform/pkg/database"
	"aqi-platform/pkg/logging"
	"aqi-platform/pkg/metrics"
)

// UserRepository provides data access for API users
type UserRepository interface {
	// FindByToken returns at most limit users holding token
	FindByToken(ctx context.Context, token string, limit int) ([]models.User, error)
	// FindByEmail returns at most limit users registered with email
	FindByEmail(ctx context.Context, email string, limit int) ([]models.User, error)
	// Create inserts user, failing with models.ErrEmailTaken when the email
	// is already registered
	Create(ctx context.Context, user *models.User) error
	UpdateLastEmail(ctx context.Context, id int64, at time.Time) error
}

type userRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) UserRepository {
	return &userRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

const userColumns = `id, email, token, date_joined, permission, last_email`

// FindByToken returns at most limit users holding token
func (r *userRepository) FindByToken(ctx context.Context, token string, limit int) ([]models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE token = $1 ORDER BY id LIMIT $2`

	var users []models.User
	if err := r.db.SelectContext(ctx, "find_user_by_token", &users, query, token, limit); err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}
	return users, nil
}

// FindByEmail returns at most limit users registered with email
func (r *userRepository) FindByEmail(ctx context.Context, email string, limit int) ([]models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1 ORDER BY id LIMIT $2`

	var users []models.User
	if err := r.db.SelectContext(ctx, "find_user_by_email", &users, query, email, limit); err != nil {
		return nil, fmt.Errorf("failed to look up email: %w", err)
	}
	return users, nil
}

// Create inserts user and sets its ID
func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (email, token, date_joined, permission, last_email)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := r.db.GetContext(ctx, "insert_user", &user.ID, query,
		user.Email,
		user.Token,
		user.DateJoined,
		user.Permission,
		user.LastEmail,
	)
	if database.IsUniqueViolation(err) {
		return models.ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	r.logger.Info(ctx, "[REPO_CREATE_USER] User created", logging.Fields{
		"user_id":    user.ID,
		"permission": user.Permission,
	})
	return nil
}

// UpdateLastEmail records when the user was last sent their token
func (r *userRepository) UpdateLastEmail(ctx context.Context, id int64, at time.Time) error {
	result, err := r.db.ExecContext(ctx, "update_user_last_email",
		`UPDATE users SET last_email = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("failed to update last email: %w", err)
	}

	if n, _ := result.RowsAffected(); n == 0 {
		return &NotFoundError{Resource: "user", ID: strconv.FormatInt(id, 10)}
	}
	return nil
}
