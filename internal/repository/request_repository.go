package repository

import (
	"context"
	"fmt"

	"aqi-platform/internal/models"
	"aqi-platform/pkg/database"
)

// RequestRepository appends request accounting records
type RequestRepository interface {
	Insert(ctx context.Context, req models.Request) error
}

type requestRepository struct {
	db *database.PostgresDB
}

// NewRequestRepository creates a new request repository
func NewRequestRepository(db *database.PostgresDB) RequestRepository {
	return &requestRepository{db: db}
}

// Insert appends one accounting record
func (r *requestRepository) Insert(ctx context.Context, req models.Request) error {
	query := `INSERT INTO requests (user_token, resource, time_used) VALUES (:user_token, :resource, :time_used)`

	if _, err := r.db.NamedExecContext(ctx, "insert_request", query, req); err != nil {
		return fmt.Errorf("failed to record request: %w", err)
	}
	return nil
}
