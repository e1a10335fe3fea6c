package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"aqi-platform/internal/models"
	"aqi-platform/pkg/database"
	"aqi-platform/pkg/logging"
	"aqi-platform/pkg/metrics"
)

// insertChunkSize keeps multi-row inserts under the Postgres bind parameter limit
const insertChunkSize = 1000

// MeasurementRepository provides data access for current and historic AQI readings
type MeasurementRepository interface {
	InsertBatch(ctx context.Context, collection models.Collection, records []models.Measurement) error
	Find(ctx context.Context, collection models.Collection, filter MeasurementFilter) ([]models.Measurement, error)
	DeleteAll(ctx context.Context, collection models.Collection) (int64, error)
	HealthCheck(ctx context.Context) error
}

// MeasurementFilter narrows a measurement query. Nil fields are not applied.
type MeasurementFilter struct {
	Box   *models.BoundingBox
	Dates *models.DateRange
	// Exact location match
	Lat  *float64
	Long *float64
	// Limit of 0 returns every match
	Limit int
}

type measurementRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewMeasurementRepository creates a new measurement repository
func NewMeasurementRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) MeasurementRepository {
	return &measurementRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

func tableFor(collection models.Collection) (string, error) {
	switch collection {
	case models.CollectionCurrent:
		return "current_aqi", nil
	case models.CollectionHistoric:
		return "historic_aqi", nil
	default:
		return "", fmt.Errorf("unknown measurement collection %q", collection)
	}
}

// InsertBatch inserts every record in one transaction. Nothing is written if any chunk fails.
func (r *measurementRepository) InsertBatch(ctx context.Context, collection models.Collection, records []models.Measurement) error {
	if len(records) == 0 {
		return nil
	}
	table, err := tableFor(collection)
	if err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		r.metrics.IngestionBatchSize.Observe(float64(len(records)))
		r.logger.Debug(ctx, "[REPO_BATCH_INSERT] Batch insert completed", logging.Fields{
			"collection":  string(collection),
			"count":       len(records),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}()

	rows := make([]measurementRow, len(records))
	for i, m := range records {
		rows[i] = newMeasurementRow(m)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES (:date, :aqi, :category, :defining_parameter, :number_of_sites_reporting, %s)
	`, table, measurementColumns, locationParams)

	err = r.db.WithTx(ctx, "insert_"+table, func(tx *sqlx.Tx) error {
		for lo := 0; lo < len(rows); lo += insertChunkSize {
			hi := lo + insertChunkSize
			if hi > len(rows) {
				hi = len(rows)
			}
			if _, err := tx.NamedExecContext(ctx, query, rows[lo:hi]); err != nil {
				return fmt.Errorf("failed to insert %s rows %d-%d: %w", table, lo, hi, err)
			}
		}
		return nil
	})
	if err != nil {
		r.metrics.RecordDBError("batch_insert_error")
		return err
	}

	r.metrics.IngestionRecordsTotal.WithLabelValues(string(collection)).Add(float64(len(records)))
	return nil
}

// Find returns the measurements matching filter in insertion order
func (r *measurementRepository) Find(ctx context.Context, collection models.Collection, filter MeasurementFilter) ([]models.Measurement, error) {
	table, err := tableFor(collection)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1", measurementColumns, table)
	where, args := buildLocationFilter(filter.Box, filter.Lat, filter.Long, 1)
	query += where
	argNum := len(args) + 1

	if filter.Dates != nil {
		query += fmt.Sprintf(" AND date >= $%d AND date <= $%d", argNum, argNum+1)
		args = append(args, filter.Dates.Start, filter.Dates.End)
		argNum += 2
	}

	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
	}

	var rows []measurementRow
	if err := r.db.SelectContext(ctx, "find_"+table, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}

	out := make([]models.Measurement, len(rows))
	for i, row := range rows {
		out[i] = row.toModel()
	}
	return out, nil
}

// DeleteAll truncates a collection and returns the number of rows removed
func (r *measurementRepository) DeleteAll(ctx context.Context, collection models.Collection) (int64, error) {
	table, err := tableFor(collection)
	if err != nil {
		return 0, err
	}

	result, err := r.db.ExecContext(ctx, "delete_"+table, "DELETE FROM "+table)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s: %w", table, err)
	}

	deleted, _ := result.RowsAffected()
	r.logger.Info(ctx, "[REPO_DELETE_ALL] Collection cleared", logging.Fields{
		"collection": string(collection),
		"deleted":    deleted,
	})
	return deleted, nil
}

// HealthCheck performs a repository health check
func (r *measurementRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// buildLocationFilter returns the WHERE fragment for a bounding box and/or an
// exact lat/long match, numbering placeholders from argNum
func buildLocationFilter(box *models.BoundingBox, lat, long *float64, argNum int) (string, []interface{}) {
	var where string
	var args []interface{}

	if box != nil {
		where += fmt.Sprintf(" AND latitude >= $%d AND latitude <= $%d AND longitude >= $%d AND longitude <= $%d",
			argNum, argNum+1, argNum+2, argNum+3)
		args = append(args, box.BottomLat, box.TopLat, box.LeftLong, box.RightLong)
		argNum += 4
	}
	if lat != nil {
		where += fmt.Sprintf(" AND latitude = $%d", argNum)
		args = append(args, *lat)
		argNum++
	}
	if long != nil {
		where += fmt.Sprintf(" AND longitude = $%d", argNum)
		args = append(args, *long)
	}
	return where, args
}
