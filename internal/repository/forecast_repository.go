package repository

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"

	"aqi-platform/internal/models"
	"aqi-platform/pkg/database"
	"aqi-platform/pkg/logging"
	"aqi-platform/pkg/metrics"
)

// ForecastRepository provides data access for forecasts
type ForecastRepository interface {
	InsertBatch(ctx context.Context, forecasts []models.Forecast) error
	Find(ctx context.Context, filter ForecastFilter) ([]models.Forecast, error)
	// AppendPredictions pushes each prediction onto the first forecast matching
	// its key and returns how many keys matched. Misses are skipped.
	AppendPredictions(ctx context.Context, appends []PredictionAppend) (int, error)
	// SetActuals overwrites the realized AQI of the first forecast matching each
	// key and returns how many keys matched. Misses are skipped.
	SetActuals(ctx context.Context, updates []ActualUpdate) (int, error)
}

// ForecastFilter narrows a forecast query
type ForecastFilter struct {
	Box *models.BoundingBox
	// FromDate keeps forecasts dated on or after this YYYY-MM-DD string
	FromDate string
	Limit    int
}

// PredictionAppend is one prediction to push onto an existing forecast
type PredictionAppend struct {
	Key        models.ForecastKey
	Prediction models.Prediction
}

// ActualUpdate is the realized AQI for an existing forecast
type ActualUpdate struct {
	Key          models.ForecastKey
	RealAQI      int
	RealCategory string
}

type forecastRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewForecastRepository creates a new forecast repository
func NewForecastRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) ForecastRepository {
	return &forecastRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// firstMatch selects the row a mutation applies to when (date, lat, long) is duplicated
const firstMatch = `(SELECT id FROM forecasts WHERE date = $%d AND latitude = $%d AND longitude = $%d ORDER BY id LIMIT 1)`

// InsertBatch inserts every forecast in one transaction
func (r *forecastRepository) InsertBatch(ctx context.Context, forecasts []models.Forecast) error {
	if len(forecasts) == 0 {
		return nil
	}

	rows := make([]forecastRow, len(forecasts))
	for i, f := range forecasts {
		row, err := newForecastRow(f)
		if err != nil {
			return err
		}
		rows[i] = row
	}

	query := fmt.Sprintf(`
		INSERT INTO forecasts (%s)
		VALUES (:date, :real_aqi, :real_category, CAST(:predictions AS jsonb), %s)
	`, forecastColumns, locationParams)

	err := r.db.WithTx(ctx, "insert_forecasts", func(tx *sqlx.Tx) error {
		for lo := 0; lo < len(rows); lo += insertChunkSize {
			hi := lo + insertChunkSize
			if hi > len(rows) {
				hi = len(rows)
			}
			if _, err := tx.NamedExecContext(ctx, query, rows[lo:hi]); err != nil {
				return fmt.Errorf("failed to insert forecasts %d-%d: %w", lo, hi, err)
			}
		}
		return nil
	})
	if err != nil {
		r.metrics.RecordDBError("batch_insert_error")
		return err
	}

	r.metrics.IngestionRecordsTotal.WithLabelValues("forecast").Add(float64(len(forecasts)))
	return nil
}

// Find returns the forecasts matching filter in insertion order
func (r *forecastRepository) Find(ctx context.Context, filter ForecastFilter) ([]models.Forecast, error) {
	query := fmt.Sprintf("SELECT %s FROM forecasts WHERE date >= $1", forecastColumns)
	args := []interface{}{filter.FromDate}

	where, boxArgs := buildLocationFilter(filter.Box, nil, nil, 2)
	query += where
	args = append(args, boxArgs...)

	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, filter.Limit)
	}

	var rows []forecastRow
	if err := r.db.SelectContext(ctx, "find_forecasts", &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query forecasts: %w", err)
	}

	out := make([]models.Forecast, 0, len(rows))
	for _, row := range rows {
		f, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// AppendPredictions runs all appends in one transaction. Each UPDATE appends
// to the JSONB array under the row lock, so concurrent appends do not lose entries.
func (r *forecastRepository) AppendPredictions(ctx context.Context, appends []PredictionAppend) (int, error) {
	if len(appends) == 0 {
		return 0, nil
	}

	query := `UPDATE forecasts SET predictions = predictions || CAST($1 AS jsonb) WHERE id = ` + fmt.Sprintf(firstMatch, 2, 3, 4)

	matched := 0
	err := r.db.WithTx(ctx, "append_predictions", func(tx *sqlx.Tx) error {
		matched = 0
		for _, a := range appends {
			raw, err := json.Marshal([]models.Prediction{a.Prediction})
			if err != nil {
				return fmt.Errorf("failed to encode prediction: %w", err)
			}
			result, err := tx.ExecContext(ctx, query, string(raw), a.Key.Date, a.Key.Lat, a.Key.Long)
			if err != nil {
				return fmt.Errorf("failed to append prediction for %s: %w", a.Key.Date, err)
			}
			if n, _ := result.RowsAffected(); n > 0 {
				matched++
			}
		}
		return nil
	})
	if err != nil {
		r.metrics.RecordDBError("append_predictions_error")
		return 0, err
	}

	r.logger.Debug(ctx, "[REPO_APPEND_PREDICTIONS] Predictions appended", logging.Fields{
		"requested": len(appends),
		"matched":   matched,
	})
	return matched, nil
}

// SetActuals runs all updates in one transaction
func (r *forecastRepository) SetActuals(ctx context.Context, updates []ActualUpdate) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}

	query := `UPDATE forecasts SET real_aqi = $1, real_category = $2 WHERE id = ` + fmt.Sprintf(firstMatch, 3, 4, 5)

	matched := 0
	err := r.db.WithTx(ctx, "set_actuals", func(tx *sqlx.Tx) error {
		matched = 0
		for _, u := range updates {
			result, err := tx.ExecContext(ctx, query, u.RealAQI, u.RealCategory, u.Key.Date, u.Key.Lat, u.Key.Long)
			if err != nil {
				return fmt.Errorf("failed to set actual for %s: %w", u.Key.Date, err)
			}
			if n, _ := result.RowsAffected(); n > 0 {
				matched++
			}
		}
		return nil
	})
	if err != nil {
		r.metrics.RecordDBError("set_actuals_error")
		return 0, err
	}

	r.logger.Debug(ctx, "[REPO_SET_ACTUALS] Realized AQI recorded", logging.Fields{
		"requested": len(updates),
		"matched":   matched,
	})
	return matched, nil
}
