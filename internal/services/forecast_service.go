package services

import (
	"context"
	"fmt"

	"aqi-platform/internal/models"
	"aqi-platform/internal/repository"
	"aqi-platform/internal/schema"
	"aqi-platform/pkg/logging"
	"aqi-platform/pkg/metrics"
)

// PatchResult counts the patch entries that matched a stored forecast
type PatchResult struct {
	PredictionsApplied int
	ActualsApplied     int
}

// ForecastService inserts forecasts and applies prediction and actual patches
type ForecastService struct {
	repo    repository.ForecastRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewForecastService creates a new forecast service
func NewForecastService(repo repository.ForecastRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *ForecastService {
	return &ForecastService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Insert stores one new forecast per record, each with a single prediction
func (s *ForecastService) Insert(ctx context.Context, records []schema.ForecastRecord) error {
	forecasts := make([]models.Forecast, len(records))
	for i := range records {
		forecasts[i] = records[i].ToForecast()
	}

	if err := s.repo.InsertBatch(ctx, forecasts); err != nil {
		return fmt.Errorf("failed to insert forecasts: %w", err)
	}

	s.logger.Info(ctx, "[FORECAST_INSERT] Forecasts stored", logging.Fields{
		"count": len(forecasts),
	})
	return nil
}

// Patch applies the Predictions list, then the Actual list. Each list is
// validated as a whole before any of its updates run, and a failure in one
// list does not stop the other. The first validation error is returned after
// both lists were attempted. Entries with no matching forecast are skipped.
func (s *ForecastService) Patch(ctx context.Context, patch *schema.ForecastPatch) (PatchResult, error) {
	var (
		result   PatchResult
		firstErr error
	)

	if patch.HasPredictions() {
		n, err := s.appendPredictions(ctx, patch)
		if err != nil {
			firstErr = err
		}
		result.PredictionsApplied = n
	}

	if patch.HasActual() {
		n, err := s.setActuals(ctx, patch)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		result.ActualsApplied = n
	}

	s.logger.Info(ctx, "[FORECAST_PATCH] Patch applied", logging.Fields{
		"predictions_applied": result.PredictionsApplied,
		"actuals_applied":     result.ActualsApplied,
		"failed":              firstErr != nil,
	})
	return result, firstErr
}

func (s *ForecastService) appendPredictions(ctx context.Context, patch *schema.ForecastPatch) (int, error) {
	records, err := schema.DecodeForecasts(patch.Predictions)
	if err != nil {
		return 0, prefixField("Predictions", err)
	}

	appends := make([]repository.PredictionAppend, len(records))
	for i := range records {
		appends[i] = repository.PredictionAppend{
			Key:        records[i].Key(),
			Prediction: records[i].Predictions.ToPrediction(),
		}
	}

	n, err := s.repo.AppendPredictions(ctx, appends)
	if err != nil {
		return 0, fmt.Errorf("failed to append predictions: %w", err)
	}
	s.metrics.RecordForecastPatch("predictions", n, len(appends))
	return n, nil
}

func (s *ForecastService) setActuals(ctx context.Context, patch *schema.ForecastPatch) (int, error) {
	records, err := schema.DecodeMeasurements(patch.Actual)
	if err != nil {
		return 0, prefixField("Actual", err)
	}

	updates := make([]repository.ActualUpdate, len(records))
	for i := range records {
		m := records[i].ToMeasurement()
		updates[i] = repository.ActualUpdate{
			Key:          models.ForecastKey{Date: m.Date, Lat: m.Location.Lat, Long: m.Location.Long},
			RealAQI:      m.AQI,
			RealCategory: m.Category,
		}
	}

	n, err := s.repo.SetActuals(ctx, updates)
	if err != nil {
		return 0, fmt.Errorf("failed to set actuals: %w", err)
	}
	s.metrics.RecordForecastPatch("actual", n, len(updates))
	return n, nil
}

func prefixField(prefix string, err error) error {
	if ve, ok := err.(*models.ValidationError); ok {
		return &models.ValidationError{Field: prefix + ve.Field, Value: ve.Value, Message: ve.Message}
	}
	return err
}
