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

// MeasurementService inserts and clears current and historic readings
type MeasurementService struct {
	repo    repository.MeasurementRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewMeasurementService creates a new measurement service
func NewMeasurementService(repo repository.MeasurementRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *MeasurementService {
	return &MeasurementService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Insert stores validated records, deriving each category from its AQI
func (s *MeasurementService) Insert(ctx context.Context, collection models.Collection, records []schema.MeasurementRecord) error {
	measurements := make([]models.Measurement, len(records))
	for i := range records {
		measurements[i] = records[i].ToMeasurement()
	}

	if err := s.repo.InsertBatch(ctx, collection, measurements); err != nil {
		return fmt.Errorf("failed to insert %s readings: %w", collection, err)
	}

	s.logger.Info(ctx, "[MEASUREMENT_INSERT] Readings stored", logging.Fields{
		"collection": string(collection),
		"count":      len(measurements),
	})
	return nil
}

// DeleteAll removes every record in collection
func (s *MeasurementService) DeleteAll(ctx context.Context, collection models.Collection) error {
	n, err := s.repo.DeleteAll(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to delete %s readings: %w", collection, err)
	}
	s.metrics.RecordsDeletedTotal.WithLabelValues(string(collection)).Add(float64(n))

	s.logger.Info(ctx, "[MEASUREMENT_DELETE] Collection cleared", logging.Fields{
		"collection": string(collection),
		"deleted":    n,
	})
	return nil
}
