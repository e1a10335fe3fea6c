package services

import (
	"context"
	"fmt"

	"aqi-platform/pkg/forecaster"
	"aqi-platform/pkg/logging"
	"aqi-platform/pkg/metrics"
)

// Standardization constants of the training data
const (
	AQIMean = 43.467599332161555
	AQIStd  = 22.21508718833175
)

// InferenceService turns 30-day AQI windows into next-day predictions
type InferenceService struct {
	model   forecaster.Model
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewInferenceService creates a new inference service
func NewInferenceService(model forecaster.Model, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *InferenceService {
	return &InferenceService{
		model:   model,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Predict returns one AQI value per window, truncated toward zero
func (s *InferenceService) Predict(ctx context.Context, windows [][]int) ([]int, error) {
	if len(windows) == 0 {
		return []int{}, nil
	}

	raw, err := s.model.Predict(ctx, Standardize(windows))
	if err != nil {
		return nil, fmt.Errorf("forecast model failed: %w", err)
	}
	if len(raw) != len(windows) {
		s.metrics.InferenceFailuresTotal.Inc()
		return nil, fmt.Errorf("forecast model returned %d values for %d windows", len(raw), len(windows))
	}

	out := Destandardize(raw)
	s.logger.Debug(ctx, "[INFERENCE] Windows predicted", logging.Fields{
		"windows": len(windows),
	})
	return out, nil
}

// Standardize applies (x - mean) / std to every value
func Standardize(windows [][]int) [][]float64 {
	out := make([][]float64, len(windows))
	for i, w := range windows {
		row := make([]float64, len(w))
		for j, x := range w {
			row[j] = (float64(x) - AQIMean) / AQIStd
		}
		out[i] = row
	}
	return out
}

// Destandardize applies y * std + mean and truncates to an integer
func Destandardize(values []float64) []int {
	out := make([]int, len(values))
	for i, y := range values {
		out[i] = int(y*AQIStd + AQIMean)
	}
	return out
}
