package services

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"aqi-platform/internal/models"
	"aqi-platform/internal/repository"
	"aqi-platform/internal/schema"
	"aqi-platform/pkg/logging"
	"aqi-platform/pkg/metrics"
)

// QueryDefaults configures the fallback query and the result cap
type QueryDefaults struct {
	ResultCap    int
	Box          models.BoundingBox
	HistoricFrom string
	HistoricTo   string
	// EarliestDate bounds accepted historic and model-data date ranges
	EarliestDate string
}

// DefaultQueryDefaults returns the documented fallback values
func DefaultQueryDefaults() QueryDefaults {
	return QueryDefaults{
		ResultCap:    5000,
		Box:          models.BoundingBox{BottomLat: 38, TopLat: 40, LeftLong: -80, RightLong: -70},
		HistoricFrom: "2021-06-30",
		HistoricTo:   "2021-12-31",
		EarliestDate: "1980-01-01",
	}
}

// QueryService runs range queries over measurements and forecasts. Invalid
// or missing parameters fall back to a documented default query instead of
// failing.
type QueryService struct {
	measurements repository.MeasurementRepository
	forecasts    repository.ForecastRepository
	defaults     QueryDefaults
	logger       *logging.StructuredLogger
	metrics      *metrics.Collector
	now          func() time.Time
}

// NewQueryService creates a new query service
func NewQueryService(measurements repository.MeasurementRepository, forecasts repository.ForecastRepository, defaults QueryDefaults, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *QueryService {
	return &QueryService{
		measurements: measurements,
		forecasts:    forecasts,
		defaults:     defaults,
		logger:       logger,
		metrics:      metricsCollector,
		now:          time.Now,
	}
}

// Today returns the current UTC date in YYYY-MM-DD form
func (s *QueryService) Today() string {
	return s.now().UTC().Format(models.DateLayout)
}

// EarliestDate returns the lower bound for accepted date ranges
func (s *QueryService) EarliestDate() string {
	return s.defaults.EarliestDate
}

func (s *QueryService) limit(requested bool) int {
	if requested {
		return s.defaults.ResultCap
	}
	return 0
}

func (s *QueryService) fallback(ctx context.Context, endpoint string, err error) {
	s.metrics.QueryFallbacksTotal.WithLabelValues(endpoint).Inc()
	s.logger.Debug(ctx, "[QUERY_DEFAULT] Invalid range parameters, using default query", logging.Fields{
		"endpoint": endpoint,
		"reason":   err.Error(),
	})
}

// Current returns current readings. With no bounding box parameters the
// whole collection is returned.
func (s *QueryService) Current(ctx context.Context, values url.Values) ([]models.Measurement, error) {
	filter := repository.MeasurementFilter{}

	if schema.HasBox(values) {
		q, err := schema.ParseQueryParams(values)
		if err == nil {
			err = q.Validate()
		}
		if err != nil {
			s.fallback(ctx, "current", err)
			box := s.defaults.Box
			filter.Box = &box
		} else {
			box := q.Box()
			filter.Box = &box
			filter.Limit = s.limit(q.Limit)
		}
	}

	records, err := s.measurements.Find(ctx, models.CollectionCurrent, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query current readings: %w", err)
	}
	return records, nil
}

// Historic returns historic readings inside a bounding box and date range
func (s *QueryService) Historic(ctx context.Context, values url.Values) ([]models.Measurement, error) {
	var filter repository.MeasurementFilter

	q, err := schema.ParseHistoricQueryParams(values)
	if err == nil {
		err = q.Validate(s.defaults.EarliestDate, s.Today())
	}
	if err != nil {
		s.fallback(ctx, "historic-data", err)
		box := s.defaults.Box
		filter.Box = &box
		filter.Dates = &models.DateRange{Start: s.defaults.HistoricFrom, End: s.defaults.HistoricTo}
	} else {
		box := q.Box()
		dates := q.Range()
		filter.Box = &box
		filter.Dates = &dates
		filter.Limit = s.limit(q.Limit)
	}

	records, err := s.measurements.Find(ctx, models.CollectionHistoric, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query historic readings: %w", err)
	}
	return records, nil
}

// Forecasts returns forecasts dated today or later inside a bounding box
func (s *QueryService) Forecasts(ctx context.Context, values url.Values) ([]models.Forecast, error) {
	filter := repository.ForecastFilter{FromDate: s.Today()}

	q, err := schema.ParseQueryParams(values)
	if err == nil {
		err = q.Validate()
	}
	if err != nil {
		s.fallback(ctx, "forecasts", err)
		box := s.defaults.Box
		filter.Box = &box
	} else {
		box := q.Box()
		filter.Box = &box
		filter.Limit = s.limit(q.Limit)
	}

	records, err := s.forecasts.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query forecasts: %w", err)
	}
	return records, nil
}

// ModelData returns the historic readings for each query's exact location
// and date window, concatenated in query order
func (s *QueryService) ModelData(ctx context.Context, queries []schema.ModelDataQuery) ([]models.Measurement, error) {
	out := make([]models.Measurement, 0)

	for i := range queries {
		q := &queries[i]
		filter := repository.MeasurementFilter{
			Dates: &models.DateRange{Start: *q.Start, End: *q.End},
			Lat:   q.Location.Lat,
			Long:  q.Location.Long,
		}

		records, err := s.measurements.Find(ctx, models.CollectionHistoric, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to query model data %d: %w", i, err)
		}
		out = append(out, records...)
	}
	return out, nil
}
