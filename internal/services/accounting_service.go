package services

import (
	"context"
	"sync"
	"time"

	"aqi-platform/internal/models"
	"aqi-platform/internal/repository"
	"aqi-platform/pkg/events"
	"aqi-platform/pkg/logging"
	"aqi-platform/pkg/metrics"
)

const accountingTimeout = 5 * time.Second

// AccountingService records which resource each token used. Writes run in
// the background and never fail the request that triggered them.
type AccountingService struct {
	repo      repository.RequestRepository
	publisher events.Publisher
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector
	now       func() time.Time

	wg sync.WaitGroup
}

// NewAccountingService creates a new accounting service. publisher may be
// events.NopPublisher{} when no analytics stream is configured.
func NewAccountingService(repo repository.RequestRepository, publisher events.Publisher, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *AccountingService {
	return &AccountingService{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		metrics:   metricsCollector,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Record stores a request record for token and resource without blocking
func (s *AccountingService) Record(ctx context.Context, token, resource string) {
	req := models.Request{
		UserToken: token,
		Resource:  resource,
		TimeUsed:  s.now(),
	}

	detached := context.WithoutCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(detached, accountingTimeout)
		defer cancel()

		if err := s.repo.Insert(ctx, req); err != nil {
			s.metrics.RecordAccountingFailure("database")
			s.logger.Error(ctx, "[ACCOUNTING_ERROR] Failed to record request", logging.Fields{
				"resource": resource,
			}, err)
		}

		if err := s.publisher.Publish(ctx, token, req); err != nil {
			s.metrics.RecordAccountingFailure("stream")
			s.logger.Warn(ctx, "[ACCOUNTING_STREAM_ERROR] Failed to publish request record", logging.Fields{
				"resource": resource,
				"error":    err.Error(),
			})
		}
	}()
}

// Close waits for in-flight records to finish
func (s *AccountingService) Close() {
	s.wg.Wait()
}
