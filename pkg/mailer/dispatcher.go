package mailer

import (
	"context"
	"sync"
	"time"

	"aqi-platform/pkg/logging"
	"aqi-platform/pkg/metrics"
)

const sendTimeout = 30 * time.Second

// Dispatcher hands messages to a Notifier from a bounded queue so request
// handlers never wait on SMTP
type Dispatcher struct {
	notifier Notifier
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector

	queue chan Message
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts workers goroutines draining a queue of queueSize
func NewDispatcher(notifier Notifier, queueSize, workers int, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	if workers <= 0 {
		workers = 1
	}

	d := &Dispatcher{
		notifier: notifier,
		logger:   logger,
		metrics:  metricsCollector,
		queue:    make(chan Message, queueSize),
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	return d
}

// Enqueue queues msg without blocking. It returns false when the queue is
// full or the dispatcher is closed.
func (d *Dispatcher) Enqueue(ctx context.Context, msg Message) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(ctx, msg, "closed")
		return false
	}

	select {
	case d.queue <- msg:
		d.metrics.NotificationQueue.Inc()
		return true
	default:
		d.drop(ctx, msg, "queue_full")
		return false
	}
}

func (d *Dispatcher) drop(ctx context.Context, msg Message, reason string) {
	d.metrics.RecordNotification("dropped")
	d.logger.Warn(ctx, "[MAIL_DROPPED] Token email not queued", logging.Fields{
		"to":      msg.To,
		"subject": msg.Subject,
		"reason":  reason,
	})
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	for msg := range d.queue {
		d.metrics.NotificationQueue.Dec()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)

		start := time.Now()
		err := d.notifier.Send(ctx, msg)
		cancel()

		if err != nil {
			d.metrics.RecordNotification("failed")
			d.logger.Error(ctx, "[MAIL_FAILED] Token email delivery failed", logging.Fields{
				"worker":  id,
				"to":      msg.To,
				"subject": msg.Subject,
			}, err)
			continue
		}

		d.metrics.RecordNotification("sent")
		d.logger.Info(ctx, "[MAIL_SENT] Token email delivered", logging.Fields{
			"worker":      id,
			"to":          msg.To,
			"subject":     msg.Subject,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}
}

// Close stops accepting messages and waits for queued ones to be sent
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}
