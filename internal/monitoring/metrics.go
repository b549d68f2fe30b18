package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/highlightai/highlight/internal/logging"
	"github.com/highlightai/highlight/internal/metrics"
	"github.com/highlightai/highlight/internal/queue"
	"github.com/highlightai/highlight/pkg/models"
)

// Health levels reported by Monitor.Health
const (
	HealthHealthy  = "healthy"
	HealthWarning  = "warning"
	HealthCritical = "critical"
)

// Alert thresholds
const (
	maxDLQDepth       = 100
	maxQueueDepth     = 1000
	maxFailureRate    = 0.1
	defaultPollPeriod = 10 * time.Second
)

// Metrics holds the worker's view of the upload pipeline
type Metrics struct {
	UploadQueueDepth    int       `json:"upload_queue_depth"`
	AnalyticsQueueDepth int       `json:"analytics_queue_depth"`
	DLQDepth            int       `json:"dlq_depth"`
	Processed           int64     `json:"processed"`
	Failed              int64     `json:"failed"`
	LastUpdated         time.Time `json:"last_updated"`
}

// QueueProvider defines the interface for queue metrics
type QueueProvider interface {
	GetQueueDepth(queueName string) (int, error)
	GetDLQDepth() (int, error)
}

// Monitor polls queue depths and counts handled notifications
type Monitor struct {
	mu      sync.RWMutex
	metrics Metrics
	queues  QueueProvider
	logger  *logging.Logger
	period  time.Duration
}

// NewMonitor creates a new monitoring service
func NewMonitor(queues QueueProvider, logger *logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Monitor{
		metrics: Metrics{LastUpdated: time.Now()},
		queues:  queues,
		logger:  logger,
		period:  defaultPollPeriod,
	}
}

// Start polls until ctx is done
func (m *Monitor) Start(ctx context.Context) {
	go m.collectMetrics(ctx)
}

func (m *Monitor) collectMetrics(ctx context.Context) {
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Update(); err != nil {
				m.logger.WithError(err).Warn("Failed to update queue metrics")
				continue
			}
			for _, alert := range m.Alerts() {
				m.logger.Warn(alert)
			}
		}
	}
}

// Update refreshes the queue depths and exports them as gauges
func (m *Monitor) Update() error {
	uploads, err := m.queues.GetQueueDepth(queue.UploadQueueName)
	if err != nil {
		return fmt.Errorf("failed to get upload queue depth: %w", err)
	}
	events, err := m.queues.GetQueueDepth(queue.AnalyticsQueueName)
	if err != nil {
		return fmt.Errorf("failed to get analytics queue depth: %w", err)
	}
	dlq, err := m.queues.GetDLQDepth()
	if err != nil {
		return fmt.Errorf("failed to get DLQ depth: %w", err)
	}

	metrics.SetQueueDepth(queue.UploadQueueName, uploads)
	metrics.SetQueueDepth(queue.AnalyticsQueueName, events)
	metrics.SetQueueDepth(queue.DeadLetterQueueName, dlq)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics.UploadQueueDepth = uploads
	m.metrics.AnalyticsQueueDepth = events
	m.metrics.DLQDepth = dlq
	m.metrics.LastUpdated = time.Now()
	return nil
}

// Track wraps a notification handler so its outcomes are counted
func (m *Monitor) Track(handler queue.NotificationHandler) queue.NotificationHandler {
	return func(ctx context.Context, notification models.StorageNotification) error {
		err := handler(ctx, notification)

		m.mu.Lock()
		if err != nil {
			m.metrics.Failed++
		} else {
			m.metrics.Processed++
		}
		m.mu.Unlock()

		return err
	}
}

// GetMetrics returns a copy of the current metrics
func (m *Monitor) GetMetrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}

// Health returns overall pipeline health
func (m *Monitor) Health() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.metrics.DLQDepth > maxDLQDepth {
		return HealthCritical
	}
	if m.metrics.UploadQueueDepth > maxQueueDepth || m.metrics.AnalyticsQueueDepth > maxQueueDepth {
		return HealthWarning
	}
	if m.failureRate() > maxFailureRate {
		return HealthWarning
	}
	return HealthHealthy
}

// Alerts returns a message for every threshold currently exceeded
func (m *Monitor) Alerts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var alerts []string

	if m.metrics.DLQDepth > maxDLQDepth {
		alerts = append(alerts, fmt.Sprintf("High DLQ depth: %d messages", m.metrics.DLQDepth))
	}

	if m.metrics.UploadQueueDepth > maxQueueDepth {
		alerts = append(alerts, fmt.Sprintf("High upload queue depth: %d notifications pending", m.metrics.UploadQueueDepth))
	}

	if m.metrics.AnalyticsQueueDepth > maxQueueDepth {
		alerts = append(alerts, fmt.Sprintf("High analytics queue depth: %d events pending", m.metrics.AnalyticsQueueDepth))
	}

	if rate := m.failureRate(); rate > maxFailureRate {
		alerts = append(alerts, fmt.Sprintf("High failure rate: %.1f%%", rate*100))
	}

	return alerts
}

func (m *Monitor) failureRate() float64 {
	total := m.metrics.Processed + m.metrics.Failed
	if total == 0 {
		return 0
	}
	return float64(m.metrics.Failed) / float64(total)
}
