// Package ingest validates analytics events received from clients and fans
// them out to the warehouse, the message queue and the engagement counters.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/highlightai/highlight/internal/logging"
	"github.com/highlightai/highlight/internal/metrics"
	"github.com/highlightai/highlight/pkg/models"
)

// ErrInvalidEvent is returned when a payload fails validation
var ErrInvalidEvent = errors.New("invalid analytics event")

// EventWriter persists stored events
type EventWriter interface {
	Insert(ctx context.Context, events []models.StoredEvent) error
}

// EventPublisher forwards stored events to downstream consumers
type EventPublisher interface {
	PublishEvents(ctx context.Context, events []models.StoredEvent) error
}

// ViewRecorder counts video views
type ViewRecorder interface {
	RecordView(ctx context.Context, videoID string) (models.Engagement, error)
}

// Meta is what the server knows about a request besides its body
type Meta struct {
	ClientIP string
	// UserID of the authenticated caller. When set it replaces the user id
	// carried in the events.
	UserID string
}

// Service ingests analytics events
type Service struct {
	writer    EventWriter
	publisher EventPublisher
	views     ViewRecorder
	logger    *logging.Logger
	now       func() time.Time
}

// NewService creates an ingest service. publisher and views may be nil.
func NewService(writer EventWriter, publisher EventPublisher, views ViewRecorder, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{
		writer:    writer,
		publisher: publisher,
		views:     views,
		logger:    logger,
		now:       time.Now,
	}
}

// IngestView stores a batch of view events. The whole batch is rejected if
// any event is invalid.
func (s *Service) IngestView(ctx context.Context, meta Meta, events []models.ViewEvent) error {
	if len(events) == 0 {
		return fmt.Errorf("%w: no events", ErrInvalidEvent)
	}

	receivedAt := s.now().UTC()
	stored := make([]models.StoredEvent, 0, len(events))
	for i := range events {
		if err := ValidateView(events[i]); err != nil {
			return err
		}
		if meta.UserID != "" {
			events[i].UserID = meta.UserID
		}
		payload, err := json.Marshal(events[i])
		if err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		stored = append(stored, models.StoredEvent{
			EventID:    uuid.New().String(),
			Category:   models.EventCategoryView,
			EventType:  string(events[i].EventType),
			VideoID:    events[i].VideoID,
			UserID:     models.UserIDOrAnonymous(events[i].UserID),
			SessionID:  events[i].SessionID,
			ClientTime: clientTime(events[i].Timestamp, receivedAt),
			ReceivedAt: receivedAt,
			IPAddress:  meta.ClientIP,
			Payload:    string(payload),
		})
	}

	if err := s.store(ctx, models.EventCategoryView, stored, meta.ClientIP); err != nil {
		return err
	}

	if s.views != nil {
		for _, e := range events {
			if e.EventType != models.EventTypeViewStart {
				continue
			}
			if _, err := s.views.RecordView(ctx, e.VideoID); err != nil {
				metrics.RecordError("ingest", "record_view")
				s.logger.WithVideoID(e.VideoID).ErrorWithErr("failed to record view", err)
			}
		}
	}
	return nil
}

// IngestUpload stores a single upload lifecycle event
func (s *Service) IngestUpload(ctx context.Context, meta Meta, event models.UploadEvent) error {
	if err := ValidateUpload(event); err != nil {
		return err
	}
	if meta.UserID != "" {
		event.UserID = meta.UserID
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	receivedAt := s.now().UTC()
	stored := []models.StoredEvent{{
		EventID:    uuid.New().String(),
		Category:   models.EventCategoryUpload,
		EventType:  string(event.EventType),
		VideoID:    event.VideoID,
		UserID:     models.UserIDOrAnonymous(event.UserID),
		ClientTime: clientTime(event.Timestamp, receivedAt),
		ReceivedAt: receivedAt,
		IPAddress:  meta.ClientIP,
		Payload:    string(payload),
	}}

	return s.store(ctx, models.EventCategoryUpload, stored, meta.ClientIP)
}

// store writes to the warehouse, which must succeed, then publishes to the
// queue on a best-effort basis.
func (s *Service) store(ctx context.Context, category string, stored []models.StoredEvent, clientIP string) error {
	if err := s.writer.Insert(ctx, stored); err != nil {
		metrics.RecordError("ingest", "warehouse")
		return fmt.Errorf("failed to store events: %w", err)
	}

	for _, e := range stored {
		metrics.RecordIngest(category, e.EventType, 1)
	}
	s.logger.LogIngest(category, len(stored), clientIP)

	if s.publisher != nil {
		if err := s.publisher.PublishEvents(ctx, stored); err != nil {
			metrics.RecordError("ingest", "publish")
			s.logger.WithField("category", category).ErrorWithErr("failed to publish events", err)
		}
	}
	return nil
}

// ValidateView checks the fields every view event must carry
func ValidateView(e models.ViewEvent) error {
	switch {
	case !e.EventType.Valid():
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, e.EventType)
	case e.VideoID == "":
		return fmt.Errorf("%w: missing videoId", ErrInvalidEvent)
	case e.SessionID == "":
		return fmt.Errorf("%w: missing sessionId", ErrInvalidEvent)
	case e.CurrentTime < 0 || e.Duration < 0:
		return fmt.Errorf("%w: negative playback position", ErrInvalidEvent)
	}
	return nil
}

// ValidateUpload checks the fields every upload event must carry
func ValidateUpload(e models.UploadEvent) error {
	switch {
	case !e.EventType.Valid():
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, e.EventType)
	case e.VideoID == "":
		return fmt.Errorf("%w: missing videoId", ErrInvalidEvent)
	case e.FileSize < 0:
		return fmt.Errorf("%w: negative fileSize", ErrInvalidEvent)
	}
	return nil
}

// clientTime converts an epoch-millis timestamp, falling back to fallback
// when the client sent none.
func clientTime(ms int64, fallback time.Time) time.Time {
	if ms <= 0 {
		return fallback
	}
	return time.UnixMilli(ms).UTC()
}
