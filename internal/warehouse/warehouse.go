package warehouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/highlightai/highlight/internal/config"
	"github.com/highlightai/highlight/internal/metrics"
	"github.com/highlightai/highlight/pkg/models"
)

const insertEvents = `
	INSERT INTO analytics_events (
		event_id, category, event_type, video_id, user_id, session_id,
		client_time, received_at, ip_address, payload
	)
`

const createEvents = `
	CREATE TABLE IF NOT EXISTS analytics_events (
		event_id    String,
		category    LowCardinality(String),
		event_type  LowCardinality(String),
		video_id    String,
		user_id     String,
		session_id  String,
		client_time DateTime64(3),
		received_at DateTime64(3),
		ip_address  String,
		payload     String
	) ENGINE = MergeTree
	PARTITION BY toYYYYMM(received_at)
	ORDER BY (video_id, event_type, client_time)
`

// EventStore writes analytics events to ClickHouse
type EventStore struct {
	conn driver.Conn
}

// New connects to ClickHouse using cfg
func New(cfg config.ClickHouseConfig) (*EventStore, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{{Name: "highlight-api", Version: "1.0.0"}},
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return NewEventStore(conn), nil
}

// NewEventStore wraps an open connection
func NewEventStore(conn driver.Conn) *EventStore {
	return &EventStore{conn: conn}
}

// Migrate creates the events table if needed
func (s *EventStore) Migrate(ctx context.Context) error {
	if err := s.conn.Exec(ctx, createEvents); err != nil {
		return fmt.Errorf("failed to create analytics_events: %w", err)
	}
	return nil
}

// Insert writes events in a single batch. An empty slice is a no-op.
func (s *EventStore) Insert(ctx context.Context, events []models.StoredEvent) (err error) {
	if len(events) == 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		metrics.RecordStorageOperation("warehouse_insert", metrics.Status(err), time.Since(start).Seconds())
	}()

	batch, err := s.conn.PrepareBatch(ctx, insertEvents)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}

	for i := range events {
		e := &events[i]
		if err := batch.Append(
			e.EventID, e.Category, e.EventType, e.VideoID, e.UserID, e.SessionID,
			e.ClientTime, e.ReceivedAt, e.IPAddress, e.Payload,
		); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append event %s: %w", e.EventID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	return nil
}

// EventCounts returns the number of stored events per type for videoID
func (s *EventStore) EventCounts(ctx context.Context, videoID string) (map[string]uint64, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT event_type, count() AS total
		FROM analytics_events
		WHERE video_id = ?
		GROUP BY event_type
	`, videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to query event counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]uint64)
	for rows.Next() {
		var (
			eventType string
			total     uint64
		)
		if err := rows.Scan(&eventType, &total); err != nil {
			return nil, fmt.Errorf("failed to scan event count: %w", err)
		}
		counts[eventType] = total
	}

	return counts, rows.Err()
}

// Ping checks the connection
func (s *EventStore) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Close closes the connection
func (s *EventStore) Close() error {
	return s.conn.Close()
}
