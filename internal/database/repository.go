package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/highlightai/highlight/internal/metrics"
	"github.com/highlightai/highlight/pkg/models"
)

// ErrVideoNotFound is returned when no video row matches
var ErrVideoNotFound = errors.New("video not found")

// Feed page sizes
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ClampLimit maps a requested page size onto [1, MaxPageSize], using
// DefaultPageSize for non-positive values.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageSize
	case limit > MaxPageSize:
		return MaxPageSize
	default:
		return limit
	}
}

// Repository provides video metadata operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

const videoColumns = `id, user_id, filename, s3_key, content_type, size, uploaded_size, status, created_at, updated_at`

func scanVideo(row pgx.Row) (*models.Video, error) {
	var video models.Video
	err := row.Scan(
		&video.ID, &video.UserID, &video.Filename, &video.S3Key, &video.ContentType,
		&video.Size, &video.UploadedSize, &video.Status, &video.CreatedAt, &video.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &video, nil
}

// track times op; call the result deferred with the named error result
func track(op string) func(*error) {
	start := time.Now()
	return func(err *error) {
		metrics.RecordDatabaseOperation(op, metrics.Status(*err), time.Since(start).Seconds())
	}
}

// CreateVideo inserts a new video. Missing ids and statuses are filled in.
func (r *Repository) CreateVideo(ctx context.Context, video *models.Video) (err error) {
	defer track("create_video")(&err)

	if video.ID == "" {
		video.ID = uuid.New().String()
	}
	if video.Status == "" {
		video.Status = models.VideoStatusPending
	}

	query := `
		INSERT INTO videos (id, user_id, filename, s3_key, content_type, size, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err = r.db.Pool.QueryRow(ctx, query,
		video.ID, video.UserID, video.Filename, video.S3Key, video.ContentType, video.Size, video.Status,
	).Scan(&video.CreatedAt, &video.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create video: %w", err)
	}

	return nil
}

// GetVideo retrieves a video by ID
func (r *Repository) GetVideo(ctx context.Context, id string) (video *models.Video, err error) {
	defer track("get_video")(&err)

	query := `SELECT ` + videoColumns + ` FROM videos WHERE id = $1`

	video, err = scanVideo(r.db.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrVideoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}

	return video, nil
}

// ListVideos returns the newest uploaded videos
func (r *Repository) ListVideos(ctx context.Context, limit int) (videos []*models.Video, err error) {
	defer track("list_videos")(&err)

	query := `
		SELECT ` + videoColumns + `
		FROM videos
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	return r.queryVideos(ctx, "list videos", query, models.VideoStatusUploaded, ClampLimit(limit))
}

// ListUserVideos returns every video of userID, newest first
func (r *Repository) ListUserVideos(ctx context.Context, userID string, limit int) (videos []*models.Video, err error) {
	defer track("list_user_videos")(&err)

	query := `
		SELECT ` + videoColumns + `
		FROM videos
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	return r.queryVideos(ctx, "list user videos", query, userID, ClampLimit(limit))
}

func (r *Repository) queryVideos(ctx context.Context, op, query string, args ...interface{}) ([]*models.Video, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	videos := make([]*models.Video, 0)
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan video: %w", err)
		}
		videos = append(videos, video)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}

	return videos, nil
}

// MarkUploaded flags a video as stored with its final object size
func (r *Repository) MarkUploaded(ctx context.Context, id string, size int64) (err error) {
	defer track("mark_uploaded")(&err)
	return r.setStatus(ctx, id, models.VideoStatusUploaded, size)
}

// MarkFailed flags a video whose upload could not be completed
func (r *Repository) MarkFailed(ctx context.Context, id string) (err error) {
	defer track("mark_failed")(&err)
	return r.setStatus(ctx, id, models.VideoStatusFailed, 0)
}

func (r *Repository) setStatus(ctx context.Context, id, status string, size int64) error {
	query := `
		UPDATE videos
		SET status = $2, uploaded_size = GREATEST(uploaded_size, $3), updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query, id, status, size)
	if err != nil {
		return fmt.Errorf("failed to update video status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVideoNotFound
	}

	return nil
}
