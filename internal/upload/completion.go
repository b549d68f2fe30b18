package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/highlightai/highlight/internal/database"
	"github.com/highlightai/highlight/internal/logging"
	"github.com/highlightai/highlight/internal/metrics"
	"github.com/highlightai/highlight/internal/storage"
	"github.com/highlightai/highlight/pkg/models"
)

const completionLockTTL = 30 * time.Second

// VideoUpdater moves a video out of its pending state
type VideoUpdater interface {
	MarkUploaded(ctx context.Context, id string, size int64) error
	MarkFailed(ctx context.Context, id string) error
}

// ObjectStore looks up and removes stored objects
type ObjectStore interface {
	Stat(ctx context.Context, key string) (*storage.ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// VideoCache is the cache the handler locks on and invalidates
type VideoCache interface {
	AcquireLock(ctx context.Context, resource string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, resource string) error
	DeleteVideo(ctx context.Context, videoID string) error
}

// CompletionHandler marks videos uploaded when storage reports the object
type CompletionHandler struct {
	videos  VideoUpdater
	objects ObjectStore
	cache   VideoCache
	logger  *logging.Logger
	maxSize int64
}

// NewCompletionHandler creates a handler. objects and cache may be nil.
func NewCompletionHandler(videos VideoUpdater, objects ObjectStore, cache VideoCache, logger *logging.Logger) *CompletionHandler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &CompletionHandler{videos: videos, objects: objects, cache: cache, logger: logger}
}

// WithMaxSize makes the handler reject stored objects larger than n bytes.
// A presigned PUT cannot bound the body, so the limit is enforced here.
func (h *CompletionHandler) WithMaxSize(n int64) *CompletionHandler {
	h.maxSize = n
	return h
}

// Handle processes every record of a notification. Records that can never
// succeed are logged and skipped; an error means the notification should be
// retried.
func (h *CompletionHandler) Handle(ctx context.Context, notification models.StorageNotification) error {
	var errs []error
	for _, record := range notification.Records {
		if err := h.handleRecord(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *CompletionHandler) handleRecord(ctx context.Context, record models.StorageRecord) error {
	if record.EventName != "" && !strings.Contains(record.EventName, "ObjectCreated") {
		h.logger.Debugf("ignoring storage event %s", record.EventName)
		return nil
	}

	key, err := ParseKey(record.S3.Object.Key)
	if err != nil {
		metrics.RecordError("completion", "invalid_key")
		h.logger.WithError(err).Warn("skipping notification with malformed key")
		return nil
	}
	log := h.logger.WithVideoID(key.VideoID)

	if h.cache != nil {
		lock := "upload:" + key.VideoID
		acquired, err := h.cache.AcquireLock(ctx, lock, completionLockTTL)
		if err != nil {
			return fmt.Errorf("failed to lock video %s: %w", key.VideoID, err)
		}
		if !acquired {
			return fmt.Errorf("video %s is being completed by another worker", key.VideoID)
		}
		defer func() {
			if err := h.cache.ReleaseLock(ctx, lock); err != nil {
				log.WithError(err).Warn("failed to release completion lock")
			}
		}()
	}

	size := record.S3.Object.Size
	if size <= 0 && h.objects != nil {
		info, err := h.objects.Stat(ctx, record.S3.Object.Key)
		if errors.Is(err, storage.ErrObjectNotFound) {
			log.Warn("uploaded object no longer exists")
			return nil
		}
		if err != nil {
			return err
		}
		size = info.Size
	}

	if h.maxSize > 0 && size > h.maxSize {
		return h.reject(ctx, record.S3.Object.Key, key.VideoID, size)
	}

	if err := h.videos.MarkUploaded(ctx, key.VideoID, size); err != nil {
		if errors.Is(err, database.ErrVideoNotFound) {
			metrics.RecordError("completion", "unknown_video")
			log.Warn("object uploaded for unknown video")
			return nil
		}
		return err
	}

	if h.cache != nil {
		if err := h.cache.DeleteVideo(ctx, key.VideoID); err != nil {
			log.WithError(err).Warn("failed to invalidate cached video")
		}
	}

	metrics.RecordUpload("completed", size)
	log.WithUserID(key.UserID).Infof("video uploaded (%d bytes)", size)
	return nil
}

// reject removes an oversized object and marks its video failed
func (h *CompletionHandler) reject(ctx context.Context, objectKey, videoID string, size int64) error {
	log := h.logger.WithVideoID(videoID)
	log.WithFields(map[string]interface{}{"size": size, "limit": h.maxSize}).Warn("rejecting oversized upload")

	if h.objects != nil {
		if err := h.objects.Delete(ctx, objectKey); err != nil {
			log.WithError(err).Warn("failed to delete oversized object")
		}
	}

	if err := h.videos.MarkFailed(ctx, videoID); err != nil && !errors.Is(err, database.ErrVideoNotFound) {
		return err
	}
	if h.cache != nil {
		if err := h.cache.DeleteVideo(ctx, videoID); err != nil {
			log.WithError(err).Warn("failed to invalidate cached video")
		}
	}

	metrics.RecordUpload("rejected", size)
	return nil
}
