// Package upload implements the presigned upload flow: issuing upload URLs,
// the client that uses them, and the handler that completes an upload once
// storage reports the object.
package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/highlightai/highlight/internal/config"
	"github.com/highlightai/highlight/internal/logging"
	"github.com/highlightai/highlight/internal/metrics"
	"github.com/highlightai/highlight/internal/storage"
	"github.com/highlightai/highlight/pkg/models"
)

var (
	ErrUnsupportedType = errors.New("unsupported content type")
	ErrFileTooLarge    = errors.New("file too large")
	ErrInvalidRequest  = errors.New("invalid upload request")
)

const defaultPresignExpiry = 15 * time.Minute

// VideoStore creates video records
type VideoStore interface {
	CreateVideo(ctx context.Context, video *models.Video) error
}

// Presigner issues presigned PUT URLs
type Presigner interface {
	PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Service hands out presigned upload URLs
type Service struct {
	videos    VideoStore
	presigner Presigner
	expiry    time.Duration
	maxSize   int64
	logger    *logging.Logger
	now       func() time.Time
}

// NewService creates a presign service using the storage limits in cfg
func NewService(videos VideoStore, presigner Presigner, cfg config.StorageConfig, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = defaultPresignExpiry
	}
	return &Service{
		videos:    videos,
		presigner: presigner,
		expiry:    expiry,
		maxSize:   cfg.MaxUploadSize,
		logger:    logger,
		now:       time.Now,
	}
}

// Presign validates req, records a pending video owned by userID and
// returns where to PUT the file.
func (s *Service) Presign(ctx context.Context, userID string, req models.PresignRequest) (*models.PresignResponse, error) {
	filename := SanitizeFilename(req.Filename)
	switch {
	case userID == "":
		return nil, fmt.Errorf("%w: missing user", ErrInvalidRequest)
	case filename == "":
		return nil, fmt.Errorf("%w: missing filename", ErrInvalidRequest)
	case req.FileSize <= 0:
		return nil, fmt.Errorf("%w: fileSize must be positive", ErrInvalidRequest)
	case !storage.IsVideo(req.ContentType):
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, req.ContentType)
	case s.maxSize > 0 && req.FileSize > s.maxSize:
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, req.FileSize, s.maxSize)
	}

	videoID := uuid.New().String()
	key := BuildKey(userID, videoID, s.now(), filename)

	uploadURL, err := s.presigner.PresignPut(ctx, key, s.expiry)
	if err != nil {
		return nil, err
	}

	video := &models.Video{
		ID:          videoID,
		UserID:      userID,
		Filename:    filename,
		S3Key:       key,
		ContentType: req.ContentType,
		Size:        req.FileSize,
		Status:      models.VideoStatusPending,
	}
	if err := s.videos.CreateVideo(ctx, video); err != nil {
		return nil, err
	}

	metrics.RecordUpload("presigned", req.FileSize)
	s.logger.WithVideoID(videoID).WithUserID(userID).Infof("issued upload URL for %s", key)

	return &models.PresignResponse{
		VideoID:   videoID,
		UploadURL: uploadURL,
		S3Key:     key,
		ExpiresIn: int(s.expiry.Seconds()),
	}, nil
}
