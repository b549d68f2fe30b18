package main

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/highlightai/highlight/internal/ingest"
	"github.com/highlightai/highlight/pkg/models"
)

type mockRepo struct{ mock.Mock }

func (m *mockRepo) GetVideo(ctx context.Context, id string) (*models.Video, error) {
	args := m.Called(ctx, id)
	video, _ := args.Get(0).(*models.Video)
	return video, args.Error(1)
}

func (m *mockRepo) ListVideos(ctx context.Context, limit int) ([]*models.Video, error) {
	args := m.Called(ctx, limit)
	videos, _ := args.Get(0).([]*models.Video)
	return videos, args.Error(1)
}

func (m *mockRepo) ListUserVideos(ctx context.Context, userID string, limit int) ([]*models.Video, error) {
	args := m.Called(ctx, userID, limit)
	videos, _ := args.Get(0).([]*models.Video)
	return videos, args.Error(1)
}

type mockCache struct{ mock.Mock }

func (m *mockCache) GetVideo(ctx context.Context, videoID string) (*models.Video, error) {
	args := m.Called(ctx, videoID)
	video, _ := args.Get(0).(*models.Video)
	return video, args.Error(1)
}

func (m *mockCache) SetVideo(ctx context.Context, video *models.Video, ttl time.Duration) error {
	args := m.Called(ctx, video, ttl)
	return args.Error(0)
}

type mockEngagement struct{ mock.Mock }

func (m *mockEngagement) Like(ctx context.Context, videoID, userID string) (models.Engagement, error) {
	args := m.Called(ctx, videoID, userID)
	return args.Get(0).(models.Engagement), args.Error(1)
}

func (m *mockEngagement) Unlike(ctx context.Context, videoID, userID string) (models.Engagement, error) {
	args := m.Called(ctx, videoID, userID)
	return args.Get(0).(models.Engagement), args.Error(1)
}

func (m *mockEngagement) RecordView(ctx context.Context, videoID string) (models.Engagement, error) {
	args := m.Called(ctx, videoID)
	return args.Get(0).(models.Engagement), args.Error(1)
}

func (m *mockEngagement) Counts(ctx context.Context, videoID string) (models.Engagement, error) {
	args := m.Called(ctx, videoID)
	return args.Get(0).(models.Engagement), args.Error(1)
}

func (m *mockEngagement) CountsMany(ctx context.Context, videoIDs []string) (map[string]models.Engagement, error) {
	args := m.Called(ctx, videoIDs)
	counts, _ := args.Get(0).(map[string]models.Engagement)
	return counts, args.Error(1)
}

func (m *mockEngagement) Liked(ctx context.Context, videoID, userID string) (bool, error) {
	args := m.Called(ctx, videoID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *mockEngagement) Subscribe(ctx context.Context, videoID string) (<-chan models.EngagementUpdate, error) {
	args := m.Called(ctx, videoID)
	updates, _ := args.Get(0).(chan models.EngagementUpdate)
	if updates == nil {
		return nil, args.Error(1)
	}
	return updates, args.Error(1)
}

type mockIngester struct{ mock.Mock }

func (m *mockIngester) IngestView(ctx context.Context, meta ingest.Meta, events []models.ViewEvent) error {
	args := m.Called(ctx, meta, events)
	return args.Error(0)
}

func (m *mockIngester) IngestUpload(ctx context.Context, meta ingest.Meta, event models.UploadEvent) error {
	args := m.Called(ctx, meta, event)
	return args.Error(0)
}

type mockPresigner struct{ mock.Mock }

func (m *mockPresigner) Presign(ctx context.Context, userID string, req models.PresignRequest) (*models.PresignResponse, error) {
	args := m.Called(ctx, userID, req)
	resp, _ := args.Get(0).(*models.PresignResponse)
	return resp, args.Error(1)
}

type mockEventCounter struct{ mock.Mock }

func (m *mockEventCounter) EventCounts(ctx context.Context, videoID string) (map[string]uint64, error) {
	args := m.Called(ctx, videoID)
	counts, _ := args.Get(0).(map[string]uint64)
	return counts, args.Error(1)
}

type mockURLSigner struct{ mock.Mock }

func (m *mockURLSigner) GetURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	args := m.Called(ctx, key, expiry)
	return args.String(0), args.Error(1)
}
