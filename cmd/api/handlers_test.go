package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/highlightai/highlight/internal/database"
	"github.com/highlightai/highlight/internal/ingest"
	"github.com/highlightai/highlight/internal/logging"
	"github.com/highlightai/highlight/internal/middleware"
	"github.com/highlightai/highlight/internal/upload"
	"github.com/highlightai/highlight/pkg/models"
)

type testAPI struct {
	api        *API
	router     *gin.Engine
	repo       *mockRepo
	cache      *mockCache
	engagement *mockEngagement
	ingest     *mockIngester
	uploads    *mockPresigner
	events     *mockEventCounter
	urls       *mockURLSigner
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	middleware.SetJWTSecret("test-secret")

	ta := &testAPI{
		repo:       &mockRepo{},
		cache:      &mockCache{},
		engagement: &mockEngagement{},
		ingest:     &mockIngester{},
		uploads:    &mockPresigner{},
		events:     &mockEventCounter{},
		urls:       &mockURLSigner{},
	}
	ta.api = &API{
		repo:       ta.repo,
		cache:      ta.cache,
		engagement: ta.engagement,
		ingest:     ta.ingest,
		uploads:    ta.uploads,
		events:     ta.events,
		urls:       ta.urls,
		logger:     logging.Nop(),
		health:     map[string]HealthCheck{},
	}
	ta.router = setupRouter(ta.api, middleware.NewRateLimiter(1000, 1000), "*")
	return ta
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := middleware.GenerateToken(userID, userID+"@example.com", time.Hour)
	require.NoError(t, err)
	return tok
}

func (ta *testAPI) do(method, path string, body interface{}, bearer string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, _ := json.Marshal(b)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	ta.router.ServeHTTP(w, req)
	return w
}

func viewEvent() models.ViewEvent {
	return models.ViewEvent{
		EventType: models.EventTypeViewStart,
		VideoID:   "video-1",
		UserID:    models.AnonymousUserID,
		SessionID: "session-1",
		Timestamp: time.Now().UnixMilli(),
	}
}

func TestCollectEvent_View(t *testing.T) {
	ta := newTestAPI(t)
	ta.ingest.On("IngestView", mock.Anything, mock.MatchedBy(func(meta ingest.Meta) bool {
		return meta.UserID == "" && meta.ClientIP != ""
	}), mock.MatchedBy(func(events []models.ViewEvent) bool {
		return len(events) == 1 && events[0].EventType == models.EventTypeViewStart
	})).Return(nil)

	w := ta.do(http.MethodPost, "/analytics/event", viewEvent(), "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	ta.ingest.AssertExpectations(t)
}

func TestCollectEvent_UploadRoutedByType(t *testing.T) {
	ta := newTestAPI(t)
	ta.ingest.On("IngestUpload", mock.Anything, mock.MatchedBy(func(meta ingest.Meta) bool {
		return meta.UserID == "user-1"
	}), mock.MatchedBy(func(e models.UploadEvent) bool {
		return e.EventType == models.EventTypeUploadStart && e.FileSize == 10
	})).Return(nil)

	event := models.UploadEvent{EventType: models.EventTypeUploadStart, VideoID: "temp-1", FileSize: 10}
	w := ta.do(http.MethodPost, "/analytics/event", event, token(t, "user-1"))
	assert.Equal(t, http.StatusAccepted, w.Code)
	ta.ingest.AssertExpectations(t)
	ta.ingest.AssertNotCalled(t, "IngestView", mock.Anything, mock.Anything, mock.Anything)
}

func TestCollectEvent_Errors(t *testing.T) {
	ta := newTestAPI(t)

	w := ta.do(http.MethodPost, "/analytics/event", "{not json", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ta.ingest.On("IngestView", mock.Anything, mock.Anything, mock.Anything).
		Return(ingest.ErrInvalidEvent).Once()
	w = ta.do(http.MethodPost, "/analytics/event", models.ViewEvent{EventType: "bogus"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ta.ingest.On("IngestView", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("clickhouse down")).Once()
	w = ta.do(http.MethodPost, "/analytics/event", viewEvent(), "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCollectBatch_FillsEnvelopeIDs(t *testing.T) {
	ta := newTestAPI(t)

	var got []models.ViewEvent
	ta.ingest.On("IngestView", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		got = args.Get(2).([]models.ViewEvent)
	}).Return(nil)

	pause := viewEvent()
	pause.EventType = models.EventTypePause
	pause.SessionID = ""
	pause.UserID = ""
	batch := models.AnalyticsBatch{
		Events:    []models.ViewEvent{pause, viewEvent()},
		SessionID: "session-9",
		UserID:    "user-9",
	}

	w := ta.do(http.MethodPost, "/analytics/batch", batch, "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"accepted":2}`, w.Body.String())

	require.Len(t, got, 2)
	assert.Equal(t, "session-9", got[0].SessionID)
	assert.Equal(t, "user-9", got[0].UserID)
	assert.Equal(t, "session-1", got[1].SessionID)
}

func TestCollectUpload(t *testing.T) {
	ta := newTestAPI(t)
	ta.ingest.On("IngestUpload", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	w := ta.do(http.MethodPost, "/analytics/upload", models.UploadEvent{EventType: models.EventTypeUploadFailed, VideoID: "v", Error: "boom"}, "")
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = ta.do(http.MethodPost, "/analytics/upload", "[]", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListVideos(t *testing.T) {
	ta := newTestAPI(t)
	videos := []*models.Video{
		{ID: "a", UserID: "u1", S3Key: "videos/a.mp4", Status: models.VideoStatusUploaded},
		{ID: "b", UserID: "u2", S3Key: "videos/b.mp4", Status: models.VideoStatusUploaded},
	}
	ta.repo.On("ListVideos", mock.Anything, 5).Return(videos, nil)
	ta.engagement.On("CountsMany", mock.Anything, []string{"a", "b"}).Return(map[string]models.Engagement{
		"a": {LikeCount: 3, ViewCount: 10},
	}, nil)
	ta.engagement.On("Liked", mock.Anything, "a", "viewer").Return(true, nil)
	ta.engagement.On("Liked", mock.Anything, "b", "viewer").Return(false, nil)
	ta.urls.On("GetURL", mock.Anything, "videos/a.mp4", playbackURLExpiry).Return("https://cdn/a", nil)
	ta.urls.On("GetURL", mock.Anything, "videos/b.mp4", playbackURLExpiry).Return("", errors.New("signing failed"))

	w := ta.do(http.MethodGet, "/api/v1/videos?limit=5", nil, token(t, "viewer"))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Videos []struct {
			VideoID     string `json:"videoId"`
			LikeCount   int64  `json:"likeCount"`
			ViewCount   int64  `json:"viewCount"`
			Liked       bool   `json:"liked"`
			PlaybackURL string `json:"playbackUrl"`
		} `json:"videos"`
		Limit int `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 5, resp.Limit)
	require.Len(t, resp.Videos, 2)
	assert.Equal(t, "a", resp.Videos[0].VideoID)
	assert.Equal(t, int64(3), resp.Videos[0].LikeCount)
	assert.Equal(t, int64(10), resp.Videos[0].ViewCount)
	assert.True(t, resp.Videos[0].Liked)
	assert.Equal(t, "https://cdn/a", resp.Videos[0].PlaybackURL)
	assert.Equal(t, int64(0), resp.Videos[1].LikeCount)
	assert.Empty(t, resp.Videos[1].PlaybackURL)
}

func TestListVideos_Limits(t *testing.T) {
	ta := newTestAPI(t)
	ta.repo.On("ListVideos", mock.Anything, database.DefaultPageSize).Return([]*models.Video{}, nil).Once()
	ta.repo.On("ListVideos", mock.Anything, database.MaxPageSize).Return([]*models.Video{}, nil).Once()

	w := ta.do(http.MethodGet, "/api/v1/videos", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"videos":[],"limit":20}`, w.Body.String())

	w = ta.do(http.MethodGet, "/api/v1/videos?limit=5000", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = ta.do(http.MethodGet, "/api/v1/videos?limit=abc", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	ta.repo.AssertExpectations(t)
}

func TestListUserVideos_HidesUnfinishedFromOthers(t *testing.T) {
	videos := func() []*models.Video {
		return []*models.Video{
			{ID: "a", UserID: "owner", Status: models.VideoStatusUploaded},
			{ID: "b", UserID: "owner", Status: models.VideoStatusPending},
		}
	}

	ta := newTestAPI(t)
	ta.repo.On("ListUserVideos", mock.Anything, "owner", database.DefaultPageSize).Return(videos(), nil).Once()
	ta.engagement.On("CountsMany", mock.Anything, []string{"a"}).Return(map[string]models.Engagement{}, nil)
	ta.urls.On("GetURL", mock.Anything, mock.Anything, mock.Anything).Return("", nil)

	w := ta.do(http.MethodGet, "/api/v1/users/owner/videos", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"videoId":"a"`)
	assert.NotContains(t, w.Body.String(), `"videoId":"b"`)

	ta.repo.On("ListUserVideos", mock.Anything, "owner", database.DefaultPageSize).Return(videos(), nil).Once()
	ta.engagement.On("CountsMany", mock.Anything, []string{"a", "b"}).Return(map[string]models.Engagement{}, nil)
	ta.engagement.On("Liked", mock.Anything, mock.Anything, "owner").Return(false, nil)

	w = ta.do(http.MethodGet, "/api/v1/users/owner/videos", nil, token(t, "owner"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"videoId":"b"`)
}

func TestGetVideo_ReadsThroughCache(t *testing.T) {
	ta := newTestAPI(t)
	video := &models.Video{ID: "a", Status: models.VideoStatusPending}

	ta.cache.On("GetVideo", mock.Anything, "a").Return(nil, nil).Once()
	ta.repo.On("GetVideo", mock.Anything, "a").Return(video, nil).Once()
	ta.cache.On("SetVideo", mock.Anything, video, videoCacheTTL).Return(nil).Once()
	ta.engagement.On("CountsMany", mock.Anything, []string{"a"}).Return(map[string]models.Engagement{}, nil)

	w := ta.do(http.MethodGet, "/api/v1/videos/a", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	ta.cache.On("GetVideo", mock.Anything, "a").Return(video, nil).Once()
	w = ta.do(http.MethodGet, "/api/v1/videos/a", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	ta.repo.AssertNumberOfCalls(t, "GetVideo", 1)
	ta.cache.AssertExpectations(t)
}

func TestGetVideo_NotFound(t *testing.T) {
	ta := newTestAPI(t)
	ta.cache.On("GetVideo", mock.Anything, "missing").Return(nil, errors.New("redis down"))
	ta.repo.On("GetVideo", mock.Anything, "missing").Return(nil, database.ErrVideoNotFound)

	w := ta.do(http.MethodGet, "/api/v1/videos/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLikeRequiresAuth(t *testing.T) {
	ta := newTestAPI(t)

	w := ta.do(http.MethodPost, "/api/v1/videos/a/like", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	ta.engagement.On("Like", mock.Anything, "a", "user-1").Return(models.Engagement{LikeCount: 1}, nil)
	w = ta.do(http.MethodPost, "/api/v1/videos/a/like", nil, token(t, "user-1"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"likeCount":1`)

	ta.engagement.On("Unlike", mock.Anything, "a", "user-1").Return(models.Engagement{}, nil)
	w = ta.do(http.MethodDelete, "/api/v1/videos/a/like", nil, token(t, "user-1"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEngagementEndpoints(t *testing.T) {
	ta := newTestAPI(t)
	ta.engagement.On("RecordView", mock.Anything, "a").Return(models.Engagement{ViewCount: 8}, nil)
	ta.engagement.On("Counts", mock.Anything, "a").Return(models.Engagement{LikeCount: 2, ViewCount: 8}, nil)
	ta.engagement.On("Liked", mock.Anything, "a", "user-1").Return(true, nil)

	w := ta.do(http.MethodPost, "/api/v1/videos/a/view", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"viewCount":8`)

	w = ta.do(http.MethodGet, "/api/v1/videos/a/engagement", nil, token(t, "user-1"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"videoId":"a","likeCount":2,"commentCount":0,"viewCount":8,"liked":true}`, w.Body.String())

	ta.engagement.On("Counts", mock.Anything, "down").Return(models.Engagement{}, errors.New("redis down"))
	w = ta.do(http.MethodGet, "/api/v1/videos/down/engagement", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStreamEngagement(t *testing.T) {
	ta := newTestAPI(t)
	updates := make(chan models.EngagementUpdate, 1)
	ta.engagement.On("Subscribe", mock.Anything, "a").Return(updates, nil)
	ta.engagement.On("Counts", mock.Anything, "a").Return(models.Engagement{LikeCount: 1}, nil)

	server := httptest.NewServer(ta.router)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/v1/videos/a/engagement/stream", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readData := func() models.EngagementUpdate {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if strings.HasPrefix(line, "data:") {
				var u models.EngagementUpdate
				require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &u))
				return u
			}
		}
	}

	first := readData()
	assert.Equal(t, "a", first.VideoID)
	assert.Equal(t, int64(1), first.LikeCount)

	updates <- models.EngagementUpdate{VideoID: "a", Engagement: models.Engagement{LikeCount: 2}}
	second := readData()
	assert.Equal(t, int64(2), second.LikeCount)

	close(updates)
}

func TestPresignUpload(t *testing.T) {
	ta := newTestAPI(t)
	req := models.PresignRequest{Filename: "a.mp4", ContentType: "video/mp4", FileSize: 10}

	w := ta.do(http.MethodPost, "/upload/presigned-url", req, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	ta.uploads.On("Presign", mock.Anything, "user-1", req).Return(&models.PresignResponse{
		VideoID: "v1", UploadURL: "https://put", S3Key: "videos/k", ExpiresIn: 900,
	}, nil).Once()
	w = ta.do(http.MethodPost, "/upload/presigned-url", req, token(t, "user-1"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"videoId":"v1","uploadUrl":"https://put","s3Key":"videos/k","expiresIn":900}`, w.Body.String())

	ta.uploads.On("Presign", mock.Anything, "user-1", req).Return(nil, upload.ErrFileTooLarge).Once()
	w = ta.do(http.MethodPost, "/upload/presigned-url", req, token(t, "user-1"))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	ta.uploads.On("Presign", mock.Anything, "user-1", req).Return(nil, upload.ErrUnsupportedType).Once()
	w = ta.do(http.MethodPost, "/upload/presigned-url", req, token(t, "user-1"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ta.do(http.MethodPost, "/upload/presigned-url", map[string]string{"filename": "a.mp4"}, token(t, "user-1"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVideoAnalytics_OwnerOnly(t *testing.T) {
	ta := newTestAPI(t)
	ta.repo.On("GetVideo", mock.Anything, "a").Return(&models.Video{ID: "a", UserID: "owner"}, nil)
	ta.events.On("EventCounts", mock.Anything, "a").Return(map[string]uint64{"view_start": 4}, nil)

	w := ta.do(http.MethodGet, "/api/v1/videos/a/analytics", nil, token(t, "someone"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ta.do(http.MethodGet, "/api/v1/videos/a/analytics", nil, token(t, "owner"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"videoId":"a","events":{"view_start":4}}`, w.Body.String())
}

func TestHealthCheck(t *testing.T) {
	ta := newTestAPI(t)
	ta.api.health["postgres"] = func(context.Context) error { return nil }

	w := ta.do(http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	ta.api.health["redis"] = func(context.Context) error { return errors.New("connection refused") }
	w = ta.do(http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}
