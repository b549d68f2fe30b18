package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/highlightai/highlight/pkg/models"
)

type mockWriter struct{ mock.Mock }

func (m *mockWriter) Insert(ctx context.Context, events []models.StoredEvent) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) PublishEvents(ctx context.Context, events []models.StoredEvent) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

type mockViews struct{ mock.Mock }

func (m *mockViews) RecordView(ctx context.Context, videoID string) (models.Engagement, error) {
	args := m.Called(ctx, videoID)
	return args.Get(0).(models.Engagement), args.Error(1)
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestService(w *mockWriter, p *mockPublisher, v *mockViews) *Service {
	s := NewService(w, p, v, nil)
	s.now = func() time.Time { return fixedNow }
	return s
}

func viewEvent(t models.ViewEventType) models.ViewEvent {
	return models.ViewEvent{
		EventType:   t,
		VideoID:     "video-1",
		UserID:      "user-1",
		SessionID:   "session-1",
		Timestamp:   fixedNow.Add(-time.Second).UnixMilli(),
		CurrentTime: 1,
		Duration:    30,
	}
}

func TestIngestView_StoresPublishesAndCounts(t *testing.T) {
	w, p, v := &mockWriter{}, &mockPublisher{}, &mockViews{}
	s := newTestService(w, p, v)

	var stored []models.StoredEvent
	w.On("Insert", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		stored = args.Get(1).([]models.StoredEvent)
	}).Return(nil)
	p.On("PublishEvents", mock.Anything, mock.Anything).Return(nil)
	v.On("RecordView", mock.Anything, "video-1").Return(models.Engagement{ViewCount: 1}, nil).Once()

	events := []models.ViewEvent{viewEvent(models.EventTypeViewStart), viewEvent(models.EventTypePause)}
	err := s.IngestView(context.Background(), Meta{ClientIP: "10.0.0.1"}, events)
	require.NoError(t, err)

	require.Len(t, stored, 2)
	first := stored[0]
	assert.NotEmpty(t, first.EventID)
	assert.NotEqual(t, first.EventID, stored[1].EventID)
	assert.Equal(t, models.EventCategoryView, first.Category)
	assert.Equal(t, "view_start", first.EventType)
	assert.Equal(t, "user-1", first.UserID)
	assert.Equal(t, "session-1", first.SessionID)
	assert.Equal(t, "10.0.0.1", first.IPAddress)
	assert.Equal(t, fixedNow, first.ReceivedAt)
	assert.Equal(t, fixedNow.Add(-time.Second), first.ClientTime)

	var payload models.ViewEvent
	require.NoError(t, json.Unmarshal([]byte(first.Payload), &payload))
	assert.Equal(t, "video-1", payload.VideoID)

	w.AssertExpectations(t)
	p.AssertExpectations(t)
	v.AssertExpectations(t)
}

func TestIngestView_AuthenticatedUserOverrides(t *testing.T) {
	w := &mockWriter{}
	s := newTestService(w, nil, nil)
	s.publisher = nil
	s.views = nil

	w.On("Insert", mock.Anything, mock.MatchedBy(func(events []models.StoredEvent) bool {
		return len(events) == 1 && events[0].UserID == "token-user"
	})).Return(nil)

	err := s.IngestView(context.Background(), Meta{UserID: "token-user"}, []models.ViewEvent{viewEvent(models.EventTypeSeek)})
	require.NoError(t, err)
	w.AssertExpectations(t)
}

func TestIngestView_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.ViewEvent)
	}{
		{"unknown type", func(e *models.ViewEvent) { e.EventType = "rewind" }},
		{"missing video", func(e *models.ViewEvent) { e.VideoID = "" }},
		{"missing session", func(e *models.ViewEvent) { e.SessionID = "" }},
		{"negative time", func(e *models.ViewEvent) { e.CurrentTime = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &mockWriter{}
			s := newTestService(w, nil, nil)
			e := viewEvent(models.EventTypeResume)
			tt.mutate(&e)

			err := s.IngestView(context.Background(), Meta{}, []models.ViewEvent{viewEvent(models.EventTypePause), e})
			assert.ErrorIs(t, err, ErrInvalidEvent)
			w.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
		})
	}

	s := newTestService(&mockWriter{}, nil, nil)
	assert.ErrorIs(t, s.IngestView(context.Background(), Meta{}, nil), ErrInvalidEvent)
}

func TestIngestView_WarehouseFailure(t *testing.T) {
	w, p := &mockWriter{}, &mockPublisher{}
	s := newTestService(w, p, nil)
	w.On("Insert", mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	err := s.IngestView(context.Background(), Meta{}, []models.ViewEvent{viewEvent(models.EventTypePause)})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidEvent)
	p.AssertNotCalled(t, "PublishEvents", mock.Anything, mock.Anything)
}

func TestIngestView_SideEffectFailuresAreAbsorbed(t *testing.T) {
	w, p, v := &mockWriter{}, &mockPublisher{}, &mockViews{}
	s := newTestService(w, p, v)
	w.On("Insert", mock.Anything, mock.Anything).Return(nil)
	p.On("PublishEvents", mock.Anything, mock.Anything).Return(errors.New("channel closed"))
	v.On("RecordView", mock.Anything, "video-1").Return(models.Engagement{}, errors.New("redis down"))

	err := s.IngestView(context.Background(), Meta{}, []models.ViewEvent{viewEvent(models.EventTypeViewStart)})
	assert.NoError(t, err)
	v.AssertExpectations(t)
}

func TestIngestUpload(t *testing.T) {
	w, p := &mockWriter{}, &mockPublisher{}
	s := newTestService(w, p, nil)

	var stored []models.StoredEvent
	w.On("Insert", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		stored = args.Get(1).([]models.StoredEvent)
	}).Return(nil)
	p.On("PublishEvents", mock.Anything, mock.Anything).Return(nil)

	ms := int64(1500)
	event := models.UploadEvent{
		EventType:      models.EventTypeUploadComplete,
		VideoID:        "video-1",
		FileSize:       1024,
		UploadDuration: &ms,
	}
	require.NoError(t, s.IngestUpload(context.Background(), Meta{ClientIP: "10.0.0.2"}, event))

	require.Len(t, stored, 1)
	assert.Equal(t, models.EventCategoryUpload, stored[0].Category)
	assert.Equal(t, "upload_complete", stored[0].EventType)
	assert.Equal(t, models.AnonymousUserID, stored[0].UserID)
	assert.Equal(t, fixedNow, stored[0].ClientTime)
	assert.Contains(t, stored[0].Payload, `"uploadDuration":1500`)
}

func TestIngestUpload_Invalid(t *testing.T) {
	s := newTestService(&mockWriter{}, nil, nil)

	err := s.IngestUpload(context.Background(), Meta{}, models.UploadEvent{EventType: "upload_paused", VideoID: "v"})
	assert.ErrorIs(t, err, ErrInvalidEvent)

	err = s.IngestUpload(context.Background(), Meta{}, models.UploadEvent{EventType: models.EventTypeUploadStart})
	assert.ErrorIs(t, err, ErrInvalidEvent)
}
