package analytics

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/highlightai/highlight/pkg/models"
)

type capturedRequest struct {
	Path          string
	Authorization string
	ContentType   string
	Body          []byte
}

type collectorStub struct {
	mu       sync.Mutex
	status   int
	requests []capturedRequest
	server   *httptest.Server
}

func newCollectorStub(t *testing.T, status int) *collectorStub {
	t.Helper()
	c := &collectorStub{status: status}
	c.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.requests = append(c.requests, capturedRequest{
			Path:          r.URL.Path,
			Authorization: r.Header.Get("Authorization"),
			ContentType:   r.Header.Get("Content-Type"),
			Body:          body,
		})
		c.mu.Unlock()
		w.WriteHeader(c.status)
		_, _ = w.Write([]byte(`{"status":"accepted"}`))
	}))
	t.Cleanup(c.server.Close)
	return c
}

func (c *collectorStub) Requests() []capturedRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]capturedRequest(nil), c.requests...)
}

func TestHTTPSender_SendEvent(t *testing.T) {
	collector := newCollectorStub(t, http.StatusAccepted)
	sender := NewHTTPSender(collector.server.URL+"/", time.Second,
		WithTokenSource(func() string { return "id-token" }))

	sender.SendEvent(context.Background(), models.ViewEvent{
		EventType: models.EventTypeViewStart,
		VideoID:   "video-1",
		SessionID: "session-1",
	})

	reqs := collector.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, EventPath, reqs[0].Path)
	assert.Equal(t, "Bearer id-token", reqs[0].Authorization)
	assert.Equal(t, "application/json", reqs[0].ContentType)

	var got models.ViewEvent
	require.NoError(t, json.Unmarshal(reqs[0].Body, &got))
	assert.Equal(t, models.EventTypeViewStart, got.EventType)
	assert.Equal(t, "video-1", got.VideoID)
}

func TestHTTPSender_SendBatch(t *testing.T) {
	collector := newCollectorStub(t, http.StatusOK)
	sender := NewHTTPSender(collector.server.URL, time.Second)

	sender.SendBatch(context.Background(), models.AnalyticsBatch{
		Events: []models.ViewEvent{
			{EventType: models.EventTypePause},
			{EventType: models.EventTypeSeek},
		},
		SessionID: "session-1",
		UserID:    "user-1",
	})

	reqs := collector.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, BatchPath, reqs[0].Path)
	assert.Empty(t, reqs[0].Authorization)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(reqs[0].Body, &got))
	assert.Equal(t, "session-1", got["sessionId"])
	assert.Equal(t, "user-1", got["userId"])
	assert.Len(t, got["events"], 2)
}

func TestHTTPSender_SendUploadPath(t *testing.T) {
	collector := newCollectorStub(t, http.StatusOK)

	NewHTTPSender(collector.server.URL, time.Second).
		SendUpload(context.Background(), models.UploadEvent{EventType: models.EventTypeUploadStart})
	NewHTTPSender(collector.server.URL, time.Second, WithUploadPath(UploadPath)).
		SendUpload(context.Background(), models.UploadEvent{EventType: models.EventTypeUploadStart})

	reqs := collector.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, EventPath, reqs[0].Path)
	assert.Equal(t, UploadPath, reqs[1].Path)
}

func TestHTTPSender_FailuresAreSwallowed(t *testing.T) {
	collector := newCollectorStub(t, http.StatusInternalServerError)
	sender := NewHTTPSender(collector.server.URL, time.Second)

	assert.NotPanics(t, func() {
		sender.SendEvent(context.Background(), models.ViewEvent{EventType: models.EventTypeViewEnd})
	})
	assert.Len(t, collector.Requests(), 1)

	unreachable := NewHTTPSender("http://127.0.0.1:1", 100*time.Millisecond)
	assert.NotPanics(t, func() {
		unreachable.SendBatch(context.Background(), models.AnalyticsBatch{})
	})
}

func TestHTTPSender_Do(t *testing.T) {
	ok := newCollectorStub(t, http.StatusAccepted)
	failing := newCollectorStub(t, http.StatusBadRequest)

	assert.NoError(t, NewHTTPSender(ok.server.URL, time.Second).do(context.Background(), EventPath, map[string]string{}))
	err := NewHTTPSender(failing.server.URL, time.Second).do(context.Background(), EventPath, map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestDispatcher_RecoversPanics(t *testing.T) {
	var d dispatcher
	ran := make(chan struct{})

	d.Go(func() { panic("boom") })
	d.Go(func() { close(ran) })
	d.Wait()

	select {
	case <-ran:
	default:
		t.Fatal("second task did not run")
	}
}

func TestDispatcher_KeepsCallOrder(t *testing.T) {
	var d dispatcher
	release := make(chan struct{})
	var mu sync.Mutex
	var order []int

	d.Go(func() { <-release })
	for i := 0; i < 50; i++ {
		i := i
		d.Go(func() {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, i)
		})
	}
	close(release)
	d.Wait()

	require.Len(t, order, 50)
	for i, got := range order {
		assert.Equal(t, i, got)
	}
}

func TestDispatcher_GoDoesNotBlock(t *testing.T) {
	var d dispatcher
	release := make(chan struct{})
	d.Go(func() { <-release })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			d.Go(func() {})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Go blocked behind a slow task")
	}
	close(release)
	d.Wait()
}
