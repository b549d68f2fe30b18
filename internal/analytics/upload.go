package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/highlightai/highlight/internal/logging"
	"github.com/highlightai/highlight/internal/metrics"
	"github.com/highlightai/highlight/pkg/models"
)

// UploadTrackerOptions configures an UploadTracker
type UploadTrackerOptions struct {
	Sender  Sender
	Locator Locator
	Clock   Clock
	Logger  *logging.Logger
	UserID  string
}

// UploadTracker reports the lifecycle of an upload. Every call sends one
// event immediately; nothing is batched.
//
// A tracker follows one upload at a time. The start timestamp is shared so
// that a completion reported under the server-assigned id still gets its
// duration when the start was reported under a temporary one.
type UploadTracker struct {
	sender   Sender
	clock    Clock
	userID   string
	location *onceLocation
	dispatch dispatcher

	mu      sync.Mutex
	ctx     context.Context
	startAt *time.Time
}

// NewUploadTracker creates a tracker and starts its one-time location
// lookup.
func NewUploadTracker(ctx context.Context, opts UploadTrackerOptions) *UploadTracker {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	opts.UserID = models.UserIDOrAnonymous(opts.UserID)

	ctx = context.WithoutCancel(ctx)
	t := &UploadTracker{
		sender:   opts.Sender,
		clock:    opts.Clock,
		userID:   opts.UserID,
		location: newOnceLocation(opts.Locator),
		dispatch: dispatcher{logger: opts.Logger},
		ctx:      ctx,
	}
	t.location.resolve(ctx)
	return t
}

// TrackUploadStart records the start time and reports upload_start
func (t *UploadTracker) TrackUploadStart(videoID string, fileSize int64, duration float64) {
	t.mu.Lock()
	now := t.clock.Now()
	t.startAt = &now
	t.mu.Unlock()

	t.send(t.event(models.EventTypeUploadStart, videoID, fileSize, duration, now))
}

// TrackUploadComplete reports upload_complete. The upload duration is set
// only when a start was tracked before.
func (t *UploadTracker) TrackUploadComplete(videoID string, fileSize int64, duration float64) {
	t.mu.Lock()
	now := t.clock.Now()
	startAt := t.startAt
	t.startAt = nil
	t.mu.Unlock()

	event := t.event(models.EventTypeUploadComplete, videoID, fileSize, duration, now)
	if startAt != nil {
		ms := now.Sub(*startAt).Milliseconds()
		event.UploadDuration = &ms
	}
	t.send(event)
}

// TrackUploadFailed reports upload_failed with the given message
func (t *UploadTracker) TrackUploadFailed(videoID string, fileSize int64, duration float64, errMsg string) {
	t.mu.Lock()
	now := t.clock.Now()
	t.startAt = nil
	t.mu.Unlock()

	event := t.event(models.EventTypeUploadFailed, videoID, fileSize, duration, now)
	event.Error = errMsg
	t.send(event)
}

// Wait blocks until every event sent so far has been delivered or dropped
func (t *UploadTracker) Wait() {
	t.dispatch.Wait()
}

func (t *UploadTracker) event(eventType models.UploadEventType, videoID string, fileSize int64, duration float64, now time.Time) models.UploadEvent {
	return models.UploadEvent{
		EventType:         eventType,
		VideoID:           videoID,
		UserID:            t.userID,
		Timestamp:         now.UnixMilli(),
		FileSize:          fileSize,
		Duration:          duration,
		RecordingLocation: t.location.get(),
	}
}

func (t *UploadTracker) send(event models.UploadEvent) {
	metrics.RecordEventSent(string(event.EventType), "immediate")
	if t.sender == nil {
		return
	}
	sender, ctx := t.sender, t.ctx
	t.dispatch.Go(func() { sender.SendUpload(ctx, event) })
}
