package analytics

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/highlightai/highlight/internal/logging"
	"github.com/highlightai/highlight/internal/metrics"
	"github.com/highlightai/highlight/pkg/models"
)

// Media is the playback handle a session observes
type Media interface {
	CurrentTime() float64
	Duration() float64
}

// SessionOptions configures a ViewSession. Zero values fall back to the
// defaults in pkg/models.
type SessionOptions struct {
	Sender              Sender
	Locator             Locator
	Clock               Clock
	Logger              *logging.Logger
	UserID              string
	UserAgent           string
	FlushInterval       time.Duration
	ProgressInterval    float64
	CompletionThreshold float64
}

func (o *SessionOptions) applyDefaults() {
	if o.Clock == nil {
		o.Clock = SystemClock{}
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
	o.UserID = models.UserIDOrAnonymous(o.UserID)
	if o.FlushInterval <= 0 {
		o.FlushInterval = models.FlushInterval
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = models.ProgressInterval
	}
	if o.CompletionThreshold <= 0 {
		o.CompletionThreshold = models.CompletionThreshold
	}
}

// ViewSession tracks one mounted player for one video. Play, pause, seek
// and progress events are classified as critical (sent at once) or
// batchable (queued until the next flush tick).
//
// All handlers and the flush tick are serialized by mu; network sends run
// detached and outside the lock.
type ViewSession struct {
	videoID   string
	sessionID string
	device    models.DeviceClass
	opts      SessionOptions
	logger    *logging.Logger

	location *onceLocation
	dispatch dispatcher

	mu           sync.Mutex
	ctx          context.Context
	media        Media
	started      bool
	abandoned    bool
	watchCount   int
	pauseCount   int
	lastProgress float64
	queue        []models.ViewEvent
	running      bool
	stopped      bool
	stopCh       chan struct{}
}

// NewViewSession creates a session for videoID. The session id is fixed
// for the lifetime of the returned value.
func NewViewSession(videoID string, opts SessionOptions) *ViewSession {
	opts.applyDefaults()
	sessionID := uuid.New().String()

	return &ViewSession{
		videoID:   videoID,
		sessionID: sessionID,
		device:    ClassifyDevice(opts.UserAgent),
		opts:      opts,
		logger:    opts.Logger.WithVideoID(videoID).WithSessionID(sessionID),
		location:  newOnceLocation(opts.Locator),
		dispatch:  dispatcher{logger: opts.Logger},
		ctx:       context.Background(),
		stopCh:    make(chan struct{}),
	}
}

// SessionID returns the session identifier
func (s *ViewSession) SessionID() string { return s.sessionID }

// VideoID returns the tracked video
func (s *ViewSession) VideoID() string { return s.videoID }

// WatchCount returns the number of completed playthroughs
func (s *ViewSession) WatchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watchCount
}

// PauseCount returns the number of pauses so far
func (s *ViewSession) PauseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pauseCount
}

// Pending returns the number of queued, unsent events
func (s *ViewSession) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Start launches the periodic flush. The ticker runs until Stop or until
// ctx is cancelled, independently of playback state. Sends keep ctx's
// values but not its cancellation.
func (s *ViewSession) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running || s.stopped {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.ctx = context.WithoutCancel(ctx)
	ticker := s.opts.Clock.NewTicker(s.opts.FlushInterval)
	s.mu.Unlock()

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				s.Stop()
				return
			case <-ticker.C():
				s.Flush()
			}
		}
	}()
}

// Attach binds a media element. The first attachment also starts the
// one-time location lookup.
func (s *ViewSession) Attach(media Media) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || media == nil {
		return
	}
	s.media = media
	s.location.resolve(s.ctx)
}

// Detach unbinds the current media element, reporting an abandon if
// playback started and the position is short of the end.
func (s *ViewSession) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detachLocked()
}

func (s *ViewSession) detachLocked() {
	if s.media == nil {
		return
	}
	if s.started && !s.abandoned && s.media.CurrentTime() < s.media.Duration()-s.opts.CompletionThreshold {
		if s.emitLocked(models.EventTypeAbandon) {
			s.abandoned = true
		}
	}
	s.media = nil
}

// Stop tears the session down: abandon is reported if due, the ticker is
// stopped and every later call is ignored. Queued events that were not
// flushed yet are dropped. In-flight sends are left to finish.
func (s *ViewSession) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.detachLocked()
	s.stopped = true
	close(s.stopCh)
	if n := len(s.queue); n > 0 {
		s.logger.Debugf("dropping %d unflushed events at teardown", n)
		s.queue = nil
	}
}

// OnPlay handles a play event: the first one starts the view, later ones
// are resumes.
func (s *ViewSession) OnPlay() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		s.started = s.emitLocked(models.EventTypeViewStart)
		return
	}
	s.emitLocked(models.EventTypeResume)
}

// OnPause counts the pause and queues it
func (s *ViewSession) OnPause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.activeLocked() {
		return
	}
	s.pauseCount++
	s.emitLocked(models.EventTypePause)
}

// OnTimeUpdate samples progress once the playback position has advanced
// ProgressInterval media seconds past the previous sample.
func (s *ViewSession) OnTimeUpdate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.activeLocked() {
		return
	}
	now := s.media.CurrentTime()
	if now-s.lastProgress >= s.opts.ProgressInterval {
		s.lastProgress = now
		s.emitLocked(models.EventTypeViewProgress)
	}
}

// OnEnded counts a completed playthrough and reports it at once
func (s *ViewSession) OnEnded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.activeLocked() {
		return
	}
	s.watchCount++
	s.emitLocked(models.EventTypeViewEnd)
}

// OnSeeking queues a seek
func (s *ViewSession) OnSeeking() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitLocked(models.EventTypeSeek)
}

// Flush sends every queued event as one batch. An empty queue sends nothing.
func (s *ViewSession) Flush() {
	s.mu.Lock()
	if s.stopped || len(s.queue) == 0 {
		s.mu.Unlock()
		return
	}
	batch := models.AnalyticsBatch{
		Events:    s.queue,
		SessionID: s.sessionID,
		UserID:    s.opts.UserID,
	}
	s.queue = nil
	ctx := s.ctx
	s.mu.Unlock()

	metrics.RecordBatchFlush(len(batch.Events))
	for _, e := range batch.Events {
		metrics.RecordEventSent(string(e.EventType), "batched")
	}
	sender := s.opts.Sender
	if sender == nil {
		return
	}
	s.dispatch.Go(func() { sender.SendBatch(ctx, batch) })
}

func (s *ViewSession) activeLocked() bool {
	return !s.stopped && s.media != nil
}

// emitLocked builds an event and routes it: critical events are sent at
// once, the rest wait for the next flush. It reports whether an event was
// built.
func (s *ViewSession) emitLocked(eventType models.ViewEventType) bool {
	event, ok := s.buildLocked(eventType)
	if !ok {
		return false
	}
	if eventType.Critical() {
		s.sendLocked(event)
	} else {
		s.queue = append(s.queue, event)
	}
	return true
}

func (s *ViewSession) sendLocked(event models.ViewEvent) {
	metrics.RecordEventSent(string(event.EventType), "immediate")
	sender := s.opts.Sender
	if sender == nil {
		return
	}
	ctx := s.ctx
	s.dispatch.Go(func() { sender.SendEvent(ctx, event) })
}

// buildLocked snapshots the media state into an event. It reports false
// when there is nothing to observe.
func (s *ViewSession) buildLocked(eventType models.ViewEventType) (models.ViewEvent, bool) {
	if !s.activeLocked() {
		return models.ViewEvent{}, false
	}
	currentTime := s.media.CurrentTime()
	duration := s.media.Duration()
	if math.IsNaN(currentTime) {
		currentTime = 0
	}

	event := models.ViewEvent{
		EventType:      eventType,
		VideoID:        s.videoID,
		UserID:         s.opts.UserID,
		SessionID:      s.sessionID,
		Timestamp:      s.opts.Clock.Now().UnixMilli(),
		CurrentTime:    currentTime,
		PercentWatched: models.PercentWatched(currentTime, duration),
		IsCompleted:    models.IsCompleted(currentTime, duration, s.opts.CompletionThreshold),
		WatchCount:     s.watchCount,
		PauseCount:     s.pauseCount,
		Location:       s.location.get(),
		DeviceType:     s.device,
		UserAgent:      s.opts.UserAgent,
	}
	if !math.IsNaN(duration) && !math.IsInf(duration, 0) {
		event.Duration = duration
	}
	return event, true
}

// Wait blocks until every send started so far has returned
func (s *ViewSession) Wait() {
	s.dispatch.Wait()
}
