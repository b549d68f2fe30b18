package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/highlightai/highlight/pkg/models"
)

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{interval: d, ch: make(chan time.Time)}
	c.tickers = append(c.tickers, t)
	return t
}

// Tick fires the most recently created ticker and blocks until the
// session loop has received it.
func (c *fakeClock) Tick() {
	c.mu.Lock()
	t := c.tickers[len(c.tickers)-1]
	now := c.now
	c.mu.Unlock()
	t.ch <- now
}

type fakeTicker struct {
	interval time.Duration
	ch       chan time.Time

	mu      sync.Mutex
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *fakeTicker) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeMedia struct {
	mu       sync.Mutex
	current  float64
	duration float64
}

func newFakeMedia(duration float64) *fakeMedia {
	return &fakeMedia{duration: duration}
}

func (m *fakeMedia) CurrentTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *fakeMedia) Duration() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duration
}

func (m *fakeMedia) Seek(t float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = t
}

type recordingSender struct {
	mu      sync.Mutex
	events  []models.ViewEvent
	batches []models.AnalyticsBatch
	uploads []models.UploadEvent
}

func (r *recordingSender) SendEvent(ctx context.Context, event models.ViewEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSender) SendBatch(ctx context.Context, batch models.AnalyticsBatch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
}

func (r *recordingSender) SendUpload(ctx context.Context, event models.UploadEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploads = append(r.uploads, event)
}

func (r *recordingSender) Events() []models.ViewEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ViewEvent(nil), r.events...)
}

func (r *recordingSender) Batches() []models.AnalyticsBatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.AnalyticsBatch(nil), r.batches...)
}

func (r *recordingSender) Uploads() []models.UploadEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.UploadEvent(nil), r.uploads...)
}

// CountType counts eventType across immediate sends and batches
func (r *recordingSender) CountType(eventType models.ViewEventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.EventType == eventType {
			n++
		}
	}
	for _, b := range r.batches {
		for _, e := range b.Events {
			if e.EventType == eventType {
				n++
			}
		}
	}
	return n
}

type panickingSender struct{}

func (panickingSender) SendEvent(context.Context, models.ViewEvent)      { panic("boom") }
func (panickingSender) SendBatch(context.Context, models.AnalyticsBatch) { panic("boom") }
func (panickingSender) SendUpload(context.Context, models.UploadEvent)   { panic("boom") }

// gatedSender holds its first delivery until gate is closed, so a later
// send can only overtake it when sends are not ordered.
type gatedSender struct {
	recordingSender
	gate chan struct{}
	once sync.Once
}

func newGatedSender() *gatedSender {
	return &gatedSender{gate: make(chan struct{})}
}

func (g *gatedSender) hold() { g.once.Do(func() { <-g.gate }) }

func (g *gatedSender) SendEvent(ctx context.Context, event models.ViewEvent) {
	g.hold()
	g.recordingSender.SendEvent(ctx, event)
}

func (g *gatedSender) SendBatch(ctx context.Context, batch models.AnalyticsBatch) {
	g.hold()
	g.recordingSender.SendBatch(ctx, batch)
}

func (g *gatedSender) SendUpload(ctx context.Context, event models.UploadEvent) {
	g.hold()
	g.recordingSender.SendUpload(ctx, event)
}
