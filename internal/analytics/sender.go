package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/highlightai/highlight/internal/logging"
	"github.com/highlightai/highlight/internal/metrics"
	"github.com/highlightai/highlight/pkg/models"
)

// Collector paths
const (
	EventPath  = "/analytics/event"
	BatchPath  = "/analytics/batch"
	UploadPath = "/analytics/upload"
)

// Sender delivers analytics payloads. Implementations must not block the
// caller on failure and never report errors: delivery is at-most-once and
// best-effort.
type Sender interface {
	SendEvent(ctx context.Context, event models.ViewEvent)
	SendBatch(ctx context.Context, batch models.AnalyticsBatch)
	SendUpload(ctx context.Context, event models.UploadEvent)
}

// TokenSource returns the bearer token to attach, or "" for none
type TokenSource func() string

// HTTPSender posts JSON payloads to the collector API
type HTTPSender struct {
	baseURL    string
	uploadPath string
	client     *http.Client
	token      TokenSource
	logger     *logging.Logger
}

// SenderOption configures an HTTPSender
type SenderOption func(*HTTPSender)

// WithHTTPClient replaces the default client
func WithHTTPClient(client *http.Client) SenderOption {
	return func(s *HTTPSender) { s.client = client }
}

// WithTokenSource attaches an Authorization header to every request
func WithTokenSource(token TokenSource) SenderOption {
	return func(s *HTTPSender) { s.token = token }
}

// WithLogger sets the logger used for delivery failures
func WithLogger(logger *logging.Logger) SenderOption {
	return func(s *HTTPSender) { s.logger = logger }
}

// WithUploadPath overrides the path upload events are posted to. Upload
// events go to EventPath by default.
func WithUploadPath(path string) SenderOption {
	return func(s *HTTPSender) { s.uploadPath = path }
}

// NewHTTPSender creates a sender for the collector at baseURL
func NewHTTPSender(baseURL string, timeout time.Duration, opts ...SenderOption) *HTTPSender {
	s := &HTTPSender{
		baseURL:    strings.TrimRight(baseURL, "/"),
		uploadPath: EventPath,
		client:     &http.Client{Timeout: timeout},
		logger:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendEvent posts a single view event
func (s *HTTPSender) SendEvent(ctx context.Context, event models.ViewEvent) {
	s.post(ctx, "event", EventPath, event, 1)
}

// SendBatch posts a batch of view events
func (s *HTTPSender) SendBatch(ctx context.Context, batch models.AnalyticsBatch) {
	s.post(ctx, "batch", BatchPath, batch, len(batch.Events))
}

// SendUpload posts an upload lifecycle event
func (s *HTTPSender) SendUpload(ctx context.Context, event models.UploadEvent) {
	s.post(ctx, "upload", s.uploadPath, event, 1)
}

func (s *HTTPSender) post(ctx context.Context, kind, path string, payload interface{}, events int) {
	start := time.Now()
	err := s.do(ctx, path, payload)
	s.logger.LogDelivery(kind, path, events, time.Since(start), err)
	metrics.RecordDelivery(kind, events, err == nil)
}

func (s *HTTPSender) do(ctx context.Context, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != nil {
		if token := s.token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	// The response body carries nothing we use.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("collector returned status %d", resp.StatusCode)
	}
	return nil
}

// dispatcher runs fire-and-forget tasks one at a time, in the order they
// were handed over. Go never blocks. A panicking task is contained and
// logged; nothing ever propagates to the caller.
type dispatcher struct {
	logger *logging.Logger

	wg      sync.WaitGroup
	mu      sync.Mutex
	pending []func()
	running bool
}

// Go queues fn behind every task handed over before it
func (d *dispatcher) Go(fn func()) {
	d.wg.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = append(d.pending, fn)
	if !d.running {
		d.running = true
		go d.drain()
	}
}

// drain runs queued tasks until the queue is empty. At most one drain runs
// at a time.
func (d *dispatcher) drain() {
	for {
		d.mu.Lock()
		if len(d.pending) == 0 {
			d.running = false
			d.mu.Unlock()
			return
		}
		fn := d.pending[0]
		d.pending[0] = nil
		d.pending = d.pending[1:]
		d.mu.Unlock()

		d.run(fn)
	}
}

func (d *dispatcher) run(fn func()) {
	defer d.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordError("analytics", "panic")
			if d.logger != nil {
				d.logger.Errorf("analytics task panicked: %v", r)
			}
		}
	}()
	fn()
}

// Wait blocks until every task handed over so far has returned
func (d *dispatcher) Wait() {
	d.wg.Wait()
}
