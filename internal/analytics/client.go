package analytics

import (
	"context"

	"github.com/highlightai/highlight/internal/config"
	"github.com/highlightai/highlight/internal/logging"
)

// Client holds the transport and location source shared by every view
// session and upload tracker of one app instance.
type Client struct {
	sender  Sender
	locator Locator
	cfg     config.AnalyticsConfig
	logger  *logging.Logger
}

// NewClient builds an HTTP sender for cfg.Endpoint and, when cfg.GeoURL is
// set, an HTTP locator.
func NewClient(cfg config.AnalyticsConfig, token TokenSource, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Nop()
	}

	opts := []SenderOption{WithLogger(logger)}
	if token != nil {
		opts = append(opts, WithTokenSource(token))
	}

	var locator Locator
	if cfg.GeoURL != "" {
		locator = NewHTTPLocator(cfg.GeoURL, cfg.GeoTimeout)
	}

	return &Client{
		sender:  NewHTTPSender(cfg.Endpoint, cfg.RequestTimeout, opts...),
		locator: locator,
		cfg:     cfg,
		logger:  logger,
	}
}

// NewClientWith wires an existing sender and locator
func NewClientWith(sender Sender, locator Locator, cfg config.AnalyticsConfig, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Client{sender: sender, locator: locator, cfg: cfg, logger: logger}
}

// Sender returns the shared transport
func (c *Client) Sender() Sender { return c.sender }

// NewViewSession creates a session for videoID using the configured
// intervals.
func (c *Client) NewViewSession(videoID, userID, userAgent string) *ViewSession {
	return NewViewSession(videoID, SessionOptions{
		Sender:              c.sender,
		Locator:             c.locator,
		Logger:              c.logger,
		UserID:              userID,
		UserAgent:           userAgent,
		FlushInterval:       c.cfg.FlushInterval,
		ProgressInterval:    c.cfg.ProgressInterval,
		CompletionThreshold: c.cfg.CompletionThreshold,
	})
}

// NewUploadTracker creates a tracker for userID
func (c *Client) NewUploadTracker(ctx context.Context, userID string) *UploadTracker {
	return NewUploadTracker(ctx, UploadTrackerOptions{
		Sender:  c.sender,
		Locator: c.locator,
		Logger:  c.logger,
		UserID:  userID,
	})
}
