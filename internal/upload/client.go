package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/highlightai/highlight/internal/analytics"
	"github.com/highlightai/highlight/internal/logging"
	"github.com/highlightai/highlight/internal/metrics"
	"github.com/highlightai/highlight/internal/storage"
	"github.com/highlightai/highlight/pkg/models"
)

// PresignPath is the API route that issues upload URLs
const PresignPath = "/upload/presigned-url"

// ClientOptions configures a Client
type ClientOptions struct {
	APIURL     string
	Token      string // id token sent as a bearer token
	HTTPClient *http.Client
	Tracker    *analytics.UploadTracker
	Logger     *logging.Logger
	// OnProgress receives whole percentages as the file is sent. It is
	// called once per distinct value.
	OnProgress func(percent int)
}

// Client uploads one file at a time through a presigned URL
type Client struct {
	apiURL     string
	token      string
	http       *http.Client
	tracker    *analytics.UploadTracker
	logger     *logging.Logger
	onProgress func(int)

	mu     sync.Mutex
	status models.UploadStatus
}

// NewClient creates an upload client
func NewClient(opts ClientOptions) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Minute}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Client{
		apiURL:     strings.TrimRight(opts.APIURL, "/"),
		token:      opts.Token,
		http:       opts.HTTPClient,
		tracker:    opts.Tracker,
		logger:     opts.Logger,
		onProgress: opts.OnProgress,
		status:     models.UploadStatusIdle,
	}
}

// Status returns the state of the latest upload
func (c *Client) Status() models.UploadStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) setStatus(status models.UploadStatus) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
}

// UploadFile uploads the file at path, deriving its content type from the
// extension.
func (c *Client) UploadFile(ctx context.Context, path string, duration float64) (*models.PresignResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	name := filepath.Base(path)
	return c.Upload(ctx, name, storage.ContentType(name), f, info.Size(), duration)
}

// Upload requests an upload URL and PUTs size bytes from r to it. duration
// is the length of the recording in seconds, reported with the analytics
// events.
func (c *Client) Upload(ctx context.Context, filename, contentType string, r io.Reader, size int64, duration float64) (*models.PresignResponse, error) {
	c.setStatus(models.UploadStatusUploading)

	// The server assigns the real id; until then events carry a temporary one.
	videoID := "temp-" + uuid.New().String()
	if c.tracker != nil {
		c.tracker.TrackUploadStart(videoID, size, duration)
	}

	resp, err := c.upload(ctx, filename, contentType, r, size)
	if resp != nil {
		videoID = resp.VideoID
	}
	if err != nil {
		c.setStatus(models.UploadStatusError)
		metrics.RecordUpload("failed", size)
		c.logger.WithVideoID(videoID).ErrorWithErr("upload failed", err)
		if c.tracker != nil {
			c.tracker.TrackUploadFailed(videoID, size, duration, err.Error())
		}
		return nil, err
	}

	c.setStatus(models.UploadStatusSuccess)
	metrics.RecordUpload("uploaded", size)
	if c.tracker != nil {
		c.tracker.TrackUploadComplete(videoID, size, duration)
	}
	return resp, nil
}

func (c *Client) upload(ctx context.Context, filename, contentType string, r io.Reader, size int64) (*models.PresignResponse, error) {
	presigned, err := c.presign(ctx, models.PresignRequest{
		Filename:    filename,
		ContentType: contentType,
		FileSize:    size,
	})
	if err != nil {
		return nil, err
	}

	body := &progressReader{r: r, total: size, report: c.report(presigned.VideoID)}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, presigned.UploadURL, body)
	if err != nil {
		return presigned, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", contentType)

	res, err := c.http.Do(req)
	if err != nil {
		return presigned, fmt.Errorf("failed to upload file: %w", err)
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return presigned, fmt.Errorf("upload rejected with status %d", res.StatusCode)
	}
	return presigned, nil
}

func (c *Client) presign(ctx context.Context, body models.PresignRequest) (*models.PresignResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+PresignPath, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create presign request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get upload URL: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(res.Body).Decode(&apiErr)
		if apiErr.Error != "" {
			return nil, fmt.Errorf("failed to get upload URL: %s (status %d)", apiErr.Error, res.StatusCode)
		}
		return nil, fmt.Errorf("failed to get upload URL: status %d", res.StatusCode)
	}

	var presigned models.PresignResponse
	if err := json.NewDecoder(res.Body).Decode(&presigned); err != nil {
		return nil, fmt.Errorf("failed to decode upload URL: %w", err)
	}
	if presigned.UploadURL == "" || presigned.VideoID == "" {
		return nil, fmt.Errorf("failed to get upload URL: empty response")
	}
	return &presigned, nil
}

func (c *Client) report(videoID string) func(int) {
	return func(percent int) {
		c.logger.LogUploadProgress(videoID, percent)
		if c.onProgress != nil {
			c.onProgress(percent)
		}
	}
}

// progressReader reports the share of total read so far
type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	last   int
	report func(int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.total > 0 {
		percent := int(p.read * 100 / p.total)
		if percent > 100 {
			percent = 100
		}
		if percent > p.last {
			p.last = percent
			p.report(percent)
		}
	}
	return n, err
}
