package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/highlightai/highlight/pkg/models"
)

// ErrLocationDenied is returned by locators that are not allowed to look up
// a position.
var ErrLocationDenied = errors.New("location lookup denied")

// Locator performs a single best-effort position lookup
type Locator interface {
	Locate(ctx context.Context) (*models.Location, error)
}

// LocatorFunc adapts a function to Locator
type LocatorFunc func(ctx context.Context) (*models.Location, error)

// Locate calls f
func (f LocatorFunc) Locate(ctx context.Context) (*models.Location, error) {
	return f(ctx)
}

// StaticLocator always reports the same coordinates
type StaticLocator struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
}

// Locate returns the fixed position stamped with the current time
func (s StaticLocator) Locate(ctx context.Context) (*models.Location, error) {
	return &models.Location{
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
		Accuracy:  s.Accuracy,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// DeniedLocator models a caller that refused location access
type DeniedLocator struct{}

// Locate always fails with ErrLocationDenied
func (DeniedLocator) Locate(ctx context.Context) (*models.Location, error) {
	return nil, ErrLocationDenied
}

// HTTPLocator resolves a position from an IP geolocation endpoint that
// answers with {"latitude":..,"longitude":..,"accuracy":..}.
type HTTPLocator struct {
	url    string
	client *http.Client
}

// NewHTTPLocator creates a locator that queries url with the given timeout
func NewHTTPLocator(url string, timeout time.Duration) *HTTPLocator {
	return &HTTPLocator{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Locate performs one lookup
func (l *HTTPLocator) Locate(ctx context.Context) (*models.Location, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create geolocation request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geolocation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geolocation lookup returned status %d", resp.StatusCode)
	}

	var body struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		Accuracy  float64  `json:"accuracy"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode geolocation response: %w", err)
	}
	if body.Latitude == nil || body.Longitude == nil {
		return nil, errors.New("geolocation response has no coordinates")
	}

	return &models.Location{
		Latitude:  *body.Latitude,
		Longitude: *body.Longitude,
		Accuracy:  body.Accuracy,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// CurrentLocation runs one lookup and collapses every failure, including a
// nil locator or a panicking one, to a nil location.
func CurrentLocation(ctx context.Context, locator Locator) (loc *models.Location) {
	if locator == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			loc = nil
		}
	}()

	loc, err := locator.Locate(ctx)
	if err != nil {
		return nil
	}
	return loc
}

// onceLocation resolves a location at most once and caches the result,
// including a nil result, for the lifetime of its owner.
type onceLocation struct {
	locator Locator
	once    sync.Once
	done    chan struct{}

	mu  sync.RWMutex
	loc *models.Location
}

func newOnceLocation(locator Locator) *onceLocation {
	return &onceLocation{locator: locator, done: make(chan struct{})}
}

// resolve starts the lookup in the background on first call
func (o *onceLocation) resolve(ctx context.Context) {
	o.once.Do(func() {
		go func() {
			defer close(o.done)
			loc := CurrentLocation(ctx, o.locator)
			o.mu.Lock()
			o.loc = loc
			o.mu.Unlock()
		}()
	})
}

// get returns the cached location, nil until the lookup has finished
func (o *onceLocation) get() *models.Location {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.loc
}

// wait blocks until the lookup finished or ctx is done
func (o *onceLocation) wait(ctx context.Context) {
	select {
	case <-o.done:
	case <-ctx.Done():
	}
}
