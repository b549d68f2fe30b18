package models

import (
	"math"
	"time"
)

// ViewEventType identifies a playback analytics event
type ViewEventType string

// ViewEventType constants
const (
	EventTypeViewStart    ViewEventType = "view_start"
	EventTypeResume       ViewEventType = "resume"
	EventTypePause        ViewEventType = "pause"
	EventTypeViewProgress ViewEventType = "view_progress"
	EventTypeViewEnd      ViewEventType = "view_end"
	EventTypeSeek         ViewEventType = "seek"
	EventTypeAbandon      ViewEventType = "abandon"
)

// Critical reports whether the event bypasses the batch queue
func (t ViewEventType) Critical() bool {
	switch t {
	case EventTypeViewStart, EventTypeViewEnd, EventTypeAbandon:
		return true
	}
	return false
}

// Valid reports whether t is a known view event type
func (t ViewEventType) Valid() bool {
	switch t {
	case EventTypeViewStart, EventTypeResume, EventTypePause, EventTypeViewProgress,
		EventTypeViewEnd, EventTypeSeek, EventTypeAbandon:
		return true
	}
	return false
}

// UploadEventType identifies an upload lifecycle event
type UploadEventType string

// UploadEventType constants
const (
	EventTypeUploadStart    UploadEventType = "upload_start"
	EventTypeUploadComplete UploadEventType = "upload_complete"
	EventTypeUploadFailed   UploadEventType = "upload_failed"
)

// Valid reports whether t is a known upload event type
func (t UploadEventType) Valid() bool {
	switch t {
	case EventTypeUploadStart, EventTypeUploadComplete, EventTypeUploadFailed:
		return true
	}
	return false
}

// DeviceClass is the coarse device category derived from a user agent
type DeviceClass string

const (
	DeviceMobile  DeviceClass = "mobile"
	DeviceTablet  DeviceClass = "tablet"
	DeviceDesktop DeviceClass = "desktop"
)

// AnonymousUserID is reported when no authenticated identity is available
const AnonymousUserID = "anonymous"

// Session tuning. These values have no documented rationale upstream and are
// kept as named defaults rather than derived.
const (
	CompletionThreshold = 0.5              // seconds from the end that count as finished
	ProgressInterval    = 5.0              // media seconds between progress samples
	FlushInterval       = 10 * time.Second // batch flush period
)

// Location is a best-effort coordinate fix
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
	Timestamp int64   `json:"timestamp"` // epoch millis
}

// ViewEvent describes a single playback event for one video session
type ViewEvent struct {
	EventType      ViewEventType `json:"eventType"`
	VideoID        string        `json:"videoId"`
	UserID         string        `json:"userId"`
	SessionID      string        `json:"sessionId"`
	Timestamp      int64         `json:"timestamp"` // epoch millis
	CurrentTime    float64       `json:"currentTime"`
	Duration       float64       `json:"duration"`
	PercentWatched *float64      `json:"percentWatched,omitempty"` // nil when duration is unknown
	IsCompleted    bool          `json:"isCompleted"`
	WatchCount     int           `json:"watchCount"`
	PauseCount     int           `json:"pauseCount"`
	Location       *Location     `json:"location"`
	DeviceType     DeviceClass   `json:"deviceType"`
	UserAgent      string        `json:"userAgent"`
}

// UploadEvent describes an upload lifecycle transition
type UploadEvent struct {
	EventType         UploadEventType `json:"eventType"`
	VideoID           string          `json:"videoId"` // may be a temporary id until the server assigns one
	UserID            string          `json:"userId"`
	Timestamp         int64           `json:"timestamp"`
	FileSize          int64           `json:"fileSize"`
	Duration          float64         `json:"duration"`
	UploadDuration    *int64          `json:"uploadDuration,omitempty"` // millis, complete only
	RecordingLocation *Location       `json:"recordingLocation,omitempty"`
	Error             string          `json:"error,omitempty"`
}

// AnalyticsBatch is the payload of a periodic flush
type AnalyticsBatch struct {
	Events    []ViewEvent `json:"events"`
	SessionID string      `json:"sessionId"`
	UserID    string      `json:"userId"`
}

// PercentWatched returns currentTime/duration*100, or nil when the duration
// is zero, negative or not a finite number.
func PercentWatched(currentTime, duration float64) *float64 {
	if duration <= 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		return nil
	}
	pct := currentTime / duration * 100
	return &pct
}

// IsCompleted reports whether currentTime is within threshold of duration
func IsCompleted(currentTime, duration, threshold float64) bool {
	if math.IsNaN(duration) || duration <= 0 {
		return false
	}
	return currentTime >= duration-threshold
}

// StoredEvent is the warehouse row shape shared by view and upload events
type StoredEvent struct {
	EventID    string    `json:"event_id" ch:"event_id"`
	Category   string    `json:"category" ch:"category"` // view, upload
	EventType  string    `json:"event_type" ch:"event_type"`
	VideoID    string    `json:"video_id" ch:"video_id"`
	UserID     string    `json:"user_id" ch:"user_id"`
	SessionID  string    `json:"session_id" ch:"session_id"`
	ClientTime time.Time `json:"client_time" ch:"client_time"`
	ReceivedAt time.Time `json:"received_at" ch:"received_at"`
	IPAddress  string    `json:"ip_address" ch:"ip_address"`
	Payload    string    `json:"payload" ch:"payload"` // original JSON body
}

// Event categories
const (
	EventCategoryView   = "view"
	EventCategoryUpload = "upload"
)
