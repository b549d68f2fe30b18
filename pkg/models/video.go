package models

import (
	"time"
)

// Video represents an uploaded short video
type Video struct {
	ID           string    `json:"videoId" db:"id"`
	UserID       string    `json:"userId" db:"user_id"`
	Filename     string    `json:"filename" db:"filename"`
	S3Key        string    `json:"s3Key" db:"s3_key"`
	ContentType  string    `json:"contentType" db:"content_type"`
	Size         int64     `json:"size" db:"size"`
	UploadedSize int64     `json:"uploadedSize" db:"uploaded_size"`
	Status       string    `json:"status" db:"status"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// VideoStatus constants
const (
	VideoStatusPending  = "pending"
	VideoStatusUploaded = "uploaded"
	VideoStatusFailed   = "failed"
)

// Engagement holds the public counters of a video
type Engagement struct {
	LikeCount    int64 `json:"likeCount"`
	CommentCount int64 `json:"commentCount"`
	ViewCount    int64 `json:"viewCount"`
}

// EngagementUpdate is published whenever a video's counters change
type EngagementUpdate struct {
	VideoID string `json:"videoId"`
	Engagement
	UpdatedAt time.Time `json:"updatedAt"`
}

// FeedVideo is a video together with its live counters
type FeedVideo struct {
	*Video
	Engagement
	PlaybackURL string `json:"playbackUrl,omitempty"`
	Liked       bool   `json:"liked,omitempty"`
}
