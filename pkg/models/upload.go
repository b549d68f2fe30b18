package models

// PresignRequest is the body of POST /upload/presigned-url
type PresignRequest struct {
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"contentType" binding:"required"`
	FileSize    int64  `json:"fileSize" binding:"required,gt=0"`
}

// PresignResponse tells the client where to PUT the file
type PresignResponse struct {
	VideoID   string `json:"videoId"`
	UploadURL string `json:"uploadUrl"`
	S3Key     string `json:"s3Key"`
	ExpiresIn int    `json:"expiresIn"` // seconds
}

// UploadStatus describes the client side of an upload
type UploadStatus string

const (
	UploadStatusIdle      UploadStatus = "idle"
	UploadStatusUploading UploadStatus = "uploading"
	UploadStatusSuccess   UploadStatus = "success"
	UploadStatusError     UploadStatus = "error"
)

// StorageNotification is an S3-style bucket event notification
type StorageNotification struct {
	Records []StorageRecord `json:"Records"`
}

// StorageRecord is one entry of a StorageNotification
type StorageRecord struct {
	EventName string `json:"eventName"`
	S3        struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key  string `json:"key"`
			Size int64  `json:"size"`
		} `json:"object"`
	} `json:"s3"`
}
