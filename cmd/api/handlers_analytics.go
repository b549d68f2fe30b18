package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/highlightai/highlight/internal/database"
	"github.com/highlightai/highlight/internal/ingest"
	"github.com/highlightai/highlight/internal/middleware"
	"github.com/highlightai/highlight/internal/tracing"
	"github.com/highlightai/highlight/pkg/models"
)

func requestMeta(c *gin.Context) ingest.Meta {
	userID, _ := middleware.GetUserID(c)
	return ingest.Meta{ClientIP: c.ClientIP(), UserID: userID}
}

// respondIngest maps an ingest result to the collector's status codes
func (api *API) respondIngest(c *gin.Context, accepted int, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"accepted": accepted})
	case errors.Is(err, ingest.ErrInvalidEvent):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		api.logger.ErrorWithErr("Failed to ingest events", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to store events"})
	}
}

// Single event endpoint. Accepts both view and upload events; they are told
// apart by their event type.
func (api *API) collectEvent(c *gin.Context) {
	span, ctx := tracing.StartSpan(c.Request.Context(), "collect_event")
	defer tracing.FinishSpan(span)

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	var kind struct {
		EventType string `json:"eventType"`
	}
	if err := json.Unmarshal(body, &kind); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed JSON"})
		return
	}
	tracing.SetTag(span, "event_type", kind.EventType)

	if models.UploadEventType(kind.EventType).Valid() {
		var event models.UploadEvent
		if err := json.Unmarshal(body, &event); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed upload event"})
			return
		}
		api.respondIngest(c, 1, api.ingest.IngestUpload(ctx, requestMeta(c), event))
		return
	}

	var event models.ViewEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed view event"})
		return
	}
	err = api.ingest.IngestView(ctx, requestMeta(c), []models.ViewEvent{event})
	if err != nil {
		tracing.LogError(span, err)
	}
	api.respondIngest(c, 1, err)
}

// Batch endpoint for periodic session flushes
func (api *API) collectBatch(c *gin.Context) {
	span, ctx := tracing.StartSpan(c.Request.Context(), "collect_batch")
	defer tracing.FinishSpan(span)

	var batch models.AnalyticsBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tracing.SetTag(span, "events", len(batch.Events))

	// Events inherit the envelope's ids when they omit their own.
	for i := range batch.Events {
		if batch.Events[i].SessionID == "" {
			batch.Events[i].SessionID = batch.SessionID
		}
		if batch.Events[i].UserID == "" {
			batch.Events[i].UserID = batch.UserID
		}
	}

	err := api.ingest.IngestView(ctx, requestMeta(c), batch.Events)
	if err != nil {
		tracing.LogError(span, err)
	}
	api.respondIngest(c, len(batch.Events), err)
}

// Dedicated upload event endpoint
func (api *API) collectUpload(c *gin.Context) {
	span, ctx := tracing.StartSpan(c.Request.Context(), "collect_upload")
	defer tracing.FinishSpan(span)

	var event models.UploadEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	api.respondIngest(c, 1, api.ingest.IngestUpload(ctx, requestMeta(c), event))
}

// Event summary for the video's owner
func (api *API) videoAnalytics(c *gin.Context) {
	videoID := c.Param("id")
	userID, _ := middleware.GetUserID(c)

	video, err := api.repo.GetVideo(c.Request.Context(), videoID)
	if errors.Is(err, database.ErrVideoNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Video not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if video.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the owner can view analytics"})
		return
	}

	counts, err := api.events.EventCounts(c.Request.Context(), videoID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"videoId": videoID, "events": counts})
}
