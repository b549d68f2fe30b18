package main

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/highlightai/highlight/internal/middleware"
	"github.com/highlightai/highlight/pkg/models"
)

// Current counters of a video
func (api *API) getEngagement(c *gin.Context) {
	videoID := c.Param("id")

	counts, err := api.engagement.Counts(c.Request.Context(), videoID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{
		"videoId":      videoID,
		"likeCount":    counts.LikeCount,
		"commentCount": counts.CommentCount,
		"viewCount":    counts.ViewCount,
	}
	if userID := viewer(c); userID != "" {
		if liked, err := api.engagement.Liked(c.Request.Context(), videoID, userID); err == nil {
			resp["liked"] = liked
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (api *API) likeVideo(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	counts, err := api.engagement.Like(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (api *API) unlikeVideo(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	counts, err := api.engagement.Unlike(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (api *API) recordView(c *gin.Context) {
	counts, err := api.engagement.RecordView(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, counts)
}

// Server-sent events stream of counter updates. The current counters are
// sent first, then every change until the client disconnects.
func (api *API) streamEngagement(c *gin.Context) {
	videoID := c.Param("id")
	ctx := c.Request.Context()

	updates, err := api.engagement.Subscribe(ctx, videoID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	counts, err := api.engagement.Counts(ctx, videoID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.SSEvent("engagement", models.EngagementUpdate{
		VideoID:    videoID,
		Engagement: counts,
		UpdatedAt:  time.Now().UTC(),
	})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		update, ok := <-updates
		if !ok {
			return false
		}
		c.SSEvent("engagement", update)
		return true
	})
}
