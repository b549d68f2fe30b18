package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/highlightai/highlight/internal/database"
	"github.com/highlightai/highlight/internal/middleware"
	"github.com/highlightai/highlight/pkg/models"
)

const (
	videoCacheTTL     = 5 * time.Minute
	playbackURLExpiry = time.Hour
)

// parseLimit reads ?limit=, clamped to the repository's page bounds
func parseLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return database.DefaultPageSize, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	return database.ClampLimit(limit), nil
}

// Feed endpoint
func (api *API) listVideos(c *gin.Context) {
	limit, err := parseLimit(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	videos, err := api.repo.ListVideos(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"videos": api.toFeed(c.Request.Context(), videos, viewer(c)),
		"limit":  limit,
	})
}

// Profile endpoint. Owners also see their pending and failed uploads.
func (api *API) listUserVideos(c *gin.Context) {
	userID := c.Param("id")
	limit, err := parseLimit(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	videos, err := api.repo.ListUserVideos(c.Request.Context(), userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	me := viewer(c)
	if me != userID {
		visible := videos[:0]
		for _, v := range videos {
			if v.Status == models.VideoStatusUploaded {
				visible = append(visible, v)
			}
		}
		videos = visible
	}

	c.JSON(http.StatusOK, gin.H{
		"userId": userID,
		"videos": api.toFeed(c.Request.Context(), videos, me),
		"limit":  limit,
	})
}

// Get video endpoint
func (api *API) getVideo(c *gin.Context) {
	video, err := api.lookupVideo(c.Request.Context(), c.Param("id"))
	if errors.Is(err, database.ErrVideoNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Video not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	feed := api.toFeed(c.Request.Context(), []*models.Video{video}, viewer(c))
	c.JSON(http.StatusOK, feed[0])
}

// lookupVideo reads through the cache. Cache failures fall back to the
// repository.
func (api *API) lookupVideo(ctx context.Context, id string) (*models.Video, error) {
	if api.cache != nil {
		video, err := api.cache.GetVideo(ctx, id)
		if err != nil {
			api.logger.WithVideoID(id).WithError(err).Warn("video cache read failed")
		}
		if video != nil {
			return video, nil
		}
	}

	video, err := api.repo.GetVideo(ctx, id)
	if err != nil {
		return nil, err
	}

	if api.cache != nil {
		if err := api.cache.SetVideo(ctx, video, videoCacheTTL); err != nil {
			api.logger.WithVideoID(id).WithError(err).Warn("video cache write failed")
		}
	}
	return video, nil
}

// toFeed attaches counters, the viewer's like state and playback URLs.
// Engagement and URL failures degrade to zero values.
func (api *API) toFeed(ctx context.Context, videos []*models.Video, viewerID string) []models.FeedVideo {
	feed := make([]models.FeedVideo, 0, len(videos))
	if len(videos) == 0 {
		return feed
	}

	ids := make([]string, len(videos))
	for i, v := range videos {
		ids[i] = v.ID
	}
	counts, err := api.engagement.CountsMany(ctx, ids)
	if err != nil {
		api.logger.WithError(err).Warn("failed to load engagement for feed")
		counts = map[string]models.Engagement{}
	}

	for _, v := range videos {
		item := models.FeedVideo{Video: v, Engagement: counts[v.ID]}
		if viewerID != "" {
			if liked, err := api.engagement.Liked(ctx, v.ID, viewerID); err == nil {
				item.Liked = liked
			}
		}
		if api.urls != nil && v.Status == models.VideoStatusUploaded && v.S3Key != "" {
			if url, err := api.urls.GetURL(ctx, v.S3Key, playbackURLExpiry); err == nil {
				item.PlaybackURL = url
			} else {
				api.logger.WithVideoID(v.ID).WithError(err).Warn("failed to sign playback URL")
			}
		}
		feed = append(feed, item)
	}
	return feed
}

// viewer is the authenticated caller's id, "" for anonymous requests
func viewer(c *gin.Context) string {
	if identity := middleware.GetIdentity(c); identity != nil {
		return identity.UserID
	}
	return ""
}
