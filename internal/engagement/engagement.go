package engagement

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/highlightai/highlight/internal/logging"
	"github.com/highlightai/highlight/internal/metrics"
	"github.com/highlightai/highlight/pkg/models"
)

const (
	fieldLikes    = "likes"
	fieldComments = "comments"
	fieldViews    = "views"
)

// toggleScript adds or removes a user from a video's like set and adjusts
// the counter only when membership actually changed.
var toggleScript = redis.NewScript(`
local changed
if ARGV[2] == "1" then
	changed = redis.call("SADD", KEYS[1], ARGV[1])
else
	changed = redis.call("SREM", KEYS[1], ARGV[1])
end
if changed == 1 then
	local delta = 1
	if ARGV[2] ~= "1" then delta = -1 end
	redis.call("HINCRBY", KEYS[2], "likes", delta)
end
return changed
`)

func countsKey(videoID string) string { return fmt.Sprintf("engagement:%s", videoID) }
func likesKey(videoID string) string  { return fmt.Sprintf("engagement:%s:likers", videoID) }

// Channel is the pub/sub channel carrying updates for videoID
func Channel(videoID string) string { return fmt.Sprintf("engagement:%s:updates", videoID) }

// Store keeps per-video counters in Redis and broadcasts every change
type Store struct {
	client *redis.Client
	logger *logging.Logger
	now    func() time.Time
}

// NewStore creates a store on an existing connection
func NewStore(client *redis.Client, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Store{client: client, logger: logger, now: time.Now}
}

// Like records userID's like of videoID. Liking twice counts once.
func (s *Store) Like(ctx context.Context, videoID, userID string) (models.Engagement, error) {
	return s.toggle(ctx, videoID, userID, true)
}

// Unlike withdraws userID's like. Unliking a video that was not liked is a
// no-op.
func (s *Store) Unlike(ctx context.Context, videoID, userID string) (models.Engagement, error) {
	return s.toggle(ctx, videoID, userID, false)
}

func (s *Store) toggle(ctx context.Context, videoID, userID string, like bool) (models.Engagement, error) {
	flag := "0"
	action := "unlike"
	if like {
		flag = "1"
		action = "like"
	}

	changed, err := toggleScript.Run(ctx, s.client, []string{likesKey(videoID), countsKey(videoID)}, userID, flag).Int()
	if err != nil {
		return models.Engagement{}, fmt.Errorf("failed to %s video: %w", action, err)
	}

	counts, err := s.Counts(ctx, videoID)
	if err != nil {
		return models.Engagement{}, err
	}
	if changed == 1 {
		metrics.RecordEngagement(action)
		s.publish(ctx, videoID, counts)
	}
	return counts, nil
}

// RecordView increments the view counter
func (s *Store) RecordView(ctx context.Context, videoID string) (models.Engagement, error) {
	if err := s.client.HIncrBy(ctx, countsKey(videoID), fieldViews, 1).Err(); err != nil {
		return models.Engagement{}, fmt.Errorf("failed to record view: %w", err)
	}

	counts, err := s.Counts(ctx, videoID)
	if err != nil {
		return models.Engagement{}, err
	}
	metrics.RecordEngagement("view")
	s.publish(ctx, videoID, counts)
	return counts, nil
}

// Counts returns the current counters. Unknown videos report zeros.
func (s *Store) Counts(ctx context.Context, videoID string) (models.Engagement, error) {
	values, err := s.client.HMGet(ctx, countsKey(videoID), fieldLikes, fieldComments, fieldViews).Result()
	if err != nil {
		return models.Engagement{}, fmt.Errorf("failed to get engagement: %w", err)
	}
	return parseCounts(values), nil
}

// CountsMany returns counters for several videos in one round trip
func (s *Store) CountsMany(ctx context.Context, videoIDs []string) (map[string]models.Engagement, error) {
	result := make(map[string]models.Engagement, len(videoIDs))
	if len(videoIDs) == 0 {
		return result, nil
	}

	cmds := make([]*redis.SliceCmd, len(videoIDs))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range videoIDs {
			cmds[i] = pipe.HMGet(ctx, countsKey(id), fieldLikes, fieldComments, fieldViews)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get engagement: %w", err)
	}

	for i, id := range videoIDs {
		result[id] = parseCounts(cmds[i].Val())
	}
	return result, nil
}

// Liked reports whether userID currently likes videoID
func (s *Store) Liked(ctx context.Context, videoID, userID string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, likesKey(videoID), userID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check like: %w", err)
	}
	return ok, nil
}

// Subscribe streams updates for videoID until ctx is done. The returned
// channel is closed when the subscription ends.
func (s *Store) Subscribe(ctx context.Context, videoID string) (<-chan models.EngagementUpdate, error) {
	pubsub := s.client.Subscribe(ctx, Channel(videoID))
	// Wait for the subscription to be confirmed so no update is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	updates := make(chan models.EngagementUpdate)
	metrics.EngagementSubscribers.Inc()

	go func() {
		defer metrics.EngagementSubscribers.Dec()
		defer close(updates)
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var update models.EngagementUpdate
				if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
					s.logger.WithVideoID(videoID).Warnf("discarding malformed engagement update: %v", err)
					continue
				}
				select {
				case updates <- update:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return updates, nil
}

// publish broadcasts counts. Failures are logged; the counter change has
// already been committed.
func (s *Store) publish(ctx context.Context, videoID string, counts models.Engagement) {
	data, err := json.Marshal(models.EngagementUpdate{
		VideoID:    videoID,
		Engagement: counts,
		UpdatedAt:  s.now().UTC(),
	})
	if err != nil {
		s.logger.WithVideoID(videoID).ErrorWithErr("failed to marshal engagement update", err)
		return
	}
	if err := s.client.Publish(ctx, Channel(videoID), data).Err(); err != nil {
		metrics.RecordError("engagement", "publish")
		s.logger.WithVideoID(videoID).ErrorWithErr("failed to publish engagement update", err)
	}
}

func parseCounts(values []interface{}) models.Engagement {
	field := func(i int) int64 {
		if i >= len(values) || values[i] == nil {
			return 0
		}
		str, ok := values[i].(string)
		if !ok {
			return 0
		}
		n, _ := strconv.ParseInt(str, 10, 64)
		return n
	}
	return models.Engagement{
		LikeCount:    field(0),
		CommentCount: field(1),
		ViewCount:    field(2),
	}
}
