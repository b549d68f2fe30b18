package main

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/highlightai/highlight/internal/logging"
)

const replayUserAgent = "highlight-uploader/1.0"

// replayMedia is a playback position moved forward by the replay loop
type replayMedia struct {
	mu       sync.Mutex
	current  float64
	duration float64
}

func (m *replayMedia) CurrentTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *replayMedia) Duration() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duration
}

func (m *replayMedia) seek(t float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = t
}

// watchVideo plays opts.watched seconds of the video through a view
// session as fast as possible. Playing to the end reports view_end;
// stopping earlier reports an abandon. Queued events are flushed before the
// session is torn down.
func watchVideo(ctx context.Context, opts options, logger *logging.Logger) error {
	watched := opts.watched
	if watched < 0 || watched > opts.duration {
		watched = opts.duration
	}

	client := analyticsClient(opts, logger)
	session := client.NewViewSession(opts.watchVideoID, opts.userID, replayUserAgent)
	session.Start(ctx)

	media := &replayMedia{duration: opts.duration}
	session.Attach(media)
	session.OnPlay()

	for t := opts.step; t < watched; t += opts.step {
		if ctx.Err() != nil {
			break
		}
		media.seek(t)
		session.OnTimeUpdate()
	}
	media.seek(watched)
	session.OnTimeUpdate()

	if math.Abs(opts.duration-watched) < 1e-9 {
		session.OnEnded()
	} else {
		session.OnPause()
	}

	session.Flush()
	session.Stop()
	session.Wait()

	fmt.Printf("sessionId=%s watchCount=%d pauseCount=%d\n", session.SessionID(), session.WatchCount(), session.PauseCount())
	return ctx.Err()
}
