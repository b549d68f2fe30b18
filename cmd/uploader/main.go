// Command uploader sends a video file through the presigned upload flow and
// reports upload analytics along the way. With --watch it instead replays a
// playback of an existing video through a view session.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/highlightai/highlight/internal/analytics"
	"github.com/highlightai/highlight/internal/config"
	"github.com/highlightai/highlight/internal/logging"
	"github.com/highlightai/highlight/internal/upload"
)

type options struct {
	apiURL       string
	analyticsURL string
	token        string
	userID       string
	duration     float64
	geoURL       string
	timeout      time.Duration
	verbose      bool

	watchVideoID string
	watched      float64
	step         float64
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var opts options
	flagSet := pflag.NewFlagSet("uploader", pflag.ContinueOnError)
	flagSet.StringVar(&opts.apiURL, "api", "http://localhost:8080", "base URL of the API")
	flagSet.StringVar(&opts.analyticsURL, "analytics", "", "base URL of the analytics collector (default: --api)")
	flagSet.StringVar(&opts.token, "token", os.Getenv("HIGHLIGHT_TOKEN"), "id token (default: $HIGHLIGHT_TOKEN)")
	flagSet.StringVar(&opts.userID, "user", "", "user id reported with analytics events")
	flagSet.Float64Var(&opts.duration, "duration", 0, "length of the recording in seconds")
	flagSet.StringVar(&opts.geoURL, "geo-url", "", "geolocation endpoint for the recording location")
	flagSet.DurationVar(&opts.timeout, "timeout", 30*time.Minute, "upload timeout")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "log progress and delivery details")
	flagSet.StringVar(&opts.watchVideoID, "watch", "", "replay a playback of this video id instead of uploading")
	flagSet.Float64Var(&opts.watched, "watched", -1, "seconds of the video to play when replaying (default: all of it)")
	flagSet.Float64Var(&opts.step, "step", 0.25, "media seconds between time updates when replaying")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.watchVideoID != "" {
		if flagSet.NArg() != 0 {
			return fmt.Errorf("usage: uploader --watch <videoId> --duration <seconds> [flags]")
		}
		if opts.duration <= 0 || opts.step <= 0 {
			return fmt.Errorf("--watch needs a positive --duration and --step")
		}
	} else {
		if flagSet.NArg() != 1 {
			return fmt.Errorf("usage: uploader [flags] <file>")
		}
		if opts.token == "" {
			return fmt.Errorf("an id token is required (--token or $HIGHLIGHT_TOKEN)")
		}
	}
	if opts.analyticsURL == "" {
		opts.analyticsURL = opts.apiURL
	}

	level := zerolog.WarnLevel
	if opts.verbose {
		level = zerolog.DebugLevel
	}
	logger := logging.New(os.Stderr, level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, opts.timeout)
	defer cancelTimeout()

	if opts.watchVideoID != "" {
		return watchVideo(ctx, opts, logger)
	}
	return uploadFile(ctx, opts, flagSet.Arg(0), logger)
}

func analyticsClient(opts options, logger *logging.Logger) *analytics.Client {
	var token analytics.TokenSource
	if opts.token != "" {
		t := opts.token
		token = func() string { return t }
	}
	return analytics.NewClient(config.AnalyticsConfig{
		Endpoint:       opts.analyticsURL,
		RequestTimeout: 10 * time.Second,
		GeoURL:         opts.geoURL,
		GeoTimeout:     5 * time.Second,
	}, token, logger)
}

func uploadFile(ctx context.Context, opts options, path string, logger *logging.Logger) error {
	token := opts.token
	client := analyticsClient(opts, logger)

	tracker := client.NewUploadTracker(ctx, opts.userID)
	defer tracker.Wait()

	uploader := upload.NewClient(upload.ClientOptions{
		APIURL:  opts.apiURL,
		Token:   token,
		Tracker: tracker,
		Logger:  logger,
		OnProgress: func(percent int) {
			fmt.Fprintf(os.Stderr, "\rUploading: %3d%%", percent)
		},
	})

	resp, err := uploader.UploadFile(ctx, path, opts.duration)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}

	fmt.Printf("videoId=%s key=%s\n", resp.VideoID, resp.S3Key)
	return nil
}
