package cmd

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/offlinefirst/screenloop/pkg/bridge"
	"github.com/offlinefirst/screenloop/pkg/recorder"
	"github.com/offlinefirst/screenloop/pkg/source"
	"github.com/offlinefirst/screenloop/pkg/track"
)

func newRecordCommand() command {
	return command{
		name:        "record",
		description: "Run a recording session against the synthetic platform bridge",
		configure: func(fs *flag.FlagSet) {
			fs.String("source", "", "Capture source id (default: first available screen)")
			fs.String("area", "", "Sub-region to capture, as x,y,width,height relative to the source display")
			fs.Duration("duration", 5*time.Second, "How long to record before stopping")
			fs.Bool("webcam", false, "Record the webcam track (overrides config)")
			fs.Bool("microphone", false, "Record the microphone track (overrides config)")
			fs.Bool("no-tracking", false, "Disable input event tracking")
		},
		run: runRecord,
	}
}

var timeNow = time.Now

func runRecord(fs *flag.FlagSet, args []string, appCtx *AppContext, stdout io.Writer, stderr io.Writer) error {
	if appCtx == nil {
		return fmt.Errorf("application context unavailable")
	}
	cfg := appCtx.Config
	logger := appCtx.Logger

	duration := durationFlag(fs, "duration", 5*time.Second)
	sourceID := stringFlag(fs, "source")
	areaSpec := stringFlag(fs, "area")
	withWebcam := boolFlag(fs, "webcam") || cfg.Capture.WebcamEnabled
	withMicrophone := boolFlag(fs, "microphone") || cfg.Capture.MicrophoneEnabled
	noTracking := boolFlag(fs, "no-tracking") || !cfg.Capture.Tracking.Enabled

	var area *bridge.Rect
	if areaSpec != "" {
		parsed, err := parseArea(areaSpec)
		if err != nil {
			return fmt.Errorf("parse -area: %w", err)
		}
		area = parsed
	}

	if err := os.MkdirAll(cfg.Paths.OutputDir, 0o755); err != nil {
		return fmt.Errorf("ensure output directory: %w", err)
	}

	platform, err := bridge.NewSynthetic(bridge.SyntheticOptions{
		Dir:           cfg.Paths.ScratchDir,
		Clock:         timeNow,
		GenerateInput: true,
	})
	if err != nil {
		return fmt.Errorf("initialise platform bridge: %w", err)
	}

	resolver, err := source.NewResolver(source.Options{Bridge: platform, Logger: logger})
	if err != nil {
		return fmt.Errorf("initialise source resolver: %w", err)
	}

	strategy, err := recorder.NewChunkedStrategy(recorder.ChunkedStrategyOptions{
		Bridge:        platform,
		Logger:        logger,
		Clock:         timeNow,
		ChunkInterval: time.Duration(cfg.Capture.Video.ChunkIntervalMs) * time.Millisecond,
		FileExt:       cfg.Capture.Video.Format,
		Frames: recorder.FrameSourceFunc(func(ctx context.Context) ([]byte, error) {
			return []byte("frame"), nil
		}),
	})
	if err != nil {
		return fmt.Errorf("initialise capture strategy: %w", err)
	}

	orch, err := recorder.New(recorder.Options{
		Bridge:     platform,
		Resolver:   resolver,
		Strategies: []recorder.Strategy{strategy},
		Logger:     logger,
		Clock:      timeNow,
	})
	if err != nil {
		return fmt.Errorf("initialise orchestrator: %w", err)
	}

	settings := recorder.Settings{
		SourceID: sourceID,
		Area:     area,
		Tracking: recorder.TrackingSettings{
			Disabled:         noTracking,
			BatchSize:        cfg.Capture.Tracking.BatchSize,
			FlushInterval:    time.Duration(cfg.Capture.Tracking.FlushIntervalMs) * time.Millisecond,
			SamplingInterval: time.Duration(cfg.Capture.Tracking.SamplingIntervalMs) * time.Millisecond,
		},
	}
	if withWebcam {
		settings.Webcam = &recorder.TrackSettings{
			Device:  track.SyntheticDevice{},
			FileExt: cfg.Capture.Webcam.Format,
			Width:   cfg.Capture.Webcam.Width,
			Height:  cfg.Capture.Webcam.Height,
		}
	}
	if withMicrophone {
		settings.Microphone = &recorder.TrackSettings{
			Device:   track.SyntheticDevice{},
			FileExt:  cfg.Capture.Microphone.Format,
			HasAudio: true,
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := orch.Start(ctx, settings); err != nil {
		return fmt.Errorf("start recording: %w", err)
	}
	fmt.Fprintf(stdout, "Recording for %s (interrupt to stop early)...\n", duration)

	select {
	case <-time.After(duration):
	case <-ctx.Done():
		logger.Info("recording interrupted; stopping early")
	}

	result, err := orch.Stop(context.Background())
	if err != nil {
		return fmt.Errorf("stop recording: %w", err)
	}

	resultPath := filepath.Join(cfg.Paths.OutputDir, "recording_"+result.SessionID+".json")
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode recording result: %w", err)
	}
	if err := os.WriteFile(resultPath, payload, 0o644); err != nil {
		return fmt.Errorf("write recording result: %w", err)
	}

	fmt.Fprintf(stdout, "Recording complete\n")
	fmt.Fprintf(stdout, "  session: %s\n", result.SessionID)
	fmt.Fprintf(stdout, "  video: %s (%dms, %dx%d via %s)\n", result.Video.FilePath, result.Video.DurationMs, result.Video.Width, result.Video.Height, result.Video.Strategy)
	fmt.Fprintf(stdout, "  events: %d tracked\n", len(result.Events))
	if result.Webcam != nil {
		fmt.Fprintf(stdout, "  webcam: %d segment(s), %dms total\n", len(result.Webcam.Segments), result.Webcam.TotalDurationMs)
	}
	if result.Audio != nil {
		fmt.Fprintf(stdout, "  audio: %d segment(s), %dms total\n", len(result.Audio.Segments), result.Audio.TotalDurationMs)
	}
	fmt.Fprintf(stdout, "  result: %s\n", resultPath)
	return nil
}

// parseArea decodes "x,y,width,height".
func parseArea(spec string) (*bridge.Rect, error) {
	parts := strings.Split(spec, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("expected x,y,width,height, got %q", spec)
	}
	values := make([]float64, 4)
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", i+1, err)
		}
		values[i] = v
	}
	if values[2] <= 0 || values[3] <= 0 {
		return nil, fmt.Errorf("area dimensions must be positive")
	}
	return &bridge.Rect{X: values[0], Y: values[1], Width: values[2], Height: values[3]}, nil
}

func boolFlag(fs *flag.FlagSet, name string) bool {
	f := fs.Lookup(name)
	if f == nil {
		return false
	}
	value, err := strconv.ParseBool(f.Value.String())
	if err != nil {
		return false
	}
	return value
}

func stringFlag(fs *flag.FlagSet, name string) string {
	f := fs.Lookup(name)
	if f == nil {
		return ""
	}
	return f.Value.String()
}

func durationFlag(fs *flag.FlagSet, name string, fallback time.Duration) time.Duration {
	f := fs.Lookup(name)
	if f == nil {
		return fallback
	}
	value, err := time.ParseDuration(f.Value.String())
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
