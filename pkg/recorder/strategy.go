package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/offlinefirst/screenloop/pkg/bridge"
	"github.com/offlinefirst/screenloop/pkg/permissions"
	"github.com/offlinefirst/screenloop/pkg/source"
)

// PrimaryResult summarises the primary video track at stop time.
type PrimaryResult struct {
	Strategy   string `json:"strategy"`
	FilePath   string `json:"file_path"`
	DurationMs int64  `json:"duration_ms"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// Strategy is a pluggable primary screen/video recorder. The orchestrator
// selects the first strategy reporting itself available, in priority
// order, and supplies coordinated start/stop timestamps.
type Strategy interface {
	Name() string
	Available(ctx context.Context) bool
	Start(ctx context.Context, capture source.Capture, startAt time.Time) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context, stopAt time.Time) (PrimaryResult, error)
}

// FrameSource supplies encoded video chunks for the generic strategy.
type FrameSource interface {
	Next(ctx context.Context) ([]byte, error)
}

// FrameSourceFunc adapts a function literal to the FrameSource interface.
type FrameSourceFunc func(ctx context.Context) ([]byte, error)

// Next calls the underlying function.
func (f FrameSourceFunc) Next(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

// ChunkedStrategyOptions configure the generic encoder fallback.
type ChunkedStrategyOptions struct {
	Bridge bridge.Bridge
	Logger *slog.Logger
	Clock  func() time.Time
	// Frames produces encoded chunks; required.
	Frames FrameSource
	// ChunkInterval paces frame pulls (default 250ms).
	ChunkInterval time.Duration
	// FileExt is the recording container extension (default "webm").
	FileExt string
	// Probe reports screen recording permission; defaults to the
	// environment probe.
	Probe func() permissions.ProbeResult
}

// ChunkedStrategy is the generic encoder fallback: it pulls encoded
// chunks from a frame source on a fixed cadence and appends them to a
// bridge-owned recording file. While paused it keeps the file open but
// pulls no frames; the paused span is excluded from the reported
// duration.
type ChunkedStrategy struct {
	bridge   bridge.Bridge
	logger   *slog.Logger
	clock    func() time.Time
	frames   FrameSource
	interval time.Duration
	fileExt  string
	probe    func() permissions.ProbeResult

	mu          sync.Mutex
	path        string
	startAt     time.Time
	paused      bool
	pauseStart  time.Time
	pausedTotal time.Duration
	width       int
	height      int
	stopLoop    chan struct{}
	loopDone    chan struct{}
}

// NewChunkedStrategy validates options and constructs the strategy.
func NewChunkedStrategy(opts ChunkedStrategyOptions) (*ChunkedStrategy, error) {
	if opts.Bridge == nil {
		return nil, errors.New("bridge must be provided")
	}
	if opts.Frames == nil {
		return nil, errors.New("frame source must be provided")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	interval := opts.ChunkInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ext := opts.FileExt
	if ext == "" {
		ext = "webm"
	}
	probe := opts.Probe
	if probe == nil {
		probe = func() permissions.ProbeResult {
			return permissions.ProbeScreenRecording(nil)
		}
	}
	return &ChunkedStrategy{
		bridge:   opts.Bridge,
		logger:   logger,
		clock:    clock,
		frames:   opts.Frames,
		interval: interval,
		fileExt:  ext,
		probe:    probe,
	}, nil
}

// Name identifies the strategy for diagnostics and results.
func (c *ChunkedStrategy) Name() string { return "chunked" }

// Available reports whether recording can proceed; an explicit permission
// denial disqualifies the strategy.
func (c *ChunkedStrategy) Available(ctx context.Context) bool {
	if ctx != nil && ctx.Err() != nil {
		return false
	}
	return c.probe().Status != permissions.StatusDenied
}

// Start opens the recording file and begins the frame loop.
func (c *ChunkedStrategy) Start(ctx context.Context, capture source.Capture, startAt time.Time) error {
	path, err := c.bridge.CreateRecordingFile(ctx, c.fileExt)
	if err != nil {
		return fmt.Errorf("chunked strategy: create recording file: %w", err)
	}

	c.mu.Lock()
	c.path = path
	c.startAt = startAt
	c.paused = false
	c.pausedTotal = 0
	c.width = capture.Width
	c.height = capture.Height
	c.stopLoop = make(chan struct{})
	c.loopDone = make(chan struct{})
	stop := c.stopLoop
	done := c.loopDone
	c.mu.Unlock()

	go c.loop(path, stop, done)
	return nil
}

// Pause suspends frame pulls; the recording file stays open.
func (c *ChunkedStrategy) Pause(ctx context.Context) error {
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return nil
	}
	c.paused = true
	c.pauseStart = c.clock()
	return nil
}

// Resume re-enables frame pulls and accumulates the paused span.
func (c *ChunkedStrategy) Resume(ctx context.Context) error {
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return nil
	}
	c.pausedTotal += c.clock().Sub(c.pauseStart)
	c.paused = false
	return nil
}

// Stop ends the frame loop, finalizes the file, and reports the duration
// against the coordinated stop instant.
func (c *ChunkedStrategy) Stop(ctx context.Context, stopAt time.Time) (PrimaryResult, error) {
	c.mu.Lock()
	stop := c.stopLoop
	done := c.loopDone
	c.stopLoop = nil
	c.loopDone = nil
	path := c.path
	startAt := c.startAt
	paused := c.paused
	pauseStart := c.pauseStart
	pausedTotal := c.pausedTotal
	width := c.width
	height := c.height
	c.mu.Unlock()

	if stop == nil {
		return PrimaryResult{}, errors.New("chunked strategy: not started")
	}
	close(stop)
	<-done

	if err := c.bridge.FinalizeRecording(ctx, path); err != nil {
		return PrimaryResult{}, fmt.Errorf("chunked strategy: finalize recording: %w", err)
	}

	if paused {
		pausedTotal += stopAt.Sub(pauseStart)
	}
	duration := stopAt.Sub(startAt) - pausedTotal
	if duration < 0 {
		duration = 0
	}
	return PrimaryResult{
		Strategy:   c.Name(),
		FilePath:   path,
		DurationMs: duration.Milliseconds(),
		Width:      width,
		Height:     height,
	}, nil
}

func (c *ChunkedStrategy) loop(path string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			paused := c.paused
			c.mu.Unlock()
			if paused {
				continue
			}
			chunk, err := c.frames.Next(context.Background())
			if err != nil {
				c.logger.Warn("pull frame chunk", "error", err)
				continue
			}
			if len(chunk) == 0 {
				continue
			}
			if err := c.bridge.AppendRecording(context.Background(), path, chunk); err != nil {
				c.logger.Warn("append frame chunk", "error", err)
				return
			}
		}
	}
}
