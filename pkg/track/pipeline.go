// Package track implements the segmented capture pipeline shared by the
// webcam and microphone tracks. Pausing never relies on an in-encoder
// pause primitive: the open output is finalized into an immutable segment,
// the media stream stays alive, and resuming opens a fresh segment with a
// new session-relative offset. Gaps between segments are intentional; they
// record the time the track was off.
package track

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/offlinefirst/screenloop/pkg/bridge"
)

// Kind names the track a pipeline records.
type Kind string

const (
	KindWebcam     Kind = "webcam"
	KindMicrophone Kind = "microphone"
)

// State is the pipeline's lifecycle tag. Paused and ToggledOff share one
// mechanism and differ only in caller intent.
type State string

const (
	StateIdle       State = "idle"
	StateRecording  State = "recording"
	StatePaused     State = "paused"
	StateToggledOff State = "toggled_off"
	StateStopped    State = "stopped"
)

// Segment is one contiguous, finalized recording file. StartOffsetMs is
// relative to the session's coordinated start time, never to the track's
// own clock.
type Segment struct {
	ID            string `json:"id"`
	FilePath      string `json:"file_path"`
	StartOffsetMs int64  `json:"start_offset_ms"`
	DurationMs    int64  `json:"duration_ms"`
	Width         int    `json:"width,omitempty"`
	Height        int    `json:"height,omitempty"`
	HasAudio      bool   `json:"has_audio,omitempty"`
}

// Result aggregates a track's segments at stop time.
type Result struct {
	Kind            Kind      `json:"kind"`
	Segments        []Segment `json:"segments"`
	TotalDurationMs int64     `json:"total_duration_ms"`
}

// Config describes one track session.
type Config struct {
	// Device acquires the media stream. Ignored when Stream is set.
	Device Device
	// Stream is an already-acquired, pre-warmed stream.
	Stream Stream
	// SessionStart is the coordinated session start instant; every
	// segment offset is computed against it.
	SessionStart time.Time
	// FileExt is the temp recording file extension (e.g. "webm", "ogg").
	FileExt string
	// Width/Height annotate video segments; HasAudio annotates audio.
	Width    int
	Height   int
	HasAudio bool
}

// Options configure a pipeline instance.
type Options struct {
	Kind   Kind
	Bridge bridge.Bridge
	Logger *slog.Logger
	Clock  func() time.Time
}

// Pipeline drives one track through idle, recording, paused/toggled-off,
// and stopped states. Lifecycle operations serialize through a depth-1
// gate so an in-flight pause is always awaited by a racing resume and
// vice versa.
type Pipeline struct {
	kind   Kind
	bridge bridge.Bridge
	logger *slog.Logger
	clock  func() time.Time

	gate chan struct{}

	mu      sync.Mutex
	state   State
	cfg     Config
	stream  Stream
	started time.Time
	active  *activeSegment
	result  []Segment
}

type activeSegment struct {
	path          string
	startedAt     time.Time
	startOffsetMs int64
	stopPump      chan struct{}
	pumpDone      chan struct{}
}

// NewPipeline validates options and constructs an idle pipeline.
func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Bridge == nil {
		return nil, fmt.Errorf("pipeline %q: bridge must be provided", opts.Kind)
	}
	if opts.Kind == "" {
		return nil, fmt.Errorf("pipeline kind must be provided")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Pipeline{
		kind:   opts.Kind,
		bridge: opts.Bridge,
		logger: logger,
		clock:  clock,
		gate:   make(chan struct{}, 1),
		state:  StateIdle,
	}, nil
}

// Kind reports the track this pipeline records.
func (p *Pipeline) Kind() Kind { return p.kind }

// State reports the current lifecycle tag.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Segments returns a copy of the finalized segments so far.
func (p *Pipeline) Segments() []Segment {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Segment, len(p.result))
	copy(out, p.result)
	return out
}

// Start acquires the media stream (or adopts a pre-warmed one), opens the
// first segment, and begins draining chunks into it.
func (p *Pipeline) Start(ctx context.Context, cfg Config) error {
	if err := p.acquireGate(ctx); err != nil {
		return err
	}
	defer p.releaseGate()

	p.mu.Lock()
	state := p.state
	p.mu.Unlock()
	if state != StateIdle {
		return fmt.Errorf("pipeline %q: %w", p.kind, ErrAlreadyStarted)
	}

	stream := cfg.Stream
	acquired := false
	if stream == nil {
		if cfg.Device == nil {
			return fmt.Errorf("pipeline %q: %w: no device configured", p.kind, ErrDeviceUnavailable)
		}
		var err error
		stream, err = cfg.Device.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("pipeline %q: %w: %v", p.kind, ErrDeviceUnavailable, err)
		}
		acquired = true
	}

	p.mu.Lock()
	p.cfg = cfg
	p.stream = stream
	p.started = cfg.SessionStart
	p.mu.Unlock()

	if err := p.openSegment(ctx); err != nil {
		if acquired {
			if closeErr := stream.Close(); closeErr != nil {
				p.logger.Warn("release stream after failed start", "track", p.kind, "error", closeErr)
			}
		}
		p.mu.Lock()
		p.stream = nil
		p.state = StateIdle
		p.mu.Unlock()
		return err
	}
	return nil
}

// Pause finalizes the current segment and tags the track paused. The
// stream stays alive. Calling while already paused or toggled off is a
// no-op.
func (p *Pipeline) Pause(ctx context.Context) error {
	return p.endSegment(ctx, StatePaused)
}

// ToggleOff finalizes the current segment via the same mechanism as Pause
// but tags the track as independently toggled off.
func (p *Pipeline) ToggleOff(ctx context.Context) error {
	return p.endSegment(ctx, StateToggledOff)
}

// Resume opens a new segment after a pause or toggle-off. The new
// segment's offset is computed fresh; it is not contiguous with the prior
// segment's end.
func (p *Pipeline) Resume(ctx context.Context) error {
	if err := p.acquireGate(ctx); err != nil {
		return err
	}
	defer p.releaseGate()

	p.mu.Lock()
	state := p.state
	stream := p.stream
	p.mu.Unlock()

	if state == StateRecording {
		return nil
	}
	if state != StatePaused && state != StateToggledOff {
		return fmt.Errorf("pipeline %q: resume from state %q", p.kind, state)
	}
	if stream == nil {
		return fmt.Errorf("pipeline %q: %w", p.kind, ErrNoLiveStream)
	}
	return p.openSegment(ctx)
}

// Stop finalizes any active segment against the coordinated stop instant
// supplied by the orchestrator, releases the stream, and aggregates the
// segment list.
func (p *Pipeline) Stop(ctx context.Context, stopAt time.Time) (Result, error) {
	if err := p.acquireGate(ctx); err != nil {
		return Result{}, err
	}
	defer p.releaseGate()

	p.mu.Lock()
	state := p.state
	stream := p.stream
	p.mu.Unlock()

	if state == StateRecording {
		if err := p.finalizeActive(ctx, stopAt, StateStopped); err != nil {
			p.logger.Warn("finalize segment during stop", "track", p.kind, "error", err)
		}
	}

	p.mu.Lock()
	p.state = StateStopped
	p.stream = nil
	segments := make([]Segment, len(p.result))
	copy(segments, p.result)
	p.mu.Unlock()

	if stream != nil {
		if err := stream.Close(); err != nil {
			p.logger.Warn("release stream", "track", p.kind, "error", err)
		}
	}

	var total int64
	for _, seg := range segments {
		total += seg.DurationMs
	}
	return Result{Kind: p.kind, Segments: segments, TotalDurationMs: total}, nil
}

func (p *Pipeline) endSegment(ctx context.Context, next State) error {
	if err := p.acquireGate(ctx); err != nil {
		return err
	}
	defer p.releaseGate()

	p.mu.Lock()
	state := p.state
	p.mu.Unlock()
	if state != StateRecording {
		// Idempotent while already paused or toggled off.
		return nil
	}
	return p.finalizeActive(ctx, p.clock(), next)
}

// openSegment creates a fresh output file, records a new session-relative
// offset, and starts the chunk pump. Callers hold the gate.
func (p *Pipeline) openSegment(ctx context.Context) error {
	p.mu.Lock()
	cfg := p.cfg
	stream := p.stream
	sessionStart := p.started
	p.mu.Unlock()

	path, err := p.bridge.CreateRecordingFile(ctx, cfg.FileExt)
	if err != nil {
		return fmt.Errorf("pipeline %q: %w: %v", p.kind, ErrStorageUnavailable, err)
	}

	now := p.clock()
	seg := &activeSegment{
		path:          path,
		startedAt:     now,
		startOffsetMs: now.Sub(sessionStart).Milliseconds(),
		stopPump:      make(chan struct{}),
		pumpDone:      make(chan struct{}),
	}

	p.mu.Lock()
	p.active = seg
	p.state = StateRecording
	p.mu.Unlock()

	go p.pump(path, stream, seg.stopPump, seg.pumpDone)
	return nil
}

// finalizeActive stops the pump, waits for its flush, seals the file, and
// appends the immutable segment. Callers hold the gate.
func (p *Pipeline) finalizeActive(ctx context.Context, stopAt time.Time, next State) error {
	p.mu.Lock()
	seg := p.active
	cfg := p.cfg
	p.active = nil
	p.state = next
	p.mu.Unlock()
	if seg == nil {
		return nil
	}

	close(seg.stopPump)
	<-seg.pumpDone

	if err := p.bridge.FinalizeRecording(ctx, seg.path); err != nil {
		return fmt.Errorf("pipeline %q: finalize segment: %w", p.kind, err)
	}

	duration := stopAt.Sub(seg.startedAt)
	if duration < 100*time.Millisecond {
		// A stale coordinated timestamp must not truncate a real
		// segment to near-zero; fall back to the raw wall-clock delta.
		if raw := p.clock().Sub(seg.startedAt); raw > duration {
			duration = raw
		}
	}
	if duration < 0 {
		duration = 0
	}

	final := Segment{
		ID:            uuid.NewString(),
		FilePath:      seg.path,
		StartOffsetMs: seg.startOffsetMs,
		DurationMs:    duration.Milliseconds(),
		Width:         cfg.Width,
		Height:        cfg.Height,
		HasAudio:      cfg.HasAudio,
	}

	p.mu.Lock()
	p.result = append(p.result, final)
	p.mu.Unlock()
	return nil
}

// pump drains stream chunks into the segment file until told to stop or
// the stream ends.
func (p *Pipeline) pump(path string, stream Stream, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case chunk, ok := <-stream.Chunks():
			if !ok {
				return
			}
			if err := p.bridge.AppendRecording(context.Background(), path, chunk); err != nil {
				p.logger.Warn("append chunk", "track", p.kind, "error", err)
				return
			}
		}
	}
}

func (p *Pipeline) acquireGate(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case p.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) releaseGate() {
	<-p.gate
}
