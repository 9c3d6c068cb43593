// Package recorder implements the top-level recording orchestrator: it
// owns one primary capture strategy plus optional webcam and microphone
// pipelines and the event tracking service, coordinates their start and
// stop against shared timestamps, tolerates optional-track failures, and
// serializes track toggles through a FIFO operation lock.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/offlinefirst/screenloop/pkg/bridge"
	"github.com/offlinefirst/screenloop/pkg/permissions"
	"github.com/offlinefirst/screenloop/pkg/source"
	"github.com/offlinefirst/screenloop/pkg/track"
	"github.com/offlinefirst/screenloop/pkg/tracking"
)

// TrackSettings describe one optional media track.
type TrackSettings struct {
	// Device acquires the stream; Stream supplies a pre-warmed one.
	Device track.Device
	Stream track.Stream
	// FileExt is the temp file extension ("webm", "ogg", ...).
	FileExt string
	// Width/Height annotate webcam segments; HasAudio marks audio.
	Width    int
	Height   int
	HasAudio bool
}

// TrackingSettings tune the event tracking service.
type TrackingSettings struct {
	Disabled         bool
	BatchSize        int
	FlushInterval    time.Duration
	SamplingInterval time.Duration
}

// Settings describe one recording session request.
type Settings struct {
	SourceID   string
	Area       *bridge.Rect
	Webcam     *TrackSettings
	Microphone *TrackSettings
	Tracking   TrackingSettings
}

// Result is the sole handoff artifact to the rendering pipeline.
type Result struct {
	SessionID string           `json:"session_id"`
	Video     PrimaryResult    `json:"video"`
	Capture   source.Capture   `json:"capture"`
	StartedAt time.Time        `json:"started_at"`
	StoppedAt time.Time        `json:"stopped_at"`
	Events    []tracking.Event `json:"events,omitempty"`
	Webcam    *track.Result    `json:"webcam,omitempty"`
	Audio     *track.Result    `json:"audio,omitempty"`
}

// Options configure an orchestrator.
type Options struct {
	Bridge   bridge.Bridge
	Resolver *source.Resolver
	// Strategies in priority order; the first available one records the
	// primary track.
	Strategies []Strategy
	Logger     *slog.Logger
	Clock      func() time.Time
	// Probe reports screen recording permission; defaults to the
	// environment probe.
	Probe func() permissions.ProbeResult
}

// Orchestrator owns at most one recording session at a time.
type Orchestrator struct {
	bridge     bridge.Bridge
	resolver   *source.Resolver
	strategies []Strategy
	logger     *slog.Logger
	clock      func() time.Time
	probe      func() permissions.ProbeResult

	opLock operationLock

	mu       sync.Mutex
	starting bool
	session  *session
	paused   bool
}

// session is owned exclusively by the orchestrator and never outlives
// Stop.
type session struct {
	id         string
	capture    source.Capture
	startedAt  time.Time
	strategy   Strategy
	webcam     *track.Pipeline
	microphone *track.Pipeline
	tracker    *tracking.Service
}

// New validates options and constructs an orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Bridge == nil {
		return nil, fmt.Errorf("bridge must be provided")
	}
	if opts.Resolver == nil {
		return nil, fmt.Errorf("resolver must be provided")
	}
	if len(opts.Strategies) == 0 {
		return nil, fmt.Errorf("at least one capture strategy must be provided")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	probe := opts.Probe
	if probe == nil {
		probe = func() permissions.ProbeResult {
			return permissions.ProbeScreenRecording(nil)
		}
	}
	return &Orchestrator{
		bridge:     opts.Bridge,
		resolver:   opts.Resolver,
		strategies: opts.Strategies,
		logger:     logger,
		clock:      clock,
		probe:      probe,
	}, nil
}

// Start resolves the source, selects the first available strategy, and
// starts every requested track in parallel against one coordinated start
// timestamp. Optional-track failures degrade with a warning; a primary
// failure rolls back every already-started track. Event tracking starts
// last so its timestamps align with actual captured frames.
func (o *Orchestrator) Start(ctx context.Context, settings Settings) error {
	o.mu.Lock()
	if o.session != nil || o.starting {
		o.mu.Unlock()
		return ErrAlreadyRecording
	}
	o.starting = true
	o.mu.Unlock()

	succeeded := false
	defer func() {
		o.mu.Lock()
		o.starting = false
		if !succeeded {
			o.session = nil
		}
		o.mu.Unlock()
	}()

	if probe := o.probe(); probe.Status == permissions.StatusDenied {
		return newPermissionError(probe.Message, probe.Guidance)
	}

	capture, err := o.resolver.Resolve(ctx, source.Request{SourceID: settings.SourceID, Area: settings.Area})
	if err != nil {
		return fmt.Errorf("resolve capture source: %w", err)
	}

	strategy := o.selectStrategy(ctx)
	if strategy == nil {
		return ErrNoStrategyAvailable
	}

	sess := &session{
		id:        uuid.NewString(),
		capture:   capture,
		strategy:  strategy,
		startedAt: o.clock(), // coordinated start: captured once, before any track starts
	}

	var webcam, microphone *track.Pipeline
	if settings.Webcam != nil {
		webcam, err = track.NewPipeline(track.Options{Kind: track.KindWebcam, Bridge: o.bridge, Logger: o.logger, Clock: o.clock})
		if err != nil {
			return fmt.Errorf("build webcam pipeline: %w", err)
		}
	}
	if settings.Microphone != nil {
		microphone, err = track.NewPipeline(track.Options{Kind: track.KindMicrophone, Bridge: o.bridge, Logger: o.logger, Clock: o.clock})
		if err != nil {
			return fmt.Errorf("build microphone pipeline: %w", err)
		}
	}

	var wg sync.WaitGroup
	var primaryErr, webcamErr, micErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		primaryErr = strategy.Start(ctx, capture, sess.startedAt)
	}()
	if webcam != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			webcamErr = webcam.Start(ctx, trackConfig(*settings.Webcam, sess.startedAt))
		}()
	}
	if microphone != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			micErr = microphone.Start(ctx, trackConfig(*settings.Microphone, sess.startedAt))
		}()
	}
	wg.Wait()

	if primaryErr != nil {
		o.rollback(webcam, microphone, webcamErr == nil, micErr == nil)
		return fmt.Errorf("start primary capture (%s): %w", strategy.Name(), primaryErr)
	}
	if webcamErr != nil {
		o.logger.Warn("webcam track unavailable; continuing without it", "error", webcamErr)
		webcam = nil
	}
	if micErr != nil {
		o.logger.Warn("microphone track unavailable; continuing without it", "error", micErr)
		microphone = nil
	}
	sess.webcam = webcam
	sess.microphone = microphone

	if !settings.Tracking.Disabled {
		tracker, err := tracking.NewService(tracking.Options{
			Bridge:           o.bridge,
			Logger:           o.logger,
			Clock:            o.clock,
			BatchSize:        settings.Tracking.BatchSize,
			FlushInterval:    settings.Tracking.FlushInterval,
			SamplingInterval: settings.Tracking.SamplingInterval,
		})
		if err == nil {
			err = tracker.Start(ctx, capture, sess.startedAt)
		}
		if err != nil {
			o.logger.Warn("event tracking unavailable; recording continues without input metadata", "error", err)
		} else {
			sess.tracker = tracker
		}
	}

	if err := o.bridge.ShowRecordingOverlay(capture.Bounds, "Recording", bridge.OverlayOptions{}); err != nil {
		o.logger.Warn("show recording overlay", "error", err)
	}

	o.mu.Lock()
	o.session = sess
	o.paused = false
	o.mu.Unlock()
	succeeded = true

	o.logger.Info("recording session started",
		"session", sess.id,
		"strategy", strategy.Name(),
		"source", capture.ID,
		"kind", capture.Kind,
		"width", capture.Width,
		"height", capture.Height,
		"webcam", webcam != nil,
		"microphone", microphone != nil,
		"tracking", sess.tracker != nil)
	return nil
}

// Stop captures one coordinated stop timestamp, stops every active track
// in parallel, and assembles the recording result. A tracking failure
// degrades the metadata rather than failing the stop; a recording without
// events is still usable while a dropped video is not.
func (o *Orchestrator) Stop(ctx context.Context) (Result, error) {
	o.mu.Lock()
	sess := o.session
	o.session = nil
	o.paused = false
	o.mu.Unlock()
	if sess == nil {
		return Result{}, ErrNotRecording
	}

	stopAt := o.clock() // coordinated stop shared by every track

	var wg sync.WaitGroup
	var primary PrimaryResult
	var primaryErr error
	var events []tracking.Event
	var webcamResult, audioResult *track.Result

	if sess.tracker != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := sess.tracker.Stop(ctx)
			if err != nil {
				o.logger.Warn("event tracking stop failed; returning partial metadata", "error", err)
				return
			}
			events = got
		}()
	}
	if sess.webcam != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := sess.webcam.Stop(ctx, stopAt)
			if err != nil {
				o.logger.Warn("stop webcam track", "error", err)
				return
			}
			webcamResult = &res
		}()
	}
	if sess.microphone != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := sess.microphone.Stop(ctx, stopAt)
			if err != nil {
				o.logger.Warn("stop microphone track", "error", err)
				return
			}
			audioResult = &res
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		primary, primaryErr = sess.strategy.Stop(ctx, stopAt)
	}()
	wg.Wait()

	if err := o.bridge.HideRecordingOverlay(); err != nil {
		o.logger.Warn("hide recording overlay", "error", err)
	}

	if primaryErr != nil {
		return Result{}, fmt.Errorf("stop primary capture: %w", primaryErr)
	}

	o.logger.Info("recording session stopped",
		"session", sess.id,
		"duration_ms", primary.DurationMs,
		"events", len(events),
		"webcam_segments", segmentCount(webcamResult),
		"audio_segments", segmentCount(audioResult))

	return Result{
		SessionID: sess.id,
		Video:     primary,
		Capture:   sess.capture,
		StartedAt: sess.startedAt,
		StoppedAt: stopAt,
		Events:    events,
		Webcam:    webcamResult,
		Audio:     audioResult,
	}, nil
}

// Pause fans out to every active track. Track-level pause failures are
// logged by the tracks themselves; the primary strategy's pause governs
// the authoritative recording clock.
func (o *Orchestrator) Pause(ctx context.Context) error {
	o.mu.Lock()
	sess := o.session
	if sess == nil {
		o.mu.Unlock()
		return ErrNotRecording
	}
	o.paused = true
	o.mu.Unlock()

	if sess.tracker != nil {
		sess.tracker.Pause()
	}
	go func() {
		if err := sess.strategy.Pause(ctx); err != nil {
			o.logger.Warn("pause primary capture", "error", err)
		}
	}()
	if sess.webcam != nil {
		go func() {
			if err := sess.webcam.Pause(ctx); err != nil {
				o.logger.Warn("pause webcam track", "error", err)
			}
		}()
	}
	if sess.microphone != nil {
		go func() {
			if err := sess.microphone.Pause(ctx); err != nil {
				o.logger.Warn("pause microphone track", "error", err)
			}
		}()
	}
	return nil
}

// Resume fans out to every paused track. Tracks the user independently
// toggled off stay off.
func (o *Orchestrator) Resume(ctx context.Context) error {
	o.mu.Lock()
	sess := o.session
	if sess == nil {
		o.mu.Unlock()
		return ErrNotRecording
	}
	o.paused = false
	o.mu.Unlock()

	if sess.tracker != nil {
		sess.tracker.Resume()
	}
	go func() {
		if err := sess.strategy.Resume(ctx); err != nil {
			o.logger.Warn("resume primary capture", "error", err)
		}
	}()
	if sess.webcam != nil && sess.webcam.State() == track.StatePaused {
		go func() {
			if err := sess.webcam.Resume(ctx); err != nil {
				o.logger.Warn("resume webcam track", "error", err)
			}
		}()
	}
	if sess.microphone != nil && sess.microphone.State() == track.StatePaused {
		go func() {
			if err := sess.microphone.Resume(ctx); err != nil {
				o.logger.Warn("resume microphone track", "error", err)
			}
		}()
	}
	return nil
}

// ToggleWebcamCapture turns the webcam track off or back on, serialized
// through the session-wide operation lock.
func (o *Orchestrator) ToggleWebcamCapture(ctx context.Context) error {
	return o.toggle(ctx, track.KindWebcam)
}

// ToggleMicrophoneCapture turns the microphone track off or back on,
// serialized through the session-wide operation lock.
func (o *Orchestrator) ToggleMicrophoneCapture(ctx context.Context) error {
	return o.toggle(ctx, track.KindMicrophone)
}

func (o *Orchestrator) toggle(ctx context.Context, kind track.Kind) error {
	if err := o.opLock.Acquire(ctx); err != nil {
		return err
	}
	defer o.opLock.Release()

	o.mu.Lock()
	sess := o.session
	o.mu.Unlock()
	if sess == nil {
		return ErrNotRecording
	}

	pipeline := sess.webcam
	if kind == track.KindMicrophone {
		pipeline = sess.microphone
	}
	if pipeline == nil {
		o.logger.Warn("toggle requested for a track that was never enabled", "track", kind)
		return nil
	}

	if pipeline.State() == track.StateToggledOff {
		if err := pipeline.Resume(ctx); err != nil {
			return fmt.Errorf("toggle %s on: %w", kind, err)
		}
		o.logger.Info("track toggled on", "track", kind)
		return nil
	}
	if err := pipeline.ToggleOff(ctx); err != nil {
		return fmt.Errorf("toggle %s off: %w", kind, err)
	}
	o.logger.Info("track toggled off", "track", kind)
	return nil
}

// IsRecording reports whether a session is active.
func (o *Orchestrator) IsRecording() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session != nil
}

// IsPaused reports whether the active session is paused.
func (o *Orchestrator) IsPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session != nil && o.paused
}

// CanToggleWebcam reports whether a webcam toggle would proceed right now.
func (o *Orchestrator) CanToggleWebcam() bool {
	return o.canToggle(track.KindWebcam)
}

// CanToggleMicrophone reports whether a microphone toggle would proceed
// right now.
func (o *Orchestrator) CanToggleMicrophone() bool {
	return o.canToggle(track.KindMicrophone)
}

// IsWebcamToggledOff reports whether the webcam track is independently
// toggled off.
func (o *Orchestrator) IsWebcamToggledOff() bool {
	return o.isToggledOff(track.KindWebcam)
}

// IsMicrophoneToggledOff reports whether the microphone track is
// independently toggled off.
func (o *Orchestrator) IsMicrophoneToggledOff() bool {
	return o.isToggledOff(track.KindMicrophone)
}

func (o *Orchestrator) canToggle(kind track.Kind) bool {
	o.mu.Lock()
	sess := o.session
	o.mu.Unlock()
	if sess == nil || o.opLock.Held() {
		return false
	}
	if kind == track.KindMicrophone {
		return sess.microphone != nil
	}
	return sess.webcam != nil
}

func (o *Orchestrator) isToggledOff(kind track.Kind) bool {
	o.mu.Lock()
	sess := o.session
	o.mu.Unlock()
	if sess == nil {
		return false
	}
	pipeline := sess.webcam
	if kind == track.KindMicrophone {
		pipeline = sess.microphone
	}
	return pipeline != nil && pipeline.State() == track.StateToggledOff
}

// selectStrategy returns the first available strategy in priority order.
func (o *Orchestrator) selectStrategy(ctx context.Context) Strategy {
	for _, strategy := range o.strategies {
		if strategy.Available(ctx) {
			return strategy
		}
	}
	return nil
}

// rollback best-effort stops tracks that started before a primary
// failure.
func (o *Orchestrator) rollback(webcam, microphone *track.Pipeline, webcamStarted, micStarted bool) {
	now := o.clock()
	if webcam != nil && webcamStarted {
		if _, err := webcam.Stop(context.Background(), now); err != nil {
			o.logger.Warn("rollback webcam track", "error", err)
		}
	}
	if microphone != nil && micStarted {
		if _, err := microphone.Stop(context.Background(), now); err != nil {
			o.logger.Warn("rollback microphone track", "error", err)
		}
	}
}

func trackConfig(settings TrackSettings, sessionStart time.Time) track.Config {
	ext := settings.FileExt
	if ext == "" {
		ext = "webm"
	}
	return track.Config{
		Device:       settings.Device,
		Stream:       settings.Stream,
		SessionStart: sessionStart,
		FileExt:      ext,
		Width:        settings.Width,
		Height:       settings.Height,
		HasAudio:     settings.HasAudio,
	}
}

func segmentCount(res *track.Result) int {
	if res == nil {
		return 0
	}
	return len(res.Segments)
}
