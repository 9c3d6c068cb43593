// Package tracking records global cursor, click, scroll, and keyboard
// events during a recording session. Incoming absolute coordinates are
// converted into capture-relative pixels, timestamps are forced strictly
// monotonic against the coordinated session start, and events are batched
// to persistent storage through the platform bridge.
package tracking

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/offlinefirst/screenloop/pkg/bridge"
	"github.com/offlinefirst/screenloop/pkg/source"
)

const (
	defaultBatchSize        = 100
	defaultFlushInterval    = time.Second
	defaultSamplingInterval = 16 * time.Millisecond
)

// Event is one tracked input sample with a session-relative, strictly
// increasing timestamp and capture-relative coordinates.
type Event struct {
	TimestampMs int64   `json:"timestamp_ms"`
	Kind        string  `json:"kind"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Button      string  `json:"button,omitempty"`
	Key         string  `json:"key,omitempty"`
	ScrollX     float64 `json:"scroll_x,omitempty"`
	ScrollY     float64 `json:"scroll_y,omitempty"`
}

// Options configure the tracking service.
type Options struct {
	Bridge bridge.Bridge
	Logger *slog.Logger
	Clock  func() time.Time
	// BatchSize bounds the in-memory queue before a flush (default 100).
	BatchSize int
	// FlushInterval is the idle flush timer (default 1s).
	FlushInterval time.Duration
	// SamplingInterval is requested from the bridge for pointer-move
	// delivery (default 16ms).
	SamplingInterval time.Duration
}

// Service subscribes to bridge input events for one recording session.
type Service struct {
	bridge           bridge.Bridge
	logger           *slog.Logger
	clock            func() time.Time
	batchSize        int
	flushInterval    time.Duration
	samplingInterval time.Duration

	flushMu sync.Mutex

	mu           sync.Mutex
	running      bool
	paused       bool
	pauseStart   time.Time
	pausedTotal  time.Duration
	sessionStart time.Time
	capture      source.Capture
	lastTs       int64
	queue        []Event
	all          []Event
	metadataPath string
	persisted    bool
	unsubscribe  func()
	idleTimer    *time.Timer
}

// NewService validates options and constructs a tracking service.
func NewService(opts Options) (*Service, error) {
	if opts.Bridge == nil {
		return nil, errors.New("bridge must be provided")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	flush := opts.FlushInterval
	if flush <= 0 {
		flush = defaultFlushInterval
	}
	sampling := opts.SamplingInterval
	if sampling <= 0 {
		sampling = defaultSamplingInterval
	}
	return &Service{
		bridge:           opts.Bridge,
		logger:           logger,
		clock:            clock,
		batchSize:        batch,
		flushInterval:    flush,
		samplingInterval: sampling,
		lastTs:           -1,
	}, nil
}

// Start opens the metadata store, subscribes to global input, and begins
// event delivery. A metadata store failure degrades to in-memory tracking
// with a warning; subscription failures abort.
func (s *Service) Start(ctx context.Context, capture source.Capture, sessionStart time.Time) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("tracking already running")
	}
	s.running = true
	s.paused = false
	s.pausedTotal = 0
	s.sessionStart = sessionStart
	s.capture = capture
	s.lastTs = -1
	s.queue = nil
	s.all = nil
	s.persisted = false
	s.metadataPath = ""
	s.mu.Unlock()

	path, err := s.bridge.CreateMetadataFile(ctx)
	if err != nil {
		s.logger.Warn("metadata store unavailable; tracking in memory only", "error", err)
	} else {
		s.mu.Lock()
		s.metadataPath = path
		s.persisted = true
		s.mu.Unlock()
	}

	unsubscribe, err := s.bridge.SubscribeInput(s.handle)
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("subscribe input events: %w", err)
	}
	if err := s.bridge.StartInputCapture(ctx, s.samplingInterval); err != nil {
		unsubscribe()
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("start input capture: %w", err)
	}

	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()
	return nil
}

// Pause drops incoming events until Resume. Dropped spans are excluded
// from subsequent timestamps.
func (s *Service) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.paused {
		return
	}
	s.paused = true
	s.pauseStart = s.clock()
}

// Resume re-enables event delivery and accumulates the paused span.
func (s *Service) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || !s.paused {
		return
	}
	s.pausedTotal += s.clock().Sub(s.pauseStart)
	s.paused = false
}

// Stop unsubscribes, force-flushes the queue, and returns the complete
// event list. The persisted store is authoritative when available; the
// in-memory copy backs it up.
func (s *Service) Stop(ctx context.Context) ([]Event, error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil, errors.New("tracking not running")
	}
	s.running = false
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if err := s.bridge.StopInputCapture(ctx); err != nil {
		s.logger.Warn("stop input capture", "error", err)
	}

	if err := s.flush(ctx, true); err != nil {
		s.logger.Warn("final event flush", "error", err)
	}

	s.mu.Lock()
	persisted := s.persisted
	path := s.metadataPath
	memory := make([]Event, len(s.all))
	copy(memory, s.all)
	s.mu.Unlock()

	if persisted {
		data, err := s.bridge.ReadMetadata(ctx, path)
		if err != nil {
			s.logger.Warn("read persisted events; using in-memory copy", "error", err)
			return memory, nil
		}
		events, err := decodeEvents(data)
		if err != nil {
			s.logger.Warn("decode persisted events; using in-memory copy", "error", err)
			return memory, nil
		}
		return events, nil
	}
	return memory, nil
}

// handle converts one raw bridge event into capture-relative space and
// queues it. Events outside the capture area are discarded.
func (s *Service) handle(raw bridge.InputEvent) {
	s.mu.Lock()
	if !s.running || s.paused {
		s.mu.Unlock()
		return
	}

	event := Event{Kind: string(raw.Kind), Button: raw.Button, Key: raw.Key}

	if raw.Kind != bridge.InputKeyPress {
		x := (raw.X - s.capture.Bounds.X) * s.capture.ScaleFactor
		y := (raw.Y - s.capture.Bounds.Y) * s.capture.ScaleFactor
		if x < 0 || y < 0 || x >= float64(s.capture.Width) || y >= float64(s.capture.Height) {
			// Pointer left the captured region.
			s.mu.Unlock()
			return
		}
		event.X = x
		event.Y = y
		event.ScrollX = raw.ScrollX * s.capture.ScaleFactor
		event.ScrollY = raw.ScrollY * s.capture.ScaleFactor
	}

	// The clock can report the same millisecond for consecutive fast
	// events; downstream interpolation requires strict monotonicity.
	ts := (s.clock().Sub(s.sessionStart) - s.pausedTotal).Milliseconds()
	if ts <= s.lastTs {
		ts = s.lastTs + 1
	}
	s.lastTs = ts
	event.TimestampMs = ts

	s.queue = append(s.queue, event)
	s.all = append(s.all, event)
	needFlush := len(s.queue) >= s.batchSize
	if !needFlush {
		s.armIdleTimerLocked()
	}
	s.mu.Unlock()

	if needFlush {
		if err := s.flush(context.Background(), false); err != nil {
			s.logger.Warn("flush event batch", "error", err)
		}
	}
}

// armIdleTimerLocked (re)schedules the idle flush. Callers hold s.mu.
func (s *Service) armIdleTimerLocked() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(s.flushInterval, func() {
		if err := s.flush(context.Background(), false); err != nil {
			s.logger.Warn("idle event flush", "error", err)
		}
	})
}

// flush drains the queue into the metadata store as one JSONL batch.
// Batches are serialized so persisted order matches emission order.
func (s *Service) flush(ctx context.Context, last bool) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	batch := s.queue
	s.queue = nil
	persisted := s.persisted
	path := s.metadataPath
	s.mu.Unlock()

	if !persisted {
		return nil
	}
	if len(batch) == 0 && !last {
		return nil
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	for _, event := range batch {
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("encode event batch: %w", err)
		}
	}
	if err := s.bridge.AppendMetadata(ctx, path, buf.Bytes(), last); err != nil {
		return fmt.Errorf("append event batch: %w", err)
	}
	return nil
}

func decodeEvents(data []byte) ([]Event, error) {
	var events []Event
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(text, &event); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan persisted events: %w", err)
	}
	return events, nil
}
