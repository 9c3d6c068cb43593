package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrUnknownFile indicates an append or read against a path the bridge
// never created.
var ErrUnknownFile = errors.New("recording file unknown to bridge")

// ErrFileFinalized indicates an append after finalization.
var ErrFileFinalized = errors.New("recording file already finalized")

// SyntheticOptions configure the synthetic bridge.
type SyntheticOptions struct {
	// Dir receives temporary recording and metadata files. Defaults to
	// the OS temp directory.
	Dir string
	// Clock stamps generated input events.
	Clock func() time.Time
	// Displays and Sources override the fabricated topology.
	Displays []Display
	Sources  []Source
	// GenerateInput enables the ticker-driven pointer walk between
	// StartInputCapture and StopInputCapture. Tests usually leave this
	// off and call EmitInput directly.
	GenerateInput bool
}

// Synthetic implements Bridge without any OS privileges: fabricated
// displays and sources, real files under a scratch directory, and
// optionally synthesised input events. It backs the CLI on platforms
// without a native bridge and the test suite everywhere.
type Synthetic struct {
	mu        sync.Mutex
	dir       string
	clock     func() time.Time
	displays  []Display
	sources   []Source
	generate  bool
	files     map[string]bool // path -> finalized
	metadata  map[string]bool // path -> sealed
	subs      map[int]func(InputEvent)
	nextSub   int
	capturing bool
	stopGen   chan struct{}
	genDone   chan struct{}
	overlay   bool
}

// NewSynthetic constructs a synthetic bridge with a plausible two-display
// topology unless overridden.
func NewSynthetic(opts SyntheticOptions) (*Synthetic, error) {
	dir := opts.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure bridge scratch dir: %w", err)
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	displays := opts.Displays
	if displays == nil {
		displays = []Display{
			{
				ID:          "display-1",
				Bounds:      Rect{X: 0, Y: 0, Width: 1920, Height: 1080},
				WorkArea:    Rect{X: 0, Y: 25, Width: 1920, Height: 1055},
				ScaleFactor: 2,
			},
			{
				ID:          "display-2",
				Bounds:      Rect{X: 1920, Y: 0, Width: 1440, Height: 900},
				WorkArea:    Rect{X: 1920, Y: 0, Width: 1440, Height: 900},
				ScaleFactor: 1,
			},
		}
	}
	sources := opts.Sources
	if sources == nil {
		sources = []Source{
			{ID: "screen:display-1", Name: "Display 1", Kind: SourceScreen, DisplayID: "display-1"},
			{ID: "screen:display-2", Name: "Display 2", Kind: SourceScreen, DisplayID: "display-2"},
			{ID: "window:42", Name: "Editor", Kind: SourceWindow},
		}
	}
	return &Synthetic{
		dir:      dir,
		clock:    clock,
		displays: displays,
		sources:  sources,
		generate: opts.GenerateInput,
		files:    make(map[string]bool),
		metadata: make(map[string]bool),
		subs:     make(map[int]func(InputEvent)),
	}, nil
}

// DesktopSources returns the fabricated source list.
func (s *Synthetic) DesktopSources(ctx context.Context) ([]Source, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Source, len(s.sources))
	copy(out, s.sources)
	return out, nil
}

// SourceBounds reports bounds for screens (the display bounds) and windows
// (a region on the first display).
func (s *Synthetic) SourceBounds(ctx context.Context, id string) (Rect, error) {
	if err := ctxErr(ctx); err != nil {
		return Rect{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, src := range s.sources {
		if src.ID != id {
			continue
		}
		if src.Kind == SourceScreen {
			for _, d := range s.displays {
				if d.ID == src.DisplayID {
					return d.Bounds, nil
				}
			}
			return Rect{}, fmt.Errorf("display %q for source %q not found", src.DisplayID, id)
		}
		if len(s.displays) == 0 {
			return Rect{}, errors.New("no displays attached")
		}
		d := s.displays[0].Bounds
		return Rect{X: d.X + 100, Y: d.Y + 100, Width: 800, Height: 600}, nil
	}
	return Rect{}, fmt.Errorf("source %q not found", id)
}

// Displays returns the fabricated display list.
func (s *Synthetic) Displays(ctx context.Context) ([]Display, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Display, len(s.displays))
	copy(out, s.displays)
	return out, nil
}

// CreateRecordingFile opens a fresh temp file under the scratch dir.
func (s *Synthetic) CreateRecordingFile(ctx context.Context, ext string) (string, error) {
	if err := ctxErr(ctx); err != nil {
		return "", err
	}
	file, err := os.CreateTemp(s.dir, "recording_*."+ext)
	if err != nil {
		return "", fmt.Errorf("create recording file: %w", err)
	}
	path := file.Name()
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close recording file %q: %w", path, err)
	}
	s.mu.Lock()
	s.files[path] = false
	s.mu.Unlock()
	return path, nil
}

// AppendRecording appends a chunk to an open recording file.
func (s *Synthetic) AppendRecording(ctx context.Context, path string, chunk []byte) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if err := s.checkOpen(s.files, path); err != nil {
		return err
	}
	return appendFile(path, chunk)
}

// FinalizeRecording seals a recording file.
func (s *Synthetic) FinalizeRecording(ctx context.Context, path string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[path]; !ok {
		return fmt.Errorf("finalize %q: %w", path, ErrUnknownFile)
	}
	s.files[path] = true
	return nil
}

// CreateMetadataFile opens a fresh JSONL metadata file.
func (s *Synthetic) CreateMetadataFile(ctx context.Context) (string, error) {
	if err := ctxErr(ctx); err != nil {
		return "", err
	}
	file, err := os.CreateTemp(s.dir, "events_*.jsonl")
	if err != nil {
		return "", fmt.Errorf("create metadata file: %w", err)
	}
	path := file.Name()
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close metadata file %q: %w", path, err)
	}
	s.mu.Lock()
	s.metadata[path] = false
	s.mu.Unlock()
	return path, nil
}

// AppendMetadata appends an encoded event batch; last seals the file.
func (s *Synthetic) AppendMetadata(ctx context.Context, path string, batch []byte, last bool) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if err := s.checkOpen(s.metadata, path); err != nil {
		return err
	}
	if err := appendFile(path, batch); err != nil {
		return err
	}
	if last {
		s.mu.Lock()
		s.metadata[path] = true
		s.mu.Unlock()
	}
	return nil
}

// ReadMetadata returns the persisted metadata contents.
func (s *Synthetic) ReadMetadata(ctx context.Context, path string) ([]byte, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	_, ok := s.metadata[path]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("read %q: %w", path, ErrUnknownFile)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata %q: %w", filepath.Base(path), err)
	}
	return data, nil
}

// SubscribeInput registers an input callback.
func (s *Synthetic) SubscribeInput(fn func(InputEvent)) (func(), error) {
	if fn == nil {
		return nil, errors.New("input callback must not be nil")
	}
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}, nil
}

// StartInputCapture begins event delivery; with GenerateInput enabled a
// pointer walk across the primary display is synthesised at the sampling
// interval.
func (s *Synthetic) StartInputCapture(ctx context.Context, samplingInterval time.Duration) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if samplingInterval <= 0 {
		samplingInterval = 16 * time.Millisecond
	}
	s.mu.Lock()
	if s.capturing {
		s.mu.Unlock()
		return nil
	}
	s.capturing = true
	generate := s.generate
	var bounds Rect
	if len(s.displays) > 0 {
		bounds = s.displays[0].Bounds
	}
	if generate {
		s.stopGen = make(chan struct{})
		s.genDone = make(chan struct{})
	}
	stop := s.stopGen
	done := s.genDone
	s.mu.Unlock()

	if generate {
		go s.walkPointer(bounds, samplingInterval, stop, done)
	}
	return nil
}

// StopInputCapture halts event delivery.
func (s *Synthetic) StopInputCapture(ctx context.Context) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.capturing {
		s.mu.Unlock()
		return nil
	}
	s.capturing = false
	stop := s.stopGen
	done := s.genDone
	s.stopGen = nil
	s.genDone = nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}

// EmitInput delivers an event to all subscribers while capture is active.
// Tests drive the bridge through this entry point.
func (s *Synthetic) EmitInput(ev InputEvent) {
	s.mu.Lock()
	if !s.capturing {
		s.mu.Unlock()
		return
	}
	if ev.At.IsZero() {
		ev.At = s.clock()
	}
	fns := make([]func(InputEvent), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// ShowRecordingOverlay marks the indicator visible.
func (s *Synthetic) ShowRecordingOverlay(bounds Rect, label string, opts OverlayOptions) error {
	s.mu.Lock()
	s.overlay = true
	s.mu.Unlock()
	return nil
}

// HideRecordingOverlay marks the indicator hidden.
func (s *Synthetic) HideRecordingOverlay() error {
	s.mu.Lock()
	s.overlay = false
	s.mu.Unlock()
	return nil
}

// OverlayVisible reports indicator state for assertions.
func (s *Synthetic) OverlayVisible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlay
}

func (s *Synthetic) walkPointer(bounds Rect, interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	step := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			x := bounds.X + float64(step%int(maxf(bounds.Width, 1)))
			y := bounds.Y + bounds.Height/2
			s.EmitInput(InputEvent{Kind: InputMouseMove, X: x, Y: y, At: s.clock()})
			if step > 0 && step%60 == 0 {
				s.EmitInput(InputEvent{Kind: InputClick, X: x, Y: y, Button: "left", At: s.clock()})
			}
			step++
		}
	}
}

func (s *Synthetic) checkOpen(table map[string]bool, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	finalized, ok := table[path]
	if !ok {
		return fmt.Errorf("append %q: %w", path, ErrUnknownFile)
	}
	if finalized {
		return fmt.Errorf("append %q: %w", path, ErrFileFinalized)
	}
	return nil
}

func appendFile(path string, data []byte) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %q for append: %w", filepath.Base(path), err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("append to %q: %w", filepath.Base(path), err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close %q: %w", filepath.Base(path), err)
	}
	return nil
}

func ctxErr(ctx context.Context) error {
	if ctx != nil {
		return ctx.Err()
	}
	return nil
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
