package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/offlinefirst/screenloop/pkg/bridge"
	"github.com/offlinefirst/screenloop/pkg/source"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func fullScreenCapture() source.Capture {
	return source.Capture{
		ID:          "screen:display-1",
		Kind:        source.KindScreen,
		Bounds:      bridge.Rect{X: 0, Y: 0, Width: 1920, Height: 1080},
		ScaleFactor: 1,
		Width:       1920,
		Height:      1080,
	}
}

func newTestService(t *testing.T, clock *fakeClock, opts Options) (*Service, *bridge.Synthetic) {
	t.Helper()
	platform, err := bridge.NewSynthetic(bridge.SyntheticOptions{Dir: t.TempDir(), Clock: clock.Now})
	if err != nil {
		t.Fatalf("build synthetic bridge: %v", err)
	}
	if opts.Bridge == nil {
		opts.Bridge = platform
	}
	opts.Clock = clock.Now
	svc, err := NewService(opts)
	if err != nil {
		t.Fatalf("build tracking service: %v", err)
	}
	return svc, platform
}

func TestServiceTimestampsAreStrictlyMonotonic(t *testing.T) {
	clock := newFakeClock()
	svc, platform := newTestService(t, clock, Options{})

	if err := svc.Start(context.Background(), fullScreenCapture(), clock.Now()); err != nil {
		t.Fatalf("start tracking: %v", err)
	}

	// A frozen clock reports the same instant for every event; the
	// recorded timestamps must still strictly increase.
	for i := 0; i < 3; i++ {
		platform.EmitInput(bridge.InputEvent{Kind: bridge.InputMouseMove, X: 10, Y: 10})
	}

	events, err := svc.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop tracking: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, want := range []int64{0, 1, 2} {
		if events[i].TimestampMs != want {
			t.Fatalf("event %d: expected timestamp %d, got %d", i, want, events[i].TimestampMs)
		}
	}
}

func TestServiceNormalizesCoordinates(t *testing.T) {
	clock := newFakeClock()
	svc, platform := newTestService(t, clock, Options{})

	capture := source.Capture{
		ID:          "window:42",
		Kind:        source.KindWindow,
		Bounds:      bridge.Rect{X: 100, Y: 100, Width: 800, Height: 600},
		ScaleFactor: 2,
		Width:       1600,
		Height:      1200,
	}
	if err := svc.Start(context.Background(), capture, clock.Now()); err != nil {
		t.Fatalf("start tracking: %v", err)
	}

	platform.EmitInput(bridge.InputEvent{Kind: bridge.InputMouseMove, X: 101, Y: 102})
	platform.EmitInput(bridge.InputEvent{Kind: bridge.InputMouseMove, X: 50, Y: 50})    // left of the capture
	platform.EmitInput(bridge.InputEvent{Kind: bridge.InputMouseMove, X: 900, Y: 700})  // exactly on the far edge
	platform.EmitInput(bridge.InputEvent{Kind: bridge.InputScroll, X: 500, Y: 400, ScrollX: 1.5, ScrollY: -3})
	platform.EmitInput(bridge.InputEvent{Kind: bridge.InputKeyPress, Key: "a", X: -9999, Y: -9999})

	events, err := svc.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop tracking: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 surviving events, got %d: %+v", len(events), events)
	}

	move := events[0]
	if move.X != 2 || move.Y != 4 {
		t.Fatalf("expected scaled move (2,4), got (%v,%v)", move.X, move.Y)
	}

	scroll := events[1]
	if scroll.Kind != string(bridge.InputScroll) {
		t.Fatalf("expected scroll event, got %q", scroll.Kind)
	}
	if scroll.ScrollX != 3 || scroll.ScrollY != -6 {
		t.Fatalf("expected scaled scroll deltas (3,-6), got (%v,%v)", scroll.ScrollX, scroll.ScrollY)
	}

	key := events[2]
	if key.Kind != string(bridge.InputKeyPress) || key.Key != "a" {
		t.Fatalf("expected keypress to survive untouched, got %+v", key)
	}
	if key.X != 0 || key.Y != 0 {
		t.Fatalf("keypress must carry no coordinates, got (%v,%v)", key.X, key.Y)
	}
}

func TestServicePauseExcludesSpanFromTimestamps(t *testing.T) {
	clock := newFakeClock()
	svc, platform := newTestService(t, clock, Options{})

	if err := svc.Start(context.Background(), fullScreenCapture(), clock.Now()); err != nil {
		t.Fatalf("start tracking: %v", err)
	}

	clock.Advance(200 * time.Millisecond)
	platform.EmitInput(bridge.InputEvent{Kind: bridge.InputMouseMove, X: 5, Y: 5})

	svc.Pause()
	clock.Advance(1000 * time.Millisecond)
	// Events during a pause are dropped entirely.
	platform.EmitInput(bridge.InputEvent{Kind: bridge.InputMouseMove, X: 6, Y: 6})
	svc.Resume()

	clock.Advance(300 * time.Millisecond)
	platform.EmitInput(bridge.InputEvent{Kind: bridge.InputClick, X: 7, Y: 7, Button: "left"})

	events, err := svc.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop tracking: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].TimestampMs != 200 {
		t.Fatalf("expected first timestamp 200ms, got %d", events[0].TimestampMs)
	}
	// 1500ms of wall time minus the 1000ms paused span.
	if events[1].TimestampMs != 500 {
		t.Fatalf("expected second timestamp 500ms, got %d", events[1].TimestampMs)
	}
}

type countingBridge struct {
	*bridge.Synthetic
	mu      sync.Mutex
	appends int
}

func (b *countingBridge) AppendMetadata(ctx context.Context, path string, batch []byte, last bool) error {
	b.mu.Lock()
	b.appends++
	b.mu.Unlock()
	return b.Synthetic.AppendMetadata(ctx, path, batch, last)
}

func (b *countingBridge) Appends() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.appends
}

func TestServiceFlushesWhenBatchFills(t *testing.T) {
	clock := newFakeClock()
	platform, err := bridge.NewSynthetic(bridge.SyntheticOptions{Dir: t.TempDir(), Clock: clock.Now})
	if err != nil {
		t.Fatalf("build synthetic bridge: %v", err)
	}
	counting := &countingBridge{Synthetic: platform}
	svc, err := NewService(Options{Bridge: counting, Clock: clock.Now, BatchSize: 2, FlushInterval: time.Hour})
	if err != nil {
		t.Fatalf("build tracking service: %v", err)
	}

	if err := svc.Start(context.Background(), fullScreenCapture(), clock.Now()); err != nil {
		t.Fatalf("start tracking: %v", err)
	}

	platform.EmitInput(bridge.InputEvent{Kind: bridge.InputMouseMove, X: 1, Y: 1})
	if got := counting.Appends(); got != 0 {
		t.Fatalf("expected no flush below the batch threshold, got %d", got)
	}
	platform.EmitInput(bridge.InputEvent{Kind: bridge.InputMouseMove, X: 2, Y: 2})
	if got := counting.Appends(); got != 1 {
		t.Fatalf("expected one flush at the batch threshold, got %d", got)
	}

	events, err := svc.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop tracking: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 persisted events, got %d", len(events))
	}
}

func TestServiceIdleTimerFlushes(t *testing.T) {
	clock := newFakeClock()
	platform, err := bridge.NewSynthetic(bridge.SyntheticOptions{Dir: t.TempDir(), Clock: clock.Now})
	if err != nil {
		t.Fatalf("build synthetic bridge: %v", err)
	}
	counting := &countingBridge{Synthetic: platform}
	svc, err := NewService(Options{Bridge: counting, Clock: clock.Now, BatchSize: 100, FlushInterval: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("build tracking service: %v", err)
	}

	if err := svc.Start(context.Background(), fullScreenCapture(), clock.Now()); err != nil {
		t.Fatalf("start tracking: %v", err)
	}
	platform.EmitInput(bridge.InputEvent{Kind: bridge.InputMouseMove, X: 1, Y: 1})

	deadline := time.After(2 * time.Second)
	for counting.Appends() == 0 {
		select {
		case <-deadline:
			t.Fatalf("idle timer never flushed the pending batch")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if _, err := svc.Stop(context.Background()); err != nil {
		t.Fatalf("stop tracking: %v", err)
	}
}

type failingMetadataBridge struct {
	*bridge.Synthetic
}

func (b *failingMetadataBridge) CreateMetadataFile(ctx context.Context) (string, error) {
	return "", errors.New("metadata store offline")
}

func TestServiceDegradesWhenMetadataStoreFails(t *testing.T) {
	clock := newFakeClock()
	platform, err := bridge.NewSynthetic(bridge.SyntheticOptions{Dir: t.TempDir(), Clock: clock.Now})
	if err != nil {
		t.Fatalf("build synthetic bridge: %v", err)
	}
	svc, err := NewService(Options{Bridge: &failingMetadataBridge{platform}, Clock: clock.Now})
	if err != nil {
		t.Fatalf("build tracking service: %v", err)
	}

	if err := svc.Start(context.Background(), fullScreenCapture(), clock.Now()); err != nil {
		t.Fatalf("start must degrade, not fail: %v", err)
	}

	platform.EmitInput(bridge.InputEvent{Kind: bridge.InputClick, X: 3, Y: 3, Button: "right"})

	events, err := svc.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop tracking: %v", err)
	}
	if len(events) != 1 || events[0].Button != "right" {
		t.Fatalf("expected the in-memory event to survive, got %+v", events)
	}
}

func TestServiceStopWithoutStart(t *testing.T) {
	clock := newFakeClock()
	svc, _ := newTestService(t, clock, Options{})
	if _, err := svc.Stop(context.Background()); err == nil {
		t.Fatalf("expected stop without start to fail")
	}
}
