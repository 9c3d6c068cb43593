package source

import (
	"context"
	"errors"
	"testing"

	"github.com/offlinefirst/screenloop/pkg/bridge"
)

func newTestResolver(t *testing.T, opts bridge.SyntheticOptions) *Resolver {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	platform, err := bridge.NewSynthetic(opts)
	if err != nil {
		t.Fatalf("build synthetic bridge: %v", err)
	}
	resolver, err := NewResolver(Options{Bridge: platform})
	if err != nil {
		t.Fatalf("build resolver: %v", err)
	}
	return resolver
}

func TestResolveExactScreen(t *testing.T) {
	resolver := newTestResolver(t, bridge.SyntheticOptions{})

	capture, err := resolver.Resolve(context.Background(), Request{SourceID: "screen:display-1"})
	if err != nil {
		t.Fatalf("resolve screen: %v", err)
	}
	if capture.Kind != KindScreen {
		t.Fatalf("expected screen kind, got %q", capture.Kind)
	}
	if capture.Bounds != (bridge.Rect{X: 0, Y: 0, Width: 1920, Height: 1080}) {
		t.Fatalf("unexpected bounds %+v", capture.Bounds)
	}
	if capture.ScaleFactor != 2 {
		t.Fatalf("expected scale factor 2, got %v", capture.ScaleFactor)
	}
	if capture.Width != 3840 || capture.Height != 2160 {
		t.Fatalf("expected physical 3840x2160, got %dx%d", capture.Width, capture.Height)
	}
	if capture.WorkArea.Height != 1055 {
		t.Fatalf("expected work area carried through, got %+v", capture.WorkArea)
	}
}

func TestResolvePrefixMatchesSubWindow(t *testing.T) {
	resolver := newTestResolver(t, bridge.SyntheticOptions{})

	capture, err := resolver.Resolve(context.Background(), Request{SourceID: "window:42:0"})
	if err != nil {
		t.Fatalf("resolve sub-window id: %v", err)
	}
	if capture.ID != "window:42" {
		t.Fatalf("expected parent window match, got %q", capture.ID)
	}
	if capture.Kind != KindWindow {
		t.Fatalf("expected window kind, got %q", capture.Kind)
	}
}

func TestResolveWindowScaleFromLogicalBounds(t *testing.T) {
	resolver := newTestResolver(t, bridge.SyntheticOptions{})

	// The synthetic window sits at (100,100) 800x600; its center lies on
	// display-1, whose scale factor is 2.
	capture, err := resolver.Resolve(context.Background(), Request{SourceID: "window:42"})
	if err != nil {
		t.Fatalf("resolve window: %v", err)
	}
	if capture.ScaleFactor != 2 {
		t.Fatalf("expected scale factor 2, got %v", capture.ScaleFactor)
	}
	if capture.Width != 1600 || capture.Height != 1200 {
		t.Fatalf("expected physical 1600x1200, got %dx%d", capture.Width, capture.Height)
	}
}

func TestResolveWindowScaleFromPhysicalBounds(t *testing.T) {
	// A small high-density display: the window's center (500,400) falls
	// outside the logical bounds but inside the scale-multiplied ones.
	resolver := newTestResolver(t, bridge.SyntheticOptions{
		Displays: []bridge.Display{
			{
				ID:          "display-1",
				Bounds:      bridge.Rect{X: 0, Y: 0, Width: 500, Height: 400},
				WorkArea:    bridge.Rect{X: 0, Y: 0, Width: 500, Height: 400},
				ScaleFactor: 2,
			},
		},
		Sources: []bridge.Source{
			{ID: "screen:display-1", Name: "Display 1", Kind: bridge.SourceScreen, DisplayID: "display-1"},
			{ID: "window:42", Name: "Editor", Kind: bridge.SourceWindow},
		},
	})

	capture, err := resolver.Resolve(context.Background(), Request{SourceID: "window:42"})
	if err != nil {
		t.Fatalf("resolve window: %v", err)
	}
	if capture.ScaleFactor != 2 {
		t.Fatalf("expected physical-pass scale factor 2, got %v", capture.ScaleFactor)
	}
}

func TestResolveAreaTranslatesToDisplayOrigin(t *testing.T) {
	resolver := newTestResolver(t, bridge.SyntheticOptions{})

	area := bridge.Rect{X: 10, Y: 20, Width: 300, Height: 200}
	capture, err := resolver.Resolve(context.Background(), Request{SourceID: "screen:display-2", Area: &area})
	if err != nil {
		t.Fatalf("resolve area: %v", err)
	}
	if capture.Kind != KindArea {
		t.Fatalf("expected area kind, got %q", capture.Kind)
	}
	// display-2 sits at global x=1920 with scale factor 1.
	want := bridge.Rect{X: 1930, Y: 20, Width: 300, Height: 200}
	if capture.Bounds != want {
		t.Fatalf("expected translated bounds %+v, got %+v", want, capture.Bounds)
	}
	if capture.Width != 300 || capture.Height != 200 {
		t.Fatalf("expected 300x200, got %dx%d", capture.Width, capture.Height)
	}
}

func TestResolveFallsBackToFirstScreen(t *testing.T) {
	resolver := newTestResolver(t, bridge.SyntheticOptions{})

	capture, err := resolver.Resolve(context.Background(), Request{SourceID: "window:gone"})
	if err != nil {
		t.Fatalf("resolve stale id: %v", err)
	}
	if capture.ID != "screen:display-1" {
		t.Fatalf("expected first screen fallback, got %q", capture.ID)
	}
}

func TestResolveNoSources(t *testing.T) {
	resolver := newTestResolver(t, bridge.SyntheticOptions{Sources: []bridge.Source{}})

	_, err := resolver.Resolve(context.Background(), Request{SourceID: "screen:display-1"})
	if !errors.Is(err, ErrNoSourceAvailable) {
		t.Fatalf("expected ErrNoSourceAvailable, got %v", err)
	}
}

func TestResolveNoScreenMatches(t *testing.T) {
	resolver := newTestResolver(t, bridge.SyntheticOptions{
		Sources: []bridge.Source{
			{ID: "window:7", Name: "Terminal", Kind: bridge.SourceWindow},
		},
	})

	_, err := resolver.Resolve(context.Background(), Request{SourceID: "screen:display-9"})
	if !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("expected ErrSourceNotFound, got %v", err)
	}
}
