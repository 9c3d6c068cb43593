// Package source resolves a user-selected recording target into concrete
// capture geometry: global bounds, pixel-density scale factor, and a
// screen/window/area classification. Resolution applies a documented
// fallback ladder so a stale or partial source id still lands on a usable
// capture target.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/offlinefirst/screenloop/pkg/bridge"
)

// Kind classifies a resolved capture target.
type Kind string

const (
	KindScreen Kind = "screen"
	KindWindow Kind = "window"
	KindArea   Kind = "area"
)

// Capture is the immutable geometry of one recording session's target.
type Capture struct {
	ID          string      `json:"id"`
	Kind        Kind        `json:"kind"`
	Bounds      bridge.Rect `json:"bounds"`
	WorkArea    bridge.Rect `json:"work_area"`
	ScaleFactor float64     `json:"scale_factor"`
	// Width and Height are the physical capture dimensions:
	// round(bounds * scaleFactor).
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Request names the target to resolve. Area, when set, is a sub-region
// expressed relative to the matched source's display origin.
type Request struct {
	SourceID string
	Area     *bridge.Rect
}

// Options configure a Resolver.
type Options struct {
	Bridge bridge.Bridge
	Logger *slog.Logger
}

// Resolver turns source requests into capture geometry.
type Resolver struct {
	bridge bridge.Bridge
	logger *slog.Logger
}

// NewResolver validates options and constructs a resolver.
func NewResolver(opts Options) (*Resolver, error) {
	if opts.Bridge == nil {
		return nil, errors.New("bridge must be provided")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{bridge: opts.Bridge, logger: logger}, nil
}

// Resolve matches the request against the platform's sources, applying the
// fallback ladder: exact id, id-prefix match for sub-window ids, the
// requested display's screen source for area selections, then the first
// available screen.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Capture, error) {
	sources, err := r.bridge.DesktopSources(ctx)
	if err != nil {
		return Capture{}, fmt.Errorf("enumerate sources: %w", err)
	}
	if len(sources) == 0 {
		return Capture{}, ErrNoSourceAvailable
	}

	matched, rung, err := matchSource(sources, req)
	if err != nil {
		return Capture{}, err
	}
	if rung != "exact" {
		r.logger.Warn("capture source resolved via fallback",
			"requested", req.SourceID, "matched", matched.ID, "rung", rung)
	}

	bounds, err := r.bridge.SourceBounds(ctx, matched.ID)
	if err != nil {
		return Capture{}, fmt.Errorf("fetch bounds for %q: %w", matched.ID, err)
	}

	displays, err := r.bridge.Displays(ctx)
	if err != nil {
		return Capture{}, fmt.Errorf("enumerate displays: %w", err)
	}

	display, scale := resolveScale(matched, bounds, displays)
	if scale <= 0 {
		scale = 1
	}

	capture := Capture{
		ID:          matched.ID,
		Kind:        kindOf(matched),
		Bounds:      bounds,
		ScaleFactor: scale,
	}
	if display != nil {
		capture.WorkArea = display.WorkArea
	}

	if req.Area != nil {
		if display == nil && len(displays) > 0 {
			display = &displays[0]
		}
		origin := bridge.Rect{}
		if display != nil {
			origin = display.Bounds
		}
		capture.Kind = KindArea
		capture.Bounds = bridge.Rect{
			X:      origin.X + req.Area.X,
			Y:      origin.Y + req.Area.Y,
			Width:  req.Area.Width,
			Height: req.Area.Height,
		}
	}

	capture.Width = int(math.Round(capture.Bounds.Width * scale))
	capture.Height = int(math.Round(capture.Bounds.Height * scale))
	if capture.Width <= 0 || capture.Height <= 0 {
		return Capture{}, fmt.Errorf("resolved capture for %q has empty dimensions", matched.ID)
	}
	return capture, nil
}

// matchSource walks the fallback ladder and reports which rung matched.
func matchSource(sources []bridge.Source, req Request) (bridge.Source, string, error) {
	id := strings.TrimSpace(req.SourceID)

	if id != "" {
		for _, src := range sources {
			if src.ID == id {
				return src, "exact", nil
			}
		}
		// Sub-window ids extend their parent window's id, so a prefix
		// relationship in either direction identifies the same surface.
		for _, src := range sources {
			if strings.HasPrefix(id, src.ID) || strings.HasPrefix(src.ID, id) {
				return src, "prefix", nil
			}
		}
	}

	if req.Area != nil {
		// Area selections encode a display; prefer that display's screen.
		for _, src := range sources {
			if src.Kind == bridge.SourceScreen && src.DisplayID != "" && strings.Contains(id, src.DisplayID) {
				return src, "area-display", nil
			}
		}
		for _, src := range sources {
			if src.Kind == bridge.SourceScreen {
				return src, "area-first-screen", nil
			}
		}
	}

	for _, src := range sources {
		if src.Kind == bridge.SourceScreen {
			return src, "first-screen", nil
		}
	}
	return bridge.Source{}, "", fmt.Errorf("%w: %q", ErrSourceNotFound, req.SourceID)
}

func kindOf(src bridge.Source) Kind {
	if src.Kind == bridge.SourceWindow {
		return KindWindow
	}
	return KindScreen
}

// scaleStrategy attempts one interpretation of a window's bounds against
// the display list. Strategies are tried in order; the DIP interpretation
// is deliberately first because the physical interpretation is only a
// fallback when no display contains the logical center point.
type scaleStrategy func(bounds bridge.Rect, displays []bridge.Display) (*bridge.Display, float64, bool)

var windowScaleStrategies = []scaleStrategy{
	scaleFromLogicalBounds,
	scaleFromPhysicalBounds,
	scaleFromFirstDisplay,
}

// resolveScale determines the scale factor for a matched source. Screen
// sources use their display's reported factor directly; window sources run
// the two-pass heuristic because platform window-bounds APIs do not
// guarantee a logical-vs-physical interpretation.
func resolveScale(src bridge.Source, bounds bridge.Rect, displays []bridge.Display) (*bridge.Display, float64) {
	if src.Kind == bridge.SourceScreen {
		for i := range displays {
			if displays[i].ID == src.DisplayID {
				return &displays[i], displays[i].ScaleFactor
			}
		}
	}
	for _, strategy := range windowScaleStrategies {
		if display, scale, ok := strategy(bounds, displays); ok {
			return display, scale
		}
	}
	return nil, 1
}

// scaleFromLogicalBounds treats the bounds as device-independent pixels.
func scaleFromLogicalBounds(bounds bridge.Rect, displays []bridge.Display) (*bridge.Display, float64, bool) {
	cx, cy := bounds.Center()
	for i := range displays {
		if displays[i].Bounds.Contains(cx, cy) {
			return &displays[i], displays[i].ScaleFactor, true
		}
	}
	return nil, 0, false
}

// scaleFromPhysicalBounds treats the bounds as physical pixels and scales
// each display's bounds up before testing containment.
func scaleFromPhysicalBounds(bounds bridge.Rect, displays []bridge.Display) (*bridge.Display, float64, bool) {
	cx, cy := bounds.Center()
	for i := range displays {
		factor := displays[i].ScaleFactor
		if factor <= 0 {
			continue
		}
		physical := bridge.Rect{
			X:      displays[i].Bounds.X * factor,
			Y:      displays[i].Bounds.Y * factor,
			Width:  displays[i].Bounds.Width * factor,
			Height: displays[i].Bounds.Height * factor,
		}
		if physical.Contains(cx, cy) {
			return &displays[i], factor, true
		}
	}
	return nil, 0, false
}

func scaleFromFirstDisplay(_ bridge.Rect, displays []bridge.Display) (*bridge.Display, float64, bool) {
	if len(displays) == 0 {
		return nil, 0, false
	}
	return &displays[0], displays[0].ScaleFactor, true
}
