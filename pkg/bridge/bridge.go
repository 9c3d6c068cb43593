// Package bridge defines the privileged platform interface the capture
// engine consumes: source and display enumeration, temporary recording
// files, event metadata persistence, global input-event delivery, and the
// recording-indicator overlay. A synthetic implementation backs tests and
// non-privileged platforms.
package bridge

import (
	"context"
	"time"
)

// Rect is an axis-aligned rectangle in the coordinate space noted by its
// producer (logical display points unless stated otherwise).
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Contains reports whether the point lies inside the rectangle.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height
}

// Center returns the rectangle's midpoint.
func (r Rect) Center() (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// SourceKind classifies a capturable desktop source.
type SourceKind string

const (
	SourceScreen SourceKind = "screen"
	SourceWindow SourceKind = "window"
)

// Source describes one capturable screen or window.
type Source struct {
	ID        string
	Name      string
	Kind      SourceKind
	DisplayID string
}

// Display describes one attached display.
type Display struct {
	ID          string
	Bounds      Rect
	WorkArea    Rect
	ScaleFactor float64
}

// InputKind labels a delivered input event.
type InputKind string

const (
	InputMouseMove InputKind = "mouse"
	InputClick     InputKind = "click"
	InputScroll    InputKind = "scroll"
	InputKeyPress  InputKind = "keypress"
)

// InputEvent is a raw global input sample in absolute screen coordinates.
type InputEvent struct {
	Kind    InputKind
	X       float64
	Y       float64
	Button  string
	Key     string
	ScrollX float64
	ScrollY float64
	At      time.Time
}

// OverlayOptions tune the recording-indicator overlay.
type OverlayOptions struct {
	ShowCountdown bool
}

// Bridge is the platform contract consumed by the capture engine. All
// methods may suspend the caller; implementations must be safe for
// concurrent use.
type Bridge interface {
	// DesktopSources enumerates capturable screens and windows.
	DesktopSources(ctx context.Context) ([]Source, error)
	// SourceBounds reports the bounds of a source. Window bounds are not
	// guaranteed to share an interpretation (logical vs physical pixels)
	// across platforms; callers must cross-reference display metadata.
	SourceBounds(ctx context.Context, id string) (Rect, error)
	// Displays enumerates attached displays with their scale factors.
	Displays(ctx context.Context) ([]Display, error)

	// CreateRecordingFile opens a new temporary recording file and
	// returns its path.
	CreateRecordingFile(ctx context.Context, ext string) (string, error)
	// AppendRecording appends an encoded chunk to an open recording file.
	AppendRecording(ctx context.Context, path string, chunk []byte) error
	// FinalizeRecording seals a recording file; no further appends.
	FinalizeRecording(ctx context.Context, path string) error

	// CreateMetadataFile opens a new event metadata file.
	CreateMetadataFile(ctx context.Context) (string, error)
	// AppendMetadata appends an encoded batch of events. The last batch
	// must be flagged so the store can seal the file.
	AppendMetadata(ctx context.Context, path string, batch []byte, last bool) error
	// ReadMetadata returns the complete persisted metadata contents.
	ReadMetadata(ctx context.Context, path string) ([]byte, error)

	// SubscribeInput registers a callback for global input events and
	// returns its unsubscribe func. Events flow only between
	// StartInputCapture and StopInputCapture.
	SubscribeInput(fn func(InputEvent)) (func(), error)
	// StartInputCapture begins global event delivery at the requested
	// sampling interval for pointer-move events.
	StartInputCapture(ctx context.Context, samplingInterval time.Duration) error
	// StopInputCapture halts global event delivery.
	StopInputCapture(ctx context.Context) error

	// ShowRecordingOverlay displays the recording indicator. Best effort:
	// failures are reported but must never abort a recording.
	ShowRecordingOverlay(bounds Rect, label string, opts OverlayOptions) error
	// HideRecordingOverlay removes the recording indicator.
	HideRecordingOverlay() error
}
