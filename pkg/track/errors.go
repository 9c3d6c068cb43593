package track

import "errors"

// ErrDeviceUnavailable indicates the media device could not be acquired.
var ErrDeviceUnavailable = errors.New("media device unavailable")

// ErrStorageUnavailable indicates a temporary recording file could not be
// created for the track.
var ErrStorageUnavailable = errors.New("recording storage unavailable")

// ErrNoLiveStream indicates a segment start was requested while the
// underlying media stream is not held open.
var ErrNoLiveStream = errors.New("no live media stream for track")

// ErrAlreadyStarted indicates Start was called on a pipeline that already
// ran a session.
var ErrAlreadyStarted = errors.New("capture pipeline already started")
