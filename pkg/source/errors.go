package source

import "errors"

// ErrNoSourceAvailable indicates the platform exposed zero capturable sources.
var ErrNoSourceAvailable = errors.New("no capturable sources available")

// ErrSourceNotFound indicates the requested source matched nothing, even
// after the fallback ladder was exhausted.
var ErrSourceNotFound = errors.New("requested capture source not found")
