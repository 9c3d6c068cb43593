package track

import (
	"context"
	"fmt"
	"time"
)

// Stream is a live media stream handed out by a device. Chunks delivers
// encoded media until the stream is closed; pausing a track never closes
// its stream, it only stops draining it into a segment.
type Stream interface {
	Chunks() <-chan []byte
	Close() error
}

// Device acquires media streams for a track.
type Device interface {
	Acquire(ctx context.Context) (Stream, error)
}

// SyntheticDevice fabricates a chunked media stream on a fixed cadence. It
// stands in for webcam and microphone hardware on platforms without a
// native bridge and throughout the test suite.
type SyntheticDevice struct {
	// Interval between chunks; defaults to 100ms.
	Interval time.Duration
	// Chunk is the payload repeated on every tick.
	Chunk []byte
	// Err, when set, makes acquisition fail.
	Err error
}

// Acquire opens a ticker-driven stream.
func (d SyntheticDevice) Acquire(ctx context.Context) (Stream, error) {
	if d.Err != nil {
		return nil, fmt.Errorf("acquire synthetic stream: %w", d.Err)
	}
	if ctx != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	interval := d.Interval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	chunk := d.Chunk
	if len(chunk) == 0 {
		chunk = []byte("chunk")
	}
	s := &tickerStream{
		ch:   make(chan []byte),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.run(interval, chunk)
	return s, nil
}

type tickerStream struct {
	ch   chan []byte
	stop chan struct{}
	done chan struct{}
}

func (s *tickerStream) Chunks() <-chan []byte { return s.ch }

func (s *tickerStream) Close() error {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
	return nil
}

func (s *tickerStream) run(interval time.Duration, chunk []byte) {
	defer close(s.done)
	defer close(s.ch)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			select {
			case s.ch <- chunk:
			case <-s.stop:
				return
			}
		}
	}
}
