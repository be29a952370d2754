// Package stream carries the mixed master output to monitors: an MP3 stream
// over HTTP, Opus over WebRTC, and deck position events over WebSocket.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// tapBuffer holds ~3 seconds of 20ms frames.
const tapBuffer = 150

// Fanout copies master frames from one source to any number of taps.
type Fanout struct {
	mu   sync.RWMutex
	taps map[*Tap]struct{}

	frames atomic.Int64
}

// Tap receives master frames from a Fanout.
type Tap struct {
	C    chan []int16
	done chan struct{}

	dropped atomic.Int64
}

// Done is closed when the tap is removed.
func (t *Tap) Done() <-chan struct{} { return t.done }

// Dropped counts frames skipped because C was full.
func (t *Tap) Dropped() int64 { return t.dropped.Load() }

func NewFanout() *Fanout {
	return &Fanout{taps: make(map[*Tap]struct{})}
}

// Attach registers a new tap.
func (f *Fanout) Attach() *Tap {
	t := &Tap{
		C:    make(chan []int16, tapBuffer),
		done: make(chan struct{}),
	}
	f.mu.Lock()
	f.taps[t] = struct{}{}
	f.mu.Unlock()
	return t
}

// Detach removes t and closes its Done channel. Detaching twice is a no-op.
func (f *Fanout) Detach(t *Tap) {
	f.mu.Lock()
	_, ok := f.taps[t]
	delete(f.taps, t)
	f.mu.Unlock()
	if ok {
		close(t.done)
	}
}

// TapCount returns the number of attached taps.
func (f *Fanout) TapCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.taps)
}

// Frames returns how many frames have been dispatched to the taps.
func (f *Fanout) Frames() int64 { return f.frames.Load() }

// Run copies every frame from source to each tap until ctx is done or source
// closes. A full tap loses the frame instead of stalling the others.
func (f *Fanout) Run(ctx context.Context, source <-chan []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			f.mu.RLock()
			for t := range f.taps {
				select {
				case t.C <- frame:
				default:
					t.dropped.Add(1)
				}
			}
			f.mu.RUnlock()
			f.frames.Add(1)
		}
	}
}
