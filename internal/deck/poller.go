package deck

import (
	"context"
	"sync"
	"time"

	"github.com/satindergrewal/twindeck/internal/logger"
)

// Poll reports d's position to fn every interval for as long as d is
// playing. When a non-looping track reaches its end, Poll stops the deck,
// reports the final (rewound) position once and returns. It also returns as
// soon as the deck is paused or stopped by anyone else, or ctx is done, so a
// poll loop never outlives the playback it was started for.
func Poll(ctx context.Context, d *Deck, interval time.Duration, fn func(Position)) {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if d.StopIfEnded() {
			logger.Info("Track ended", logger.String("deck", d.ID()))
			fn(d.Position())
			return
		}

		pos := d.Position()
		if pos.State != Playing {
			fn(pos)
			return
		}
		fn(pos)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tracker keeps at most one Poll running per deck.
type Tracker struct {
	ctx      context.Context
	interval time.Duration

	mu      sync.Mutex
	running map[*Deck]*follow
}

type follow struct {
	cancel context.CancelFunc
}

// NewTracker creates a tracker whose polls end when ctx is done.
func NewTracker(ctx context.Context, interval time.Duration) *Tracker {
	return &Tracker{ctx: ctx, interval: interval, running: make(map[*Deck]*follow)}
}

// Follow starts polling d, cancelling any poll already following it.
func (t *Tracker) Follow(d *Deck, fn func(Position)) {
	ctx, cancel := context.WithCancel(t.ctx)
	f := &follow{cancel: cancel}
	t.mu.Lock()
	if prev, ok := t.running[d]; ok {
		prev.cancel()
	}
	t.running[d] = f
	t.mu.Unlock()

	go func() {
		Poll(ctx, d, t.interval, fn)
		t.mu.Lock()
		// a newer Follow may have replaced this poll
		if t.running[d] == f {
			delete(t.running, d)
		}
		t.mu.Unlock()
		cancel()
	}()
}

// Active reports how many decks are being polled.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.running)
}
