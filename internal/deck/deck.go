// Package deck implements the per-deck playback state machine. Position is
// never read back from the output graph; it is derived from transport clock
// deltas across play, pause, resume and loop transitions.
package deck

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/satindergrewal/twindeck/internal/audio"
	"github.com/satindergrewal/twindeck/internal/clock"
	"github.com/satindergrewal/twindeck/internal/logger"
)

// ErrSuperseded is returned by Load when a newer load on the same deck
// started before this one finished. The stale result is discarded.
var ErrSuperseded = errors.New("load superseded by a newer request")

// State is the playback state of a deck.
type State int

const (
	Stopped State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Output is the deck's lane into the audio output graph. The deck only ever
// writes to it.
type Output interface {
	Start(t *audio.Track, offset float64, looping bool)
	Stop()
	SetLooping(looping bool)
	SetGain(g float64)
}

// Decoder turns raw file bytes into a track.
type Decoder interface {
	Decode(ctx context.Context, name string, raw []byte) (*audio.Track, error)
}

type nopOutput struct{}

func (nopOutput) Start(*audio.Track, float64, bool) {}
func (nopOutput) Stop() {}
func (nopOutput) SetLooping(bool) {}
func (nopOutput) SetGain(float64) {}

// Deck is one playback lane. All methods are safe for concurrent use; each
// mutation is applied atomically with respect to the others.
type Deck struct {
	id    string
	clock clock.Clock
	out   Output
	dec   Decoder

	mu           sync.Mutex
	track        *audio.Track
	state        State
	anchor       float64 // clock reading at elapsed 0; valid only while Playing
	pausedOffset float64 // resume position; valid only while Stopped or Paused
	looping      bool
	volume       float64
	xfGain       float64
	loadSeq      uint64
}

// New creates a stopped, empty deck. out and dec may be nil.
func New(id string, c clock.Clock, out Output, dec Decoder) *Deck {
	if out == nil {
		out = nopOutput{}
	}
	d := &Deck{
		id:     id,
		clock:  c,
		out:    out,
		dec:    dec,
		volume: 1,
		xfGain: 1,
	}
	out.SetGain(d.volume * d.xfGain)
	return d
}

func (d *Deck) ID() string { return d.id }

// Load decodes raw and, on success, loads the result as LoadTrack does. On
// failure the deck is left exactly as it was and a *audio.DecodeError is
// returned. If another load starts before this one finishes, this one
// returns ErrSuperseded and changes nothing.
func (d *Deck) Load(ctx context.Context, name string, raw []byte) (*audio.Track, error) {
	d.mu.Lock()
	d.loadSeq++
	seq := d.loadSeq
	d.mu.Unlock()

	reqID := uuid.NewString()
	logger.Debug("Decoding track", logger.String("deck", d.id), logger.String("file", name), logger.String("request", reqID))

	var (
		t   *audio.Track
		err error
	)
	if d.dec == nil {
		err = &audio.DecodeError{Name: name, Reason: "no decoder configured"}
	} else {
		t, err = d.dec.Decode(ctx, name, raw)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if seq != d.loadSeq {
		logger.Debug("Discarding stale load", logger.String("deck", d.id), logger.String("request", reqID))
		return nil, ErrSuperseded
	}
	if err != nil {
		var de *audio.DecodeError
		if !errors.As(err, &de) {
			de = &audio.DecodeError{Name: name, Reason: err.Error(), Err: err}
		}
		logger.Warn("Decode failed", logger.String("deck", d.id), logger.ErrorField(de))
		return nil, de
	}
	if t == nil {
		return nil, &audio.DecodeError{Name: name, Reason: "decoder returned no track"}
	}

	d.loadLocked(t)
	logger.Info(fmt.Sprintf("Loaded %.1fs", t.Duration), logger.String("deck", d.id), logger.String("track", t.Name))
	return t, nil
}

// LoadTrack replaces the deck's track, discarding any in-flight playback and
// rewinding to 0. It also supersedes any Load still decoding.
func (d *Deck) LoadTrack(t *audio.Track) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loadSeq++
	d.loadLocked(t)
}

func (d *Deck) loadLocked(t *audio.Track) {
	d.stopLocked()
	d.track = t
}

// Play starts or resumes playback and reports whether it did. It is a no-op
// when already playing or when no playable track is loaded.
func (d *Deck) Play() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Playing || !d.playableLocked() {
		return false
	}
	now := d.clock.Now()
	offset := math.Mod(d.pausedOffset, d.track.Duration)
	if offset < 0 {
		offset = 0
	}
	d.anchor = now - offset
	d.state = Playing
	d.out.Start(d.track, offset, d.looping)
	return true
}

// Pause freezes the position. No-op unless playing.
func (d *Deck) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Playing {
		return
	}
	d.pausedOffset = d.elapsedLocked(d.clock.Now())
	d.state = Paused
	d.out.Stop()
}

// Stop halts playback and rewinds to 0, from any state.
func (d *Deck) Stop() {
	d.mu.Lock()
	d.stopLocked()
	d.mu.Unlock()
}

func (d *Deck) stopLocked() {
	d.state = Stopped
	d.pausedOffset = 0
	d.out.Stop()
}

// StopIfEnded stops the deck if a non-looping playback has reached the end of
// its track, and reports whether it did.
func (d *Deck) StopIfEnded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Playing || d.looping {
		return false
	}
	if d.clock.Now()-d.anchor < d.track.Duration {
		return false
	}
	d.stopLocked()
	return true
}

// ToggleLoop flips looping and returns the new value. A running playback
// keeps going; its anchor is moved so the reported position does not jump,
// which means turning looping off never produces a false end on the next tick.
func (d *Deck) ToggleLoop() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setLoopingLocked(!d.looping)
	return d.looping
}

// SetLooping sets looping to v with the same semantics as ToggleLoop.
func (d *Deck) SetLooping(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.looping != v {
		d.setLoopingLocked(v)
	}
}

func (d *Deck) setLoopingLocked(v bool) {
	if d.state != Playing {
		d.looping = v
		return
	}
	now := d.clock.Now()
	raw := now - d.anchor
	wrapped := math.Mod(raw, d.track.Duration)
	d.anchor = now - wrapped
	d.looping = v
	if v && raw >= d.track.Duration {
		// the voice already ran off the end; restart it where the loop is
		d.out.Start(d.track, wrapped, true)
		return
	}
	d.out.SetLooping(v)
}

// Tick reports the position at clock reading now. It has no side effects;
// callers that see Ended must call Stop (or StopIfEnded).
func (d *Deck) Tick(now float64) Position {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.positionLocked(now)
}

// Position is Tick at the current clock reading.
func (d *Deck) Position() Position {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.positionLocked(d.clock.Now())
}

func (d *Deck) positionLocked(now float64) Position {
	p := Position{State: d.state, Looping: d.looping}
	if d.track != nil {
		p.Duration = d.track.Duration
	}
	switch d.state {
	case Paused:
		p.Elapsed = d.pausedOffset
	case Playing:
		p.Elapsed = d.elapsedLocked(now)
		p.Ended = !d.looping && p.Elapsed >= p.Duration
	}
	return p
}

// elapsedLocked is the playing position at now, wrapped when looping.
func (d *Deck) elapsedLocked(now float64) float64 {
	e := now - d.anchor
	if e < 0 {
		e = 0
	}
	if d.looping && d.track.Duration > 0 {
		e = math.Mod(e, d.track.Duration)
	}
	return e
}

func (d *Deck) playableLocked() bool {
	return d.track != nil && d.track.Duration > 0 && !math.IsInf(d.track.Duration, 0)
}

// State returns the current playback state.
func (d *Deck) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Track returns the loaded track, or nil.
func (d *Deck) Track() *audio.Track {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.track
}

// Looping reports whether the deck loops.
func (d *Deck) Looping() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.looping
}

// Volume returns the user-set deck volume.
func (d *Deck) Volume() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.volume
}

// SetVolume sets the user volume, clamped to [0,1].
func (d *Deck) SetVolume(v float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.volume = audio.Clamp01(v)
	d.out.SetGain(d.volume * d.xfGain)
}

// CrossfaderGain returns the gain derived from the crossfader.
func (d *Deck) CrossfaderGain() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.xfGain
}

// SetCrossfaderGain is called by the mixer whenever the crossfader moves.
func (d *Deck) SetCrossfaderGain(g float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.xfGain = audio.Clamp01(g)
	d.out.SetGain(d.volume * d.xfGain)
}

// Gain is the deck's effective amplitude before the master bus:
// volume times crossfader gain.
func (d *Deck) Gain() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.volume * d.xfGain
}
