// Package mixer composes decks onto a shared master bus. Each deck's output
// gain is its own volume times the gain the crossfader gives its side; the
// bus then scales the sum by the master volume. Nothing is normalized or
// limited, so two loud decks near the crossfader midpoint can exceed full
// scale.
package mixer

import (
	"strconv"
	"strings"
	"sync"

	"github.com/satindergrewal/twindeck/internal/audio"
	"github.com/satindergrewal/twindeck/internal/deck"
)

// Side is the crossfader side a deck is assigned to.
type Side int

const (
	SideA Side = iota
	SideB
)

func (s Side) String() string {
	if s == SideB {
		return "B"
	}
	return "A"
}

// Bus is the shared master bus state.
type Bus struct {
	MasterVolume float64 `json:"master_volume"` // [0,1]
	Crossfader   float64 `json:"crossfader"`    // -1 = side A only, +1 = side B only
}

// MasterOutput receives the master gain. *audio.Engine implements it.
type MasterOutput interface {
	SetMasterGain(g float64)
}

// Mixer owns the decks and the bus.
type Mixer struct {
	master MasterOutput
	decks  []*deck.Deck

	mu  sync.Mutex
	bus Bus
}

// New creates a mixer with the crossfader centred and master at unity.
// Even-indexed decks sit on side A, odd-indexed decks on side B.
func New(master MasterOutput, decks ...*deck.Deck) *Mixer {
	m := &Mixer{
		master: master,
		decks:  decks,
		bus:    Bus{MasterVolume: 1},
	}
	m.applyCrossfader(0)
	if master != nil {
		master.SetMasterGain(1)
	}
	return m
}

// Build wires one deck per id to its own voice on e, using e as the
// transport clock.
func Build(e *audio.Engine, dec deck.Decoder, ids ...string) *Mixer {
	decks := make([]*deck.Deck, len(ids))
	for i, id := range ids {
		decks[i] = deck.New(id, e, e.NewVoice(id), dec)
	}
	return New(e, decks...)
}

// Decks returns the decks in assignment order.
func (m *Mixer) Decks() []*deck.Deck {
	return m.decks
}

// Deck returns the deck at index i.
func (m *Mixer) Deck(i int) (*deck.Deck, bool) {
	if i < 0 || i >= len(m.decks) {
		return nil, false
	}
	return m.decks[i], true
}

// Lookup finds a deck by id (case-insensitive) or by 1-based number.
func (m *Mixer) Lookup(key string) (int, *deck.Deck, bool) {
	key = strings.TrimSpace(key)
	for i, d := range m.decks {
		if strings.EqualFold(d.ID(), key) {
			return i, d, true
		}
	}
	if n, err := strconv.Atoi(key); err == nil {
		if d, ok := m.Deck(n - 1); ok {
			return n - 1, d, true
		}
	}
	return -1, nil, false
}

// SideOf reports the crossfader side of deck i.
func (m *Mixer) SideOf(i int) Side {
	if i%2 == 1 {
		return SideB
	}
	return SideA
}

// Bus returns a copy of the bus state.
func (m *Mixer) Bus() Bus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bus
}

// SetCrossfader moves the crossfader and immediately recomputes every deck's
// crossfader gain.
func (m *Mixer) SetCrossfader(position float64) {
	position = audio.ClampSigned(position)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bus.Crossfader = position
	m.applyCrossfader(position)
}

func (m *Mixer) applyCrossfader(position float64) {
	gainA, gainB := audio.EqualPower(position)
	for i, d := range m.decks {
		if m.SideOf(i) == SideB {
			d.SetCrossfaderGain(gainB)
		} else {
			d.SetCrossfaderGain(gainA)
		}
	}
}

// SetMasterVolume sets the bus gain, clamped to [0,1].
func (m *Mixer) SetMasterVolume(v float64) {
	v = audio.Clamp01(v)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bus.MasterVolume = v
	if m.master != nil {
		m.master.SetMasterGain(v)
	}
}

// SetDeckVolume sets deck i's user volume. It reports false for an unknown deck.
func (m *Mixer) SetDeckVolume(i int, v float64) bool {
	d, ok := m.Deck(i)
	if !ok {
		return false
	}
	d.SetVolume(v)
	return true
}

// EffectiveGain is deck i's amplitude at the output: volume times crossfader
// gain times master volume.
func (m *Mixer) EffectiveGain(i int) float64 {
	d, ok := m.Deck(i)
	if !ok {
		return 0
	}
	return d.Gain() * m.Bus().MasterVolume
}

// DeckStatus is a display snapshot of one deck.
type DeckStatus struct {
	ID             string        `json:"id"`
	Side           string        `json:"side"`
	Track          string        `json:"track,omitempty"`
	Position       deck.Position `json:"position"`
	Display        string        `json:"display"`
	Progress       float64       `json:"progress"`
	Volume         float64       `json:"volume"`
	CrossfaderGain float64       `json:"crossfader_gain"`
	EffectiveGain  float64       `json:"effective_gain"`
}

// Status is a display snapshot of the whole mixer.
type Status struct {
	Bus   Bus          `json:"master"`
	Decks []DeckStatus `json:"decks"`
}

// Status snapshots every deck and the bus.
func (m *Mixer) Status() Status {
	bus := m.Bus()
	st := Status{Bus: bus, Decks: make([]DeckStatus, len(m.decks))}
	for i, d := range m.decks {
		st.Decks[i] = m.deckStatus(i, d, bus)
	}
	return st
}

// DeckStatus snapshots deck i.
func (m *Mixer) DeckStatus(i int) (DeckStatus, bool) {
	d, ok := m.Deck(i)
	if !ok {
		return DeckStatus{}, false
	}
	return m.deckStatus(i, d, m.Bus()), true
}

func (m *Mixer) deckStatus(i int, d *deck.Deck, bus Bus) DeckStatus {
	pos := d.Position()
	ds := DeckStatus{
		ID:             d.ID(),
		Side:           m.SideOf(i).String(),
		Position:       pos,
		Display:        pos.String(),
		Progress:       pos.Progress(),
		Volume:         d.Volume(),
		CrossfaderGain: d.CrossfaderGain(),
		EffectiveGain:  d.Gain() * bus.MasterVolume,
	}
	if t := d.Track(); t != nil {
		ds.Track = t.Name
	}
	return ds
}
