// Package session snapshots and restores mixer control state: per-deck volume
// and loop flag, master volume and crossfader position. Tracks are never part
// of a snapshot; after a restore the decks keep whatever is loaded.
package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"sort"
	"strconv"

	"github.com/satindergrewal/twindeck/internal/mixer"
)

// MalformedSessionError reports a session payload that could not be parsed.
// No control state is touched when it is returned.
type MalformedSessionError struct {
	Reason string
	Err    error
}

func (e *MalformedSessionError) Error() string {
	return "malformed session: " + e.Reason
}

func (e *MalformedSessionError) Unwrap() error { return e.Err }

// DeckState is one deck's controls. Nil fields were absent from the payload.
type DeckState struct {
	Volume  *float64
	Looping *bool
}

// Snapshot is a flat record of control state. Nil fields are left untouched
// on Apply, so a partial snapshot is valid.
type Snapshot struct {
	Decks        []DeckState
	MasterVolume *float64
	Crossfader   *float64
}

// Capture records the mixer's current controls.
func Capture(m *mixer.Mixer) Snapshot {
	bus := m.Bus()
	s := Snapshot{
		Decks:        make([]DeckState, len(m.Decks())),
		MasterVolume: ptr(bus.MasterVolume),
		Crossfader:   ptr(bus.Crossfader),
	}
	for i, d := range m.Decks() {
		s.Decks[i] = DeckState{Volume: ptr(d.Volume()), Looping: ptr(d.Looping())}
	}
	return s
}

// Apply writes every present field to m. Decks beyond the mixer's count are
// ignored.
func Apply(m *mixer.Mixer, s Snapshot) {
	for i, ds := range s.Decks {
		d, ok := m.Deck(i)
		if !ok {
			continue
		}
		if ds.Volume != nil {
			d.SetVolume(*ds.Volume)
		}
		if ds.Looping != nil {
			d.SetLooping(*ds.Looping)
		}
	}
	if s.MasterVolume != nil {
		m.SetMasterVolume(*s.MasterVolume)
	}
	if s.Crossfader != nil {
		m.SetCrossfader(*s.Crossfader)
	}
}

// MarshalJSON writes the flat key format: deck1.volume, deck1.isLooping, ...,
// master.volume, master.crossfader.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	out := make(map[string]any)
	for i, ds := range s.Decks {
		prefix := "deck" + strconv.Itoa(i+1)
		if ds.Volume != nil {
			out[prefix+".volume"] = *ds.Volume
		}
		if ds.Looping != nil {
			out[prefix+".isLooping"] = *ds.Looping
		}
	}
	if s.MasterVolume != nil {
		out["master.volume"] = *s.MasterVolume
	}
	if s.Crossfader != nil {
		out["master.crossfader"] = *s.Crossfader
	}
	return json.Marshal(out)
}

var deckKey = regexp.MustCompile(`^deck([1-9][0-9]*)\.(volume|isLooping)$`)

// maxDecks bounds the deck numbers accepted from a payload.
const maxDecks = 64

// UnmarshalJSON parses the flat key format. Unknown keys are ignored. A known
// key with a value of the wrong type makes the whole payload malformed.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return &MalformedSessionError{Reason: "not a JSON object", Err: err}
	}

	var parsed Snapshot
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := raw[k]
		// null reads like an absent key
		if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			continue
		}
		switch k {
		case "master.volume":
			f, err := parseNumber(k, v)
			if err != nil {
				return err
			}
			parsed.MasterVolume = &f
		case "master.crossfader":
			f, err := parseNumber(k, v)
			if err != nil {
				return err
			}
			parsed.Crossfader = &f
		default:
			m := deckKey.FindStringSubmatch(k)
			if m == nil {
				continue
			}
			n, _ := strconv.Atoi(m[1])
			if n > maxDecks {
				continue
			}
			for len(parsed.Decks) < n {
				parsed.Decks = append(parsed.Decks, DeckState{})
			}
			ds := &parsed.Decks[n-1]
			if m[2] == "volume" {
				f, err := parseNumber(k, v)
				if err != nil {
					return err
				}
				ds.Volume = &f
			} else {
				var b bool
				if err := json.Unmarshal(v, &b); err != nil {
					return &MalformedSessionError{Reason: k + " is not a boolean", Err: err}
				}
				ds.Looping = &b
			}
		}
	}

	*s = parsed
	return nil
}

// parseNumber accepts a JSON number or a string holding one, as slider
// values are often serialized.
func parseNumber(key string, v json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		var str string
		if json.Unmarshal(v, &str) != nil {
			return 0, &MalformedSessionError{Reason: key + " is not a number", Err: err}
		}
		f, err = strconv.ParseFloat(str, 64)
		if err != nil {
			return 0, &MalformedSessionError{Reason: fmt.Sprintf("%s: %q is not a number", key, str), Err: err}
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, &MalformedSessionError{Reason: key + " is not finite"}
	}
	return f, nil
}

// Export writes the mixer's controls to w as JSON.
func Export(w io.Writer, m *mixer.Mixer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(Capture(m)); err != nil {
		return fmt.Errorf("export session: %w", err)
	}
	return nil
}

// Decode parses a whole session payload from r without touching any state.
func Decode(r io.Reader) (Snapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read session: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		var me *MalformedSessionError
		if errors.As(err, &me) {
			return Snapshot{}, err
		}
		return Snapshot{}, &MalformedSessionError{Reason: "invalid JSON", Err: err}
	}
	return s, nil
}

// Import parses r and, only if the entire payload is valid, applies it to m.
func Import(r io.Reader, m *mixer.Mixer) (Snapshot, error) {
	s, err := Decode(r)
	if err != nil {
		return Snapshot{}, err
	}
	Apply(m, s)
	return s, nil
}

func ptr[T any](v T) *T { return &v }
