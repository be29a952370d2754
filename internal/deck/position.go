package deck

import "fmt"

// Position is a snapshot of a deck's playback position.
type Position struct {
	State    State   `json:"state"`
	Elapsed  float64 `json:"elapsed"`  // seconds into the track
	Duration float64 `json:"duration"` // 0 when nothing is loaded
	Looping  bool    `json:"looping"`
	Ended    bool    `json:"ended"` // natural end of a non-looping track
}

// Progress is the elapsed position as a percentage of the duration.
func (p Position) Progress() float64 {
	if p.Duration <= 0 {
		return 0
	}
	pct := p.Elapsed / p.Duration * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// String renders "mm:ss / mm:ss".
func (p Position) String() string {
	return FormatTime(p.Elapsed) + " / " + FormatTime(p.Duration)
}

// FormatTime renders seconds as zero-padded mm:ss, truncating fractions.
func FormatTime(sec float64) string {
	if sec < 0 || sec != sec {
		sec = 0
	}
	s := int(sec)
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
