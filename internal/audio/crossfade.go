package audio

import "math"

// EqualPower maps a crossfader position in [-1,1] to the gains of side A and
// side B. The squared gains always sum to 1, so perceived loudness stays
// constant through the sweep; the midpoint is cos(pi/4) on both sides, not 0.5.
// Positions outside the range are clamped.
func EqualPower(position float64) (gainA, gainB float64) {
	switch {
	case math.IsNaN(position):
		position = 0
	case position <= -1:
		return 1, 0
	case position >= 1:
		return 0, 1
	}
	gainA = math.Cos((position + 1) * math.Pi / 4)
	gainB = math.Cos((1 - position) * math.Pi / 4)
	return gainA, gainB
}

// Clamp01 limits v to [0,1]. NaN becomes 0.
func Clamp01(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v >= 0 {
		return v
	}
	return 0
}

// ClampSigned limits v to [-1,1]. NaN becomes 0.
func ClampSigned(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	if math.IsNaN(v) {
		return 0
	}
	return v
}

func clip16(v float64) int16 {
	if v > 32767 {
		return 32767
	} else if v < -32768 {
		return -32768
	}
	return int16(v)
}
