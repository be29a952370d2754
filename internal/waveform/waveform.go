// Package waveform reduces a channel of samples to a fixed-width amplitude
// profile for a static preview.
package waveform

import (
	"math"
	"strings"

	"github.com/satindergrewal/twindeck/internal/audio"
)

// Summarize returns width values, each the mean absolute amplitude of a
// contiguous block of len(samples)/width samples. Trailing samples that do not
// fill a whole block are dropped. It returns nil when width <= 0 or there are
// fewer samples than width.
func Summarize(samples []float64, width int) []float64 {
	if width <= 0 || len(samples) < width {
		return nil
	}
	block := len(samples) / width
	out := make([]float64, width)
	for i := range out {
		var sum float64
		for _, s := range samples[i*block : (i+1)*block] {
			sum += math.Abs(s)
		}
		out[i] = sum / float64(block)
	}
	return out
}

// Normalize scales profile so its peak is 1. A silent profile (peak 0) comes
// back as all zeros, which renders as a flat line.
func Normalize(profile []float64) []float64 {
	out := make([]float64, len(profile))
	var peak float64
	for _, v := range profile {
		if v > peak {
			peak = v
		}
	}
	if peak == 0 {
		return out
	}
	for i, v := range profile {
		out[i] = v / peak
	}
	return out
}

// Profile is the normalized profile of a track's reference channel.
func Profile(t *audio.Track, width int) []float64 {
	if t == nil {
		return nil
	}
	return Normalize(Summarize(t.Channel, width))
}

var bars = []rune(" ▁▂▃▄▅▆▇█")

// Bars renders a normalized profile as a single line of block characters,
// for terminals.
func Bars(profile []float64) string {
	var b strings.Builder
	top := len(bars) - 1
	for _, v := range profile {
		i := int(math.Round(audio.Clamp01(v) * float64(top)))
		b.WriteRune(bars[i])
	}
	return b.String()
}
