package audio

import "time"

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// Track is decoded audio owned by a single deck. It is never mutated after
// decoding; loading a new file replaces it wholesale.
type Track struct {
	Name     string    // source filename, for display and session references
	Duration float64   // seconds
	PCM      []int16   // interleaved stereo at SampleRate, for the output graph
	Channel  []float64 // mono reference channel in [-1,1], for the waveform
}

// Frames returns the number of sample frames (per-channel samples) in PCM.
func (t *Track) Frames() int {
	if t == nil {
		return 0
	}
	return len(t.PCM) / Channels
}

// NewTrack builds a Track from interleaved stereo PCM. Duration is derived
// from the sample count and the left channel becomes the reference channel.
func NewTrack(name string, pcm []int16) *Track {
	frames := len(pcm) / Channels
	ch := make([]float64, frames)
	for i := 0; i < frames; i++ {
		ch[i] = float64(pcm[i*Channels]) / 32768.0
	}
	return &Track{
		Name:     name,
		Duration: float64(frames) / SampleRate,
		PCM:      pcm[:frames*Channels],
		Channel:  ch,
	}
}
