package audio

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Engine is the output graph: it sums every voice, scales the sum by the
// master gain and emits 20ms PCM frames at real-time rate. The number of
// frames rendered so far is the transport clock.
type Engine struct {
	frameCh chan []int16

	mu     sync.Mutex
	voices []*Voice
	master float64

	rendered atomic.Int64 // sample frames rendered since construction
}

// NewEngine creates an engine with unity master gain.
func NewEngine() *Engine {
	return &Engine{
		frameCh: make(chan []int16, 100),
		master:  1,
	}
}

// Frames returns the channel of mixed PCM frames (20ms each).
func (e *Engine) Frames() <-chan []int16 {
	return e.frameCh
}

// Now returns the transport time in seconds. It only ever increases.
func (e *Engine) Now() float64 {
	return float64(e.rendered.Load()) / SampleRate
}

// NewVoice attaches a silent voice to the mix.
func (e *Engine) NewVoice(id string) *Voice {
	v := &Voice{engine: e, id: id}
	e.mu.Lock()
	e.voices = append(e.voices, v)
	e.mu.Unlock()
	return v
}

// SetMasterGain sets the gain applied to the summed voices.
func (e *Engine) SetMasterGain(g float64) {
	e.mu.Lock()
	e.master = Clamp01(g)
	e.mu.Unlock()
}

// MasterGain returns the current master gain.
func (e *Engine) MasterGain() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.master
}

// Render mixes one frame and advances the transport clock by FrameDuration.
func (e *Engine) Render() []int16 {
	acc := make([]float64, FrameSamples)

	e.mu.Lock()
	for _, v := range e.voices {
		v.mixInto(acc)
	}
	master := e.master
	e.mu.Unlock()

	out := make([]int16, FrameSamples)
	for i, s := range acc {
		out[i] = clip16(s * master)
	}
	e.rendered.Add(FrameSize)
	return out
}

// Run renders frames at real-time rate. Blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.frameCh)

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame := e.Render()
		select {
		case e.frameCh <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// Voice is one deck's lane into the engine. It plays a track from an offset,
// optionally wrapping at the end, at a linear gain.
type Voice struct {
	engine *Engine
	id     string

	// guarded by engine.mu
	track   *Track
	pos     int
	playing bool
	looping bool
	gain    float64
}

// ID returns the identifier given at creation.
func (v *Voice) ID() string { return v.id }

// Start begins producing sound from offset seconds into t.
func (v *Voice) Start(t *Track, offset float64, looping bool) {
	v.engine.mu.Lock()
	defer v.engine.mu.Unlock()
	v.track = t
	v.looping = looping
	v.playing = t != nil && t.Frames() > 0
	if !v.playing {
		v.pos = 0
		return
	}
	pos := int(offset * SampleRate)
	if pos < 0 {
		pos = 0
	}
	v.pos = pos % t.Frames()
}

// Stop silences the voice.
func (v *Voice) Stop() {
	v.engine.mu.Lock()
	v.playing = false
	v.engine.mu.Unlock()
}

// SetLooping changes loop behaviour of the running playback in place.
func (v *Voice) SetLooping(looping bool) {
	v.engine.mu.Lock()
	v.looping = looping
	v.engine.mu.Unlock()
}

// SetGain sets the voice's linear gain.
func (v *Voice) SetGain(g float64) {
	v.engine.mu.Lock()
	if g < 0 {
		g = 0
	}
	v.gain = g
	v.engine.mu.Unlock()
}

// Gain returns the voice's linear gain.
func (v *Voice) Gain() float64 {
	v.engine.mu.Lock()
	defer v.engine.mu.Unlock()
	return v.gain
}

// Playing reports whether the voice is producing sound.
func (v *Voice) Playing() bool {
	v.engine.mu.Lock()
	defer v.engine.mu.Unlock()
	return v.playing
}

// mixInto adds one frame of this voice into acc. Caller holds engine.mu.
func (v *Voice) mixInto(acc []float64) {
	if !v.playing || v.track == nil {
		return
	}
	pcm := v.track.PCM
	frames := v.track.Frames()
	for i := 0; i < FrameSize; i++ {
		if v.pos >= frames {
			if !v.looping {
				v.playing = false
				return
			}
			v.pos = 0
		}
		acc[i*2] += float64(pcm[v.pos*2]) * v.gain
		acc[i*2+1] += float64(pcm[v.pos*2+1]) * v.gain
		v.pos++
	}
}
