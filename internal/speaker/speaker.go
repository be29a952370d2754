// Package speaker plays the master bus on the local sound card.
package speaker

import (
	"context"
	"fmt"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"

	"github.com/satindergrewal/twindeck/internal/audio"
	"github.com/satindergrewal/twindeck/internal/logger"
	"github.com/satindergrewal/twindeck/internal/stream"
)

// TapStreamer adapts a fanout tap to a beep.Streamer. When no frame is
// waiting it plays silence so the device never starves.
type TapStreamer struct {
	tap     *stream.Tap
	pending []int16
	closed  bool
}

func NewTapStreamer(tap *stream.Tap) *TapStreamer {
	return &TapStreamer{tap: tap}
}

// Stream fills samples from queued frames, converting s16 to [-1,1].
func (s *TapStreamer) Stream(samples [][2]float64) (int, bool) {
	if s.closed {
		return 0, false
	}
	for i := range samples {
		if len(s.pending) < audio.Channels && !s.next() {
			if s.closed {
				return i, i > 0
			}
			samples[i] = [2]float64{}
			continue
		}
		samples[i][0] = float64(s.pending[0]) / 32768
		samples[i][1] = float64(s.pending[1]) / 32768
		s.pending = s.pending[audio.Channels:]
	}
	return len(samples), true
}

// next pulls one more frame without blocking.
func (s *TapStreamer) next() bool {
	select {
	case <-s.tap.Done():
		s.closed = true
		return false
	case f := <-s.tap.C:
		s.pending = f
		return len(f) >= audio.Channels
	default:
		return false
	}
}

func (s *TapStreamer) Err() error { return nil }

// Play opens the default output device and plays taps from f until ctx is
// done.
func Play(ctx context.Context, f *stream.Fanout) error {
	sr := beep.SampleRate(audio.SampleRate)
	if err := speaker.Init(sr, sr.N(100*time.Millisecond)); err != nil {
		return fmt.Errorf("open speaker: %w", err)
	}
	tap := f.Attach()
	defer f.Detach(tap)

	speaker.Play(NewTapStreamer(tap))
	logger.Info("Speaker monitor started", logger.Int("sample_rate", audio.SampleRate))

	<-ctx.Done()
	speaker.Clear()
	logger.Info("Speaker monitor stopped", logger.Any("dropped_frames", tap.Dropped()))
	return nil
}
