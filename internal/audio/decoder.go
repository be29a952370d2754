package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// DecodeError reports audio that could not be turned into a Track. It is not
// retried: corrupt or unsupported input stays corrupt.
type DecodeError struct {
	Name   string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Name == "" {
		return "decode audio: " + e.Reason
	}
	return fmt.Sprintf("decode %s: %s", e.Name, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decoder turns raw file bytes into a Track at SampleRate stereo.
// 16-bit WAV already at SampleRate decodes in-process; anything else goes
// through FFmpeg.
type Decoder struct {
	FFmpegPath string
}

// NewDecoder returns a decoder that shells out to ffmpegPath when needed.
func NewDecoder(ffmpegPath string) *Decoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Decoder{FFmpegPath: ffmpegPath}
}

// Decode is safe to call repeatedly with the same input.
func (d *Decoder) Decode(ctx context.Context, name string, raw []byte) (*Track, error) {
	if len(raw) == 0 {
		return nil, &DecodeError{Name: name, Reason: "empty input"}
	}

	var (
		pcm []int16
		err error
	)
	if isWAV(name, raw) {
		pcm, err = decodeWAV(raw)
		if err == errNeedsResample {
			pcm, err = d.decodeFFmpeg(ctx, raw)
		}
	} else {
		pcm, err = d.decodeFFmpeg(ctx, raw)
	}
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			de.Name = name
			return nil, de
		}
		return nil, &DecodeError{Name: name, Reason: err.Error(), Err: err}
	}

	if len(pcm) < Channels {
		return nil, &DecodeError{Name: name, Reason: "no audio frames"}
	}
	return NewTrack(filepath.Base(name), pcm), nil
}

func isWAV(name string, raw []byte) bool {
	if strings.EqualFold(filepath.Ext(name), ".wav") {
		return true
	}
	return len(raw) >= 12 && string(raw[0:4]) == "RIFF" && string(raw[8:12]) == "WAVE"
}

var errNeedsResample = errors.New("wav needs resampling")

func decodeWAV(raw []byte) ([]int16, error) {
	dec := wav.NewDecoder(bytes.NewReader(raw))
	if !dec.IsValidFile() {
		return nil, &DecodeError{Reason: "invalid wav file"}
	}
	if dec.SampleRate != SampleRate || dec.BitDepth != BitDepth || dec.NumChans < 1 || dec.NumChans > 2 {
		return nil, errNeedsResample
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, &DecodeError{Reason: "read pcm: " + err.Error(), Err: err}
	}
	return intBufferToStereo(buf), nil
}

// intBufferToStereo converts a 16-bit buffer to interleaved stereo int16,
// duplicating mono into both channels.
func intBufferToStereo(buf *goaudio.IntBuffer) []int16 {
	chans := 1
	if buf.Format != nil && buf.Format.NumChannels > 0 {
		chans = buf.Format.NumChannels
	}
	if chans == Channels {
		out := make([]int16, len(buf.Data)-len(buf.Data)%Channels)
		for i := range out {
			out[i] = int16(buf.Data[i])
		}
		return out
	}

	frames := len(buf.Data) / chans
	out := make([]int16, frames*Channels)
	for i := 0; i < frames; i++ {
		s := int16(buf.Data[i*chans])
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

// decodeFFmpeg pipes raw bytes through FFmpeg to 48kHz stereo s16le.
func (d *Decoder) decodeFFmpeg(ctx context.Context, raw []byte) ([]int16, error) {
	cmd := exec.CommandContext(ctx, d.FFmpegPath,
		"-i", "pipe:0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", "48000",
		"-ac", "2",
		"-loglevel", "error",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(raw)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		reason := strings.TrimSpace(stderr.String())
		if reason == "" {
			reason = err.Error()
		}
		return nil, &DecodeError{Reason: "ffmpeg: " + reason, Err: err}
	}

	return BytesToSamples(out), nil
}

// BytesToSamples converts little-endian bytes to int16 samples. A trailing odd
// byte is dropped.
func BytesToSamples(buf []byte) []int16 {
	samples := make([]int16, len(buf)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*2 : i*2+2]))
	}
	return samples
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
