package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os/exec"
	"strconv"

	"github.com/google/uuid"

	"github.com/satindergrewal/twindeck/internal/audio"
	"github.com/satindergrewal/twindeck/internal/logger"
)

// MP3Handler serves the master bus as a chunked MP3 stream. Each request runs
// its own ffmpeg encoder fed from a fanout tap.
type MP3Handler struct {
	fanout     *Fanout
	ffmpegPath string
	bitrate    int // kbit/s
}

func NewMP3Handler(f *Fanout, ffmpegPath string, bitrateKbps int) *MP3Handler {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if bitrateKbps <= 0 {
		bitrateKbps = 192
	}
	return &MP3Handler{fanout: f, ffmpegPath: ffmpegPath, bitrate: bitrateKbps}
}

// encoderArgs is the ffmpeg command line for s16le stdin to MP3 stdout.
func (h *MP3Handler) encoderArgs() []string {
	return []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(audio.SampleRate),
		"-ac", strconv.Itoa(audio.Channels),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", strconv.Itoa(h.bitrate) + "k",
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	}
}

func (h *MP3Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cmd := exec.CommandContext(ctx, h.ffmpegPath, h.encoderArgs()...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		logger.Error("MP3 monitor: stdin pipe", logger.ErrorField(err))
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		logger.Error("MP3 monitor: stdout pipe", logger.ErrorField(err))
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	if err := cmd.Start(); err != nil {
		logger.Error("MP3 monitor: ffmpeg start", logger.ErrorField(err))
		http.Error(w, "encoder unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("ICY-Name", "twindeck master")

	tap := h.fanout.Attach()
	defer h.fanout.Detach(tap)

	id := uuid.NewString()
	logger.Info("MP3 monitor connected",
		logger.String("listener", id),
		logger.Int("taps", h.fanout.TapCount()))
	defer func() {
		logger.Info("MP3 monitor disconnected",
			logger.String("listener", id),
			logger.Any("dropped_frames", tap.Dropped()))
	}()

	go feedPCM(ctx, tap, stdin)

	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				break
			}
			flusher.Flush()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warn("MP3 monitor: ffmpeg read", logger.ErrorField(err))
			}
			break
		}
	}
	cancel()
	cmd.Wait()
}

// feedPCM writes tap frames to w as little-endian PCM until ctx ends, the
// tap is detached, or a write fails. It closes w on return.
func feedPCM(ctx context.Context, tap *Tap, w io.WriteCloser) {
	defer w.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tap.Done():
			return
		case frame := <-tap.C:
			if _, err := w.Write(audio.SamplesToBytes(frame)); err != nil {
				return
			}
		}
	}
}
