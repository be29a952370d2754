package stream

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/twindeck/internal/audio"
	"github.com/satindergrewal/twindeck/internal/logger"
)

// WebRTCHandler answers SDP offers with a single Opus track carrying the
// master bus.
type WebRTCHandler struct {
	fanout  *Fanout
	bitrate int // bit/s

	mu    sync.Mutex
	peers map[*webrtc.PeerConnection]*Tap
}

func NewWebRTCHandler(f *Fanout, bitrate int) *WebRTCHandler {
	if bitrate <= 0 {
		bitrate = 128000
	}
	return &WebRTCHandler{
		fanout:  f,
		bitrate: bitrate,
		peers:   make(map[*webrtc.PeerConnection]*Tap),
	}
}

// PeerCount returns the number of connected peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		http.Error(w, "create peer connection failed", http.StatusInternalServerError)
		return
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: audio.SampleRate, Channels: audio.Channels},
		"master",
		"twindeck",
	)
	if err != nil {
		pc.Close()
		http.Error(w, "create audio track failed", http.StatusInternalServerError)
		return
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		http.Error(w, "add track failed", http.StatusInternalServerError)
		return
	}

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		http.Error(w, "set remote description failed", http.StatusBadRequest)
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		http.Error(w, "create answer failed", http.StatusInternalServerError)
		return
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		http.Error(w, "set local description failed", http.StatusInternalServerError)
		return
	}
	select {
	case <-gatherComplete:
	case <-r.Context().Done():
		pc.Close()
		return
	}

	tap := h.fanout.Attach()
	h.mu.Lock()
	h.peers[pc] = tap
	h.mu.Unlock()
	logger.Info("WebRTC monitor connected", logger.Int("peers", h.PeerCount()))

	go h.streamToPeer(tap, track)

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			if h.removePeer(pc) {
				pc.Close()
				logger.Info("WebRTC monitor disconnected",
					logger.String("state", s.String()),
					logger.Int("peers", h.PeerCount()))
			}
		}
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pc.LocalDescription())
}

func (h *WebRTCHandler) streamToPeer(tap *Tap, track *webrtc.TrackLocalStaticSample) {
	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		logger.Error("WebRTC: opus encoder", logger.ErrorField(err))
		return
	}
	if err := enc.SetBitrate(h.bitrate); err != nil {
		logger.Warn("WebRTC: opus bitrate", logger.Int("bitrate", h.bitrate), logger.ErrorField(err))
	}

	buf := make([]byte, 4000)
	for {
		select {
		case <-tap.Done():
			return
		case frame := <-tap.C:
			n, err := enc.Encode(frame, buf)
			if err != nil {
				logger.Warn("WebRTC: opus encode", logger.ErrorField(err))
				continue
			}
			if err := track.WriteSample(media.Sample{Data: buf[:n], Duration: audio.FrameDuration}); err != nil {
				return
			}
		}
	}
}

// removePeer detaches the peer's tap. It reports false if pc was already gone.
func (h *WebRTCHandler) removePeer(pc *webrtc.PeerConnection) bool {
	h.mu.Lock()
	tap, ok := h.peers[pc]
	delete(h.peers, pc)
	h.mu.Unlock()
	if ok {
		h.fanout.Detach(tap)
	}
	return ok
}

// Close hangs up every peer.
func (h *WebRTCHandler) Close() {
	h.mu.Lock()
	peers := make([]*webrtc.PeerConnection, 0, len(h.peers))
	for pc := range h.peers {
		peers = append(peers, pc)
	}
	h.mu.Unlock()
	for _, pc := range peers {
		h.removePeer(pc)
		pc.Close()
	}
}
