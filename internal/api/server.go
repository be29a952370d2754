// Package api exposes the mixer over HTTP: deck transport and gain controls,
// waveform previews, session import/export, and the monitor streams.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/satindergrewal/twindeck/internal/deck"
	"github.com/satindergrewal/twindeck/internal/logger"
	"github.com/satindergrewal/twindeck/internal/mixer"
	"github.com/satindergrewal/twindeck/internal/session"
)

// maxUpload bounds a single track upload.
const maxUpload = 256 << 20

// PositionHub pushes deck positions to subscribers mounted at /ws/position.
type PositionHub interface {
	http.Handler
	Publisher(id string) func(deck.Position)
	ClientCount() int
}

// Options configures a Server. Zero values disable the optional parts.
type Options struct {
	PollInterval  time.Duration
	WaveformWidth int
	Store         session.Store
	Hub           PositionHub
	MP3           http.Handler
	WebRTC        http.Handler
	Listeners     func() int // connected monitor count for status
}

// Server routes control requests to a Mixer.
type Server struct {
	mixer   *mixer.Mixer
	opts    Options
	tracker *deck.Tracker
}

// NewServer creates a server. Position pollers started by play requests live
// until ctx is done or their deck leaves Playing.
func NewServer(ctx context.Context, m *mixer.Mixer, opts Options) *Server {
	if opts.WaveformWidth <= 0 {
		opts.WaveformWidth = 600
	}
	return &Server{
		mixer:   m,
		opts:    opts,
		tracker: deck.NewTracker(ctx, opts.PollInterval),
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/master", s.handleMaster).Methods(http.MethodPut)

	api.HandleFunc("/decks/{deck}", s.handleDeck).Methods(http.MethodGet)
	api.HandleFunc("/decks/{deck}/load", s.handleLoad).Methods(http.MethodPost)
	api.HandleFunc("/decks/{deck}/play", s.handlePlay).Methods(http.MethodPost)
	api.HandleFunc("/decks/{deck}/pause", s.handlePause).Methods(http.MethodPost)
	api.HandleFunc("/decks/{deck}/stop", s.handleStop).Methods(http.MethodPost)
	api.HandleFunc("/decks/{deck}/loop", s.handleLoop).Methods(http.MethodPost)
	api.HandleFunc("/decks/{deck}/volume", s.handleVolume).Methods(http.MethodPut)
	api.HandleFunc("/decks/{deck}/waveform", s.handleWaveform).Methods(http.MethodGet)

	api.HandleFunc("/session", s.handleExport).Methods(http.MethodGet)
	api.HandleFunc("/session", s.handleImport).Methods(http.MethodPost)
	api.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{name}", s.handleSaveSession).Methods(http.MethodPut)
	api.HandleFunc("/sessions/{name}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{name}/load", s.handleLoadSession).Methods(http.MethodPost)

	if s.opts.Hub != nil {
		r.Handle("/ws/position", s.opts.Hub)
	}
	if s.opts.MP3 != nil {
		r.Handle("/stream", s.opts.MP3).Methods(http.MethodGet)
	}
	if s.opts.WebRTC != nil {
		r.Handle("/offer", s.opts.WebRTC).Methods(http.MethodPost, http.MethodOptions)
	}
	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) publisher(d *deck.Deck) func(deck.Position) {
	if s.opts.Hub == nil {
		return func(deck.Position) {}
	}
	return s.opts.Hub.Publisher(d.ID())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("write response", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
