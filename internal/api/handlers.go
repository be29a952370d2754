package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/satindergrewal/twindeck/internal/audio"
	"github.com/satindergrewal/twindeck/internal/deck"
	"github.com/satindergrewal/twindeck/internal/logger"
	"github.com/satindergrewal/twindeck/internal/session"
	"github.com/satindergrewal/twindeck/internal/waveform"
)

// lookup resolves the {deck} path variable, writing a 404 when it is unknown.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (int, *deck.Deck, bool) {
	key := mux.Vars(r)["deck"]
	i, d, ok := s.mixer.Lookup(key)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown deck "+strconv.Quote(key))
	}
	return i, d, ok
}

func (s *Server) writeDeck(w http.ResponseWriter, i int) {
	st, _ := s.mixer.DeckStatus(i)
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"mixer": s.mixer.Status()}
	if s.opts.Listeners != nil {
		resp["listeners"] = s.opts.Listeners()
	}
	if s.opts.Hub != nil {
		resp["position_subscribers"] = s.opts.Hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeck(w http.ResponseWriter, r *http.Request) {
	i, _, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.writeDeck(w, i)
}

// readUpload returns the track bytes and a name from either a multipart
// "file" field or the raw request body with ?name=.
func readUpload(r *http.Request) (string, []byte, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "multipart/form-data" {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return "", nil, err
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			return "", nil, errors.New("missing 'file' in form")
		}
		defer f.Close()
		raw, err := io.ReadAll(f)
		return hdr.Filename, raw, err
	}
	raw, err := io.ReadAll(r.Body)
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "upload"
	}
	return name, raw, err
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	i, d, ok := s.lookup(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	name, raw, err := readUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	_, err = d.Load(r.Context(), name, raw)
	var de *audio.DecodeError
	switch {
	case errors.Is(err, deck.ErrSuperseded):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.As(err, &de):
		writeError(w, http.StatusUnprocessableEntity, de.Error())
		return
	case err != nil:
		logger.Error("Load failed", logger.String("deck", d.ID()), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.publisher(d)(d.Position())
	s.writeDeck(w, i)
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	i, d, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if d.Play() {
		s.tracker.Follow(d, s.publisher(d))
	}
	s.writeDeck(w, i)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	i, d, ok := s.lookup(w, r)
	if !ok {
		return
	}
	d.Pause()
	s.publisher(d)(d.Position())
	s.writeDeck(w, i)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	i, d, ok := s.lookup(w, r)
	if !ok {
		return
	}
	d.Stop()
	s.publisher(d)(d.Position())
	s.writeDeck(w, i)
}

func (s *Server) handleLoop(w http.ResponseWriter, r *http.Request) {
	i, d, ok := s.lookup(w, r)
	if !ok {
		return
	}
	d.ToggleLoop()
	s.writeDeck(w, i)
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	i, _, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		Volume *float64 `json:"volume"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Volume == nil {
		writeError(w, http.StatusBadRequest, `body must be {"volume": <0..1>}`)
		return
	}
	s.mixer.SetDeckVolume(i, *req.Volume)
	s.writeDeck(w, i)
}

func (s *Server) handleWaveform(w http.ResponseWriter, r *http.Request) {
	_, d, ok := s.lookup(w, r)
	if !ok {
		return
	}
	width := s.opts.WaveformWidth
	if v := r.URL.Query().Get("width"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "width must be a positive integer")
			return
		}
		width = n
	}
	t := d.Track()
	if t == nil {
		writeError(w, http.StatusNotFound, "no track loaded")
		return
	}
	profile := waveform.Profile(t, width)
	if profile == nil {
		profile = []float64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deck":    d.ID(),
		"track":   t.Name,
		"width":   width,
		"profile": profile,
	})
}

func (s *Server) handleMaster(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Volume     *float64 `json:"volume"`
		Crossfader *float64 `json:"crossfader"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Volume != nil {
		s.mixer.SetMasterVolume(*req.Volume)
	}
	if req.Crossfader != nil {
		s.mixer.SetCrossfader(*req.Crossfader)
	}
	writeJSON(w, http.StatusOK, s.mixer.Bus())
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="twindeck-session.json"`)
	if err := session.Export(w, s.mixer); err != nil {
		logger.Error("Session export failed", logger.ErrorField(err))
	}
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if _, err := session.Import(r.Body, s.mixer); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.mixer.Status())
}

func writeSessionError(w http.ResponseWriter, err error) {
	var me *session.MalformedSessionError
	var tooBig *http.MaxBytesError
	switch {
	case errors.As(err, &tooBig):
		writeError(w, http.StatusRequestEntityTooLarge, "session payload too large")
	case errors.As(err, &me):
		writeError(w, http.StatusBadRequest, me.Error())
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrBadName):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error("Session store error", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) store(w http.ResponseWriter) (session.Store, bool) {
	if s.opts.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "no session store configured")
		return nil, false
	}
	return s.opts.Store, true
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	st, ok := s.store(w)
	if !ok {
		return
	}
	names, err := st.List(r.Context())
	if err != nil {
		writeSessionError(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": names})
}

func (s *Server) handleSaveSession(w http.ResponseWriter, r *http.Request) {
	st, ok := s.store(w)
	if !ok {
		return
	}
	name := mux.Vars(r)["name"]
	snap := session.Capture(s.mixer)
	if err := st.Save(r.Context(), name, snap); err != nil {
		writeSessionError(w, err)
		return
	}
	logger.Info("Session saved", logger.String("name", name))
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	st, ok := s.store(w)
	if !ok {
		return
	}
	snap, err := st.Load(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleLoadSession(w http.ResponseWriter, r *http.Request) {
	st, ok := s.store(w)
	if !ok {
		return
	}
	name := mux.Vars(r)["name"]
	snap, err := st.Load(r.Context(), name)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	session.Apply(s.mixer, snap)
	logger.Info("Session restored", logger.String("name", name))
	writeJSON(w, http.StatusOK, s.mixer.Status())
}
