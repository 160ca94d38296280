// Package server exposes the harmonizer engine as an HTTP control surface:
// JSON operations mirroring the engine API, a websocket feed streaming level
// and status updates, health and metrics endpoints, and the take download.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harmonylab/harmonylab/internal/config"
	"github.com/harmonylab/harmonylab/internal/engine"
	"github.com/harmonylab/harmonylab/internal/health"
	"github.com/harmonylab/harmonylab/internal/observe"
)

// maxUploadBytes caps file uploads; a few minutes of 48 kHz stereo WAV.
const maxUploadBytes = 64 << 20

// Server serves the harmonizer control surface.
type Server struct {
	eng     *engine.Engine
	cfg     *config.Config
	log     *slog.Logger
	metrics *observe.Metrics
	health  *health.Handler
}

// New builds the server around an engine.
func New(eng *engine.Engine, cfg *config.Config, h *health.Handler, metrics *observe.Metrics, log *slog.Logger) *Server {
	return &Server{
		eng:     eng,
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		health:  h,
	}
}

// Handler returns the full route table wrapped in the observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/devices", s.handleDevices)

	mux.HandleFunc("POST /api/source/microphone", s.handleStartMicrophone)
	mux.HandleFunc("DELETE /api/source/microphone", s.handleStopMicrophone)
	mux.HandleFunc("POST /api/source/microphone/switch", s.handleSwitchMicrophone)
	mux.HandleFunc("POST /api/source/file", s.handleLoadFile)

	mux.HandleFunc("POST /api/playback/play", s.handlePlay)
	mux.HandleFunc("POST /api/playback/stop", s.handleStopPlayback)

	mux.HandleFunc("POST /api/voices/{label}/solo", s.handleToggleSolo)
	mux.HandleFunc("PUT /api/voices/{label}/enabled", s.handleSetEnabled)
	mux.HandleFunc("PUT /api/voices/{label}/level", s.handleSetLevel)
	mux.HandleFunc("PUT /api/dry/level", s.handleSetDryLevel)

	mux.HandleFunc("POST /api/recording/start", s.handleStartRecording)
	mux.HandleFunc("POST /api/recording/stop", s.handleStopRecording)

	mux.HandleFunc("GET /takes/latest", s.handleLatestTake)
	mux.HandleFunc("GET /ws", s.handleFeed)

	return observe.Middleware(s.metrics)(mux)
}

// Run serves until ctx is cancelled, then drains with a shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Status())
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.eng.Devices()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

type deviceRequest struct {
	DeviceID string `json:"device_id"`
}

func (s *Server) handleStartMicrophone(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.eng.StartMicrophone(r.Context(), req.DeviceID); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, s.eng.Status())
}

func (s *Server) handleStopMicrophone(w http.ResponseWriter, r *http.Request) {
	s.eng.StopMicrophone()
	writeJSON(w, http.StatusOK, s.eng.Status())
}

func (s *Server) handleSwitchMicrophone(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.eng.SwitchMicrophoneDevice(r.Context(), req.DeviceID); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, s.eng.Status())
}

// handleLoadFile accepts raw WAV bytes in the request body; the display name
// comes from the ?name= query parameter.
func (s *Server) handleLoadFile(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "upload.wav"
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	if err := s.eng.LoadFile(data, name); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, s.eng.Status())
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	s.eng.Play()
	writeJSON(w, http.StatusOK, s.eng.Status())
}

func (s *Server) handleStopPlayback(w http.ResponseWriter, r *http.Request) {
	s.eng.StopPlayback()
	writeJSON(w, http.StatusOK, s.eng.Status())
}

func (s *Server) handleToggleSolo(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.ToggleSolo(r.PathValue("label")); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, s.eng.Status())
}

func (s *Server) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.eng.SetVoiceEnabled(r.PathValue("label"), req.Enabled); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, s.eng.Status())
}

func (s *Server) handleSetLevel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level float64 `json:"level"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.eng.SetVoiceLevel(r.PathValue("label"), req.Level); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, s.eng.Status())
}

func (s *Server) handleSetDryLevel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level float64 `json:"level"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.eng.SetDryLevel(req.Level)
	writeJSON(w, http.StatusOK, s.eng.Status())
}

func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.StartRecording(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, s.eng.Status())
}

func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	take, err := s.eng.StopRecording()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if take == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": s.eng.Status(), "take": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": s.eng.Status(), "take": take})
}

func (s *Server) handleLatestTake(w http.ResponseWriter, r *http.Request) {
	take, ok := s.eng.Takes().Latest()
	if !ok {
		http.Error(w, "no take recorded yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", take.MIME)
	w.Header().Set("Content-Disposition", `attachment; filename="`+take.Filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(take.Data)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
