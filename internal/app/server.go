package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"parcmarket/internal/domain"
	"parcmarket/internal/engine"
	"parcmarket/internal/service"
	"parcmarket/internal/ws"
)

// Server exposes the engine's read surface plus the event control endpoint
// over HTTP, and the live feed over WebSocket.
type Server struct {
	engine *engine.Engine
	alerts *service.AlertService
	hub    *ws.Hub
	http   *http.Server
}

func NewServer(addr string, eng *engine.Engine, alerts *service.AlertService, hub *ws.Hub) *Server {
	s := &Server{engine: eng, alerts: alerts, hub: hub}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/quote", s.handleQuote)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/alerts", s.handleAlerts)
	mux.HandleFunc("GET /api/event", s.handleActiveEvent)
	mux.HandleFunc("POST /api/event", s.handleTriggerEvent)
	mux.HandleFunc("GET /ws", hub.HandleWS)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	slog.Info("market API listening", slog.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Quote(time.Now()))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.TickHistory())
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.alerts.Recent())
}

func (s *Server) handleActiveEvent(w http.ResponseWriter, r *http.Request) {
	ev := s.engine.ActiveEvent()
	if ev == nil {
		writeError(w, http.StatusNotFound, domain.ErrNoEvent.Error())
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// triggerEventRequest is the POST /api/event body. An empty body draws a
// random catalog event instead; a malformed body is rejected.
type triggerEventRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	TotalChange float64 `json:"total_change"`
}

func (s *Server) handleTriggerEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}

	if len(bytes.TrimSpace(body)) == 0 {
		ev := s.engine.TriggerRandomEvent()
		if ev == nil {
			writeError(w, http.StatusConflict, "event unavailable: active event or cooldown")
			return
		}
		writeJSON(w, http.StatusCreated, ev)
		return
	}

	var req triggerEventRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "event name required")
		return
	}

	ev, err := s.engine.TriggerEvent(req.Name, req.Description, req.TotalChange)
	if err != nil {
		if errors.Is(err, domain.ErrEventActive) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
