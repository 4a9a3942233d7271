package operator

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/lockstep-games/lockstep/internal/models"
	"github.com/lockstep-games/lockstep/internal/store"
)

// Service exposes the operator dashboard over HTTP: session listing, console
// actions, and the live websocket feed.
type Service struct {
	client  store.Client
	console *Console
	hub     *Hub
}

// NewService creates the dashboard service.
func NewService(client store.Client, hub *Hub) *Service {
	return &Service{
		client:  client,
		console: NewConsole(client),
		hub:     hub,
	}
}

// Register installs the dashboard routes on mux.
func (s *Service) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/dashboard/sessions", s.handleList)
	mux.HandleFunc("POST /v1/dashboard/sessions/{code}/command", s.handleCommand)
	mux.HandleFunc("POST /v1/dashboard/sessions/{code}/challenge", s.handleOpenChallenge)
	mux.HandleFunc("DELETE /v1/dashboard/sessions/{code}/challenge", s.handleClearChallenge)
	mux.HandleFunc("POST /v1/dashboard/sessions/{code}/bonus", s.handleBonus)
	mux.HandleFunc("GET /v1/dashboard/feed", s.hub.ServeWS)
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	records, err := s.client.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list sessions for dashboard")
		writeError(w, http.StatusBadGateway, "session store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Service) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind    models.CommandKind `json:"kind"`
		Payload string             `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid command payload")
		return
	}
	if err := s.console.SendCommand(r.Context(), r.PathValue("code"), req.Kind, req.Payload); err != nil {
		s.writeConsoleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleOpenChallenge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind    models.ChallengeKind `json:"kind"`
		Payload string               `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid challenge payload")
		return
	}
	if err := s.console.OpenChallenge(r.Context(), r.PathValue("code"), req.Kind, req.Payload); err != nil {
		s.writeConsoleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleClearChallenge(w http.ResponseWriter, r *http.Request) {
	if err := s.console.ClearChallenge(r.Context(), r.PathValue("code")); err != nil {
		s.writeConsoleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleBonus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Minutes int `json:"minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid bonus payload")
		return
	}
	if err := s.console.AddBonus(r.Context(), r.PathValue("code"), req.Minutes); err != nil {
		s.writeConsoleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) writeConsoleError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown session code")
		return
	}
	log.Error().Err(err).Msg("console action failed")
	writeError(w, http.StatusBadGateway, "session store unreachable")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
