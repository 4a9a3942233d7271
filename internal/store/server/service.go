package server

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lockstep-games/lockstep/internal/models"
	"github.com/lockstep-games/lockstep/internal/store"
)

// codeAlphabet omits characters players confuse when reading a code aloud
// (0/O, 1/I/L).
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const codeLength = 6

// Service exposes the four store verbs over HTTP/JSON.
type Service struct {
	repo      Repository
	publisher Publisher
}

// NewService creates the store service.
func NewService(repo Repository, publisher Publisher) *Service {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Service{repo: repo, publisher: publisher}
}

// Register installs the service routes on mux.
func (s *Service) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions", s.handleCreate)
	mux.HandleFunc("GET /v1/sessions", s.handleList)
	mux.HandleFunc("GET /v1/sessions/{code}", s.handleRead)
	mux.HandleFunc("PUT /v1/sessions/{code}", s.handleUpdate)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
}

func (s *Service) handleCreate(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	record := &models.SessionRecord{
		Code:         newSessionCode(),
		Step:         0,
		Status:       "Session open, waiting for the crew",
		StartedAt:    now,
		Participants: []models.Participant{},
		History:      []models.HistoryEntry{},
		LastStepAt:   now,
		UpdatedAt:    now,
	}
	if err := s.repo.Insert(r.Context(), record); err != nil {
		log.Error().Err(err).Msg("failed to create session")
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	s.emit(r, record, EventSessionCreated)
	log.Info().Str("code", record.Code).Msg("session created")
	writeJSON(w, http.StatusCreated, record)
}

func (s *Service) handleRead(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	record, err := s.repo.Get(r.Context(), code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown session code")
			return
		}
		log.Error().Err(err).Str("code", code).Msg("failed to read session")
		writeError(w, http.StatusInternalServerError, "failed to read session")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Service) handleUpdate(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	var record models.SessionRecord
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		writeError(w, http.StatusBadRequest, "invalid record payload")
		return
	}
	record.Code = code
	record.UpdatedAt = time.Now().UTC()

	if err := s.repo.Put(r.Context(), code, &record); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown session code")
			return
		}
		log.Error().Err(err).Str("code", code).Msg("failed to update session")
		writeError(w, http.StatusInternalServerError, "failed to update session")
		return
	}

	s.emit(r, &record, EventSessionUpdated)
	writeJSON(w, http.StatusOK, &record)
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	records, err := s.repo.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list sessions")
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if records == nil {
		records = []*models.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.repo.RecentEvents(r.Context(), 100)
	if err != nil {
		log.Error().Err(err).Msg("failed to list events")
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []SessionEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// emit records write activity and fans it out. Failures are logged, never
// surfaced: the write itself already succeeded.
func (s *Service) emit(r *http.Request, record *models.SessionRecord, eventType string) {
	payload, err := json.Marshal(record)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event payload")
		return
	}
	event := SessionEvent{
		Code:      record.Code,
		EventType: eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.InsertEvent(r.Context(), event); err != nil {
		log.Error().Err(err).Str("code", record.Code).Msg("failed to record session event")
	}
	if err := s.publisher.Publish(r.Context(), event); err != nil {
		log.Error().Err(err).Str("code", record.Code).Msg("failed to publish session event")
	}
}

func newSessionCode() string {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(fmt.Sprintf("read random bytes: %v", err))
	}
	code := make([]byte, codeLength)
	for i, b := range buf {
		code[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(code)
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
