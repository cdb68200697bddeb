package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/wolfeidau/attendance/internal/qr"
	"github.com/wolfeidau/attendance/internal/session"
	"github.com/wolfeidau/attendance/internal/store"
)

// Server exposes the attendance protocol over a JSON HTTP API for the
// mobile clients.
type Server struct {
	sessions  store.SessionStore
	lifecycle *session.Lifecycle
	scanner   *session.Scanner
	finalizer *session.Finalizer
}

// New creates a server wired to the protocol services.
func New(sessions store.SessionStore, lifecycle *session.Lifecycle, scanner *session.Scanner, finalizer *session.Finalizer) *Server {
	return &Server{
		sessions:  sessions,
		lifecycle: lifecycle,
		scanner:   scanner,
		finalizer: finalizer,
	}
}

// Routes builds the router. authMiddleware guards everything under /api;
// the health endpoint stays open for load balancer probes.
func (s *Server) Routes(authMiddleware func(http.Handler) http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(mux.MiddlewareFunc(authMiddleware))
	api.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{sessionId}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{sessionId}/roster", s.handleRoster).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{sessionId}/finalize", s.handleFinalize).Methods(http.MethodPost)
	api.HandleFunc("/scan", s.handleScan).Methods(http.MethodPost)
	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/history/today", s.handleTakenToday).Methods(http.MethodGet)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// errorResponse is the JSON error shape. Detail fields carry the structured
// context the typed errors accumulate so clients can explain the failure.
type errorResponse struct {
	Error              string   `json:"error"`
	Code               string   `json:"code"`
	SessionSection     string   `json:"sessionSection,omitempty"`
	ParticipantSection string   `json:"participantSection,omitempty"`
	Distance           *float64 `json:"distance,omitempty"`
	MaxDistance        float64  `json:"maxDistance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeProtocolError maps the protocol error taxonomy onto HTTP statuses,
// carrying structured detail instead of a bare message.
func writeProtocolError(w http.ResponseWriter, r *http.Request, err error) {
	var sectionErr *session.SectionMismatchError
	var rangeErr *session.OutOfRangeError

	switch {
	case errors.Is(err, qr.ErrInvalidPayload):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "INVALID_PAYLOAD"})
	case errors.Is(err, store.ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Code: "SESSION_NOT_FOUND"})
	case errors.Is(err, session.ErrSessionExpired):
		writeJSON(w, http.StatusGone, errorResponse{Error: err.Error(), Code: "SESSION_EXPIRED"})
	case errors.Is(err, session.ErrNotOwner):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: err.Error(), Code: "NOT_OWNER"})
	case errors.As(err, &sectionErr):
		writeJSON(w, http.StatusConflict, errorResponse{
			Error:              err.Error(),
			Code:               "SECTION_MISMATCH",
			SessionSection:     sectionErr.SessionSection,
			ParticipantSection: sectionErr.ParticipantSection,
		})
	case errors.As(err, &rangeErr):
		writeJSON(w, http.StatusForbidden, errorResponse{
			Error:       err.Error(),
			Code:        "LOCATION_OUT_OF_RANGE",
			Distance:    rangeErr.Distance,
			MaxDistance: rangeErr.MaxDistance,
		})
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Code: "INTERNAL"})
	}
}
