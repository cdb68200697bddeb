package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/wolfeidau/attendance/internal/auth"
	httpmeta "github.com/wolfeidau/attendance/internal/http"
	"github.com/wolfeidau/attendance/internal/models"
	"github.com/wolfeidau/attendance/internal/qr"
	"github.com/wolfeidau/attendance/internal/session"
)

const roleTeacher = "teacher"

type createSessionRequest struct {
	Section string           `json:"section,omitempty"`
	Anchor  *models.Location `json:"anchorLocation,omitempty"`
}

type createSessionResponse struct {
	Session *models.Session `json:"session"`
	QRData  string          `json:"qrData"`
}

// handleCreateSession starts a new attendance session owned by the caller.
// The anchor location is whatever the client could get; absence just
// disables proximity checking for this session.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	principal, ok := requireRole(w, r, roleTeacher)
	if !ok {
		return
	}

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Code: "BAD_REQUEST"})
		return
	}
	sectionName := req.Section
	if sectionName == "" {
		sectionName = principal.Section
	}
	if sectionName == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "section is required", Code: "BAD_REQUEST"})
		return
	}

	created, err := s.lifecycle.Create(r.Context(), sectionName, principal.ID, req.Anchor)
	if err != nil {
		writeProtocolError(w, r, err)
		return
	}

	qrData, err := qr.Encode(qr.Payload{
		SessionID:  created.SessionID,
		Section:    created.Section,
		ExpiryTime: created.ExpiryTime,
	})
	if err != nil {
		writeProtocolError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createSessionResponse{Session: created, QRData: qrData})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	live, err := s.sessions.Get(r.Context(), mux.Vars(r)["sessionId"])
	if err != nil {
		writeProtocolError(w, r, err)
		return
	}
	if live.OwnerID != principal.ID {
		writeProtocolError(w, r, session.ErrNotOwner)
		return
	}

	writeJSON(w, http.StatusOK, live)
}

type scanRequest struct {
	// QRData is the decoded QR content as the camera produced it: either a
	// JSON object or a bare session id.
	QRData   string           `json:"qrData"`
	Location *models.Location `json:"location,omitempty"`
}

type scanResponse struct {
	Success      bool                 `json:"success"`
	Verification *models.Verification `json:"verification"`
}

// handleScan runs the scan protocol for the authenticated participant.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Code: "BAD_REQUEST"})
		return
	}

	payload, err := qr.Parse(req.QRData)
	if err != nil {
		writeProtocolError(w, r, err)
		return
	}

	participant := session.Participant{
		ID:          principal.ID,
		Email:       principal.Email,
		DisplayName: principal.DisplayName,
		Section:     principal.Section,
	}

	verification, err := s.scanner.Scan(r.Context(), payload.SessionID, participant, req.Location)
	if err != nil {
		zerolog.Ctx(r.Context()).Info().
			Err(err).
			Str("session_id", payload.SessionID).
			Str("participant_id", principal.ID).
			Str("client_ip", httpmeta.ClientIPFromContext(r.Context())).
			Msg("Scan rejected")
		writeProtocolError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, scanResponse{Success: true, Verification: verification})
}

// handleRoster streams full roster snapshots over SSE. Every event carries
// the complete scan list; the client replaces its view wholesale on each.
func (s *Server) handleRoster(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	sessionID := mux.Vars(r)["sessionId"]
	live, err := s.sessions.Get(r.Context(), sessionID)
	if err != nil {
		writeProtocolError(w, r, err)
		return
	}
	if live.OwnerID != principal.ID {
		writeProtocolError(w, r, session.ErrNotOwner)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming unsupported", Code: "INTERNAL"})
		return
	}

	snapshots, err := s.sessions.Watch(r.Context(), sessionID)
	if err != nil {
		writeProtocolError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The channel closes when the client disconnects, the session is
	// finalized, or the store drops the stale session.
	for snapshot := range snapshots {
		data, err := json.Marshal(snapshot)
		if err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("Failed to marshal roster snapshot")
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
}

type finalizeRequest struct {
	Section string `json:"section,omitempty"`
}

// handleFinalize archives the session and tears down the live record.
func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	principal, ok := requireRole(w, r, roleTeacher)
	if !ok {
		return
	}

	var req finalizeRequest
	if r.Body != nil {
		// Body is optional; section defaults to the principal's.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	sectionName := req.Section
	if sectionName == "" {
		sectionName = principal.Section
	}

	record, err := s.finalizer.Finalize(r.Context(), mux.Vars(r)["sessionId"], sectionName, principal.ID)
	if err != nil {
		writeProtocolError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

type historyResponse struct {
	Records []*models.HistoryRecord `json:"records"`
	Count   int                     `json:"count"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	principal, ok := requireRole(w, r, roleTeacher)
	if !ok {
		return
	}

	sectionName := r.URL.Query().Get("section")
	if sectionName == "" {
		sectionName = principal.Section
	}

	records, err := s.finalizer.History(r.Context(), sectionName, principal.ID)
	if err != nil {
		writeProtocolError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, historyResponse{Records: records, Count: len(records)})
}

func (s *Server) handleTakenToday(w http.ResponseWriter, r *http.Request) {
	principal, ok := requireRole(w, r, roleTeacher)
	if !ok {
		return
	}

	sectionName := r.URL.Query().Get("section")
	if sectionName == "" {
		sectionName = principal.Section
	}

	taken, err := s.finalizer.TakenToday(r.Context(), sectionName, principal.ID)
	if err != nil {
		writeProtocolError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"taken": taken})
}

func requirePrincipal(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "not authenticated", Code: "NOT_AUTHENTICATED"})
		return nil, false
	}
	return principal, true
}

func requireRole(w http.ResponseWriter, r *http.Request, role string) (*auth.Principal, bool) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return nil, false
	}
	if principal.Role != role {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "insufficient role", Code: "FORBIDDEN"})
		return nil, false
	}
	return principal, true
}
