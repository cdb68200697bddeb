package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/attendance/internal/auth"
	"github.com/wolfeidau/attendance/internal/models"
	"github.com/wolfeidau/attendance/internal/session"
	"github.com/wolfeidau/attendance/internal/store"
)

var testAnchor = &models.Location{Latitude: 10.0, Longitude: 20.0}

type testHarness struct {
	ts       *httptest.Server
	sessions *store.MemorySessionStore
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	sessions := store.NewMemorySessionStore()
	archive := store.NewMemoryArchiveStore()
	expirer := session.NewExpirer(sessions)
	t.Cleanup(expirer.Stop)

	srv := New(sessions,
		session.NewLifecycle(sessions, expirer),
		session.NewScanner(sessions, nil),
		session.NewFinalizer(sessions, archive))

	ts := httptest.NewServer(srv.Routes(auth.NoAuthMiddleware()))
	t.Cleanup(ts.Close)

	return &testHarness{ts: ts, sessions: sessions}
}

type principalHeaders struct {
	ID      string
	Section string
	Role    string
}

var (
	asTeacher      = principalHeaders{ID: "teacher-1", Section: "CS-A", Role: "teacher"}
	asOtherTeacher = principalHeaders{ID: "teacher-2", Section: "CS-A", Role: "teacher"}
	asStudent      = principalHeaders{ID: "student-1", Section: "CS-A", Role: "student"}
)

func (h *testHarness) do(t *testing.T, method, path string, who principalHeaders, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	} else {
		buf.WriteString("{}")
	}

	req, err := http.NewRequest(method, h.ts.URL+path, &buf)
	require.NoError(t, err)
	if who.ID != "" {
		req.Header.Set("X-Principal-Id", who.ID)
		req.Header.Set("X-Section", who.Section)
		req.Header.Set("X-Role", who.Role)
	}

	res, err := h.ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func decodeBody[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&v))
	return v
}

func (h *testHarness) createSession(t *testing.T, anchor *models.Location) createSessionResponse {
	t.Helper()
	res := h.do(t, http.MethodPost, "/api/v1/sessions", asTeacher, createSessionRequest{Anchor: anchor})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	return decodeBody[createSessionResponse](t, res)
}

func TestHealth(t *testing.T) {
	h := newTestHarness(t)

	res, err := h.ts.Client().Get(h.ts.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
}

func TestCreateSession(t *testing.T) {
	h := newTestHarness(t)

	t.Run("teacher creates a session", func(t *testing.T) {
		created := h.createSession(t, testAnchor)
		require.NotEmpty(t, created.Session.SessionID)
		require.Equal(t, "CS-A", created.Session.Section)
		require.Equal(t, "teacher-1", created.Session.OwnerID)
		require.True(t, created.Session.Active)
		require.Contains(t, created.QRData, created.Session.SessionID)
	})

	t.Run("students may not create sessions", func(t *testing.T) {
		res := h.do(t, http.MethodPost, "/api/v1/sessions", asStudent, nil)
		require.Equal(t, http.StatusForbidden, res.StatusCode)
	})

	t.Run("no principal", func(t *testing.T) {
		res := h.do(t, http.MethodPost, "/api/v1/sessions", principalHeaders{}, nil)
		require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	})
}

func TestGetSession(t *testing.T) {
	h := newTestHarness(t)
	created := h.createSession(t, testAnchor)

	t.Run("owner reads the live session", func(t *testing.T) {
		res := h.do(t, http.MethodGet, "/api/v1/sessions/"+created.Session.SessionID, asTeacher, nil)
		require.Equal(t, http.StatusOK, res.StatusCode)

		got := decodeBody[models.Session](t, res)
		require.Equal(t, created.Session.SessionID, got.SessionID)
	})

	t.Run("other owners are rejected", func(t *testing.T) {
		res := h.do(t, http.MethodGet, "/api/v1/sessions/"+created.Session.SessionID, asOtherTeacher, nil)
		require.Equal(t, http.StatusForbidden, res.StatusCode)
		require.Equal(t, "NOT_OWNER", decodeBody[errorResponse](t, res).Code)
	})

	t.Run("unknown session", func(t *testing.T) {
		res := h.do(t, http.MethodGet, "/api/v1/sessions/missing", asTeacher, nil)
		require.Equal(t, http.StatusNotFound, res.StatusCode)
	})
}

func TestScan(t *testing.T) {
	h := newTestHarness(t)
	created := h.createSession(t, testAnchor)

	near := &models.Location{Latitude: 10.000045, Longitude: 20.0}
	far := &models.Location{Latitude: 10.000135, Longitude: 20.0}

	t.Run("in-range scan succeeds", func(t *testing.T) {
		res := h.do(t, http.MethodPost, "/api/v1/scan", asStudent, scanRequest{QRData: created.QRData, Location: near})
		require.Equal(t, http.StatusOK, res.StatusCode)

		got := decodeBody[scanResponse](t, res)
		require.True(t, got.Success)
		require.True(t, got.Verification.Verified)
	})

	t.Run("bare session id payload works too", func(t *testing.T) {
		res := h.do(t, http.MethodPost, "/api/v1/scan", asStudent, scanRequest{QRData: created.Session.SessionID, Location: near})
		require.Equal(t, http.StatusOK, res.StatusCode)
	})

	t.Run("empty payload", func(t *testing.T) {
		res := h.do(t, http.MethodPost, "/api/v1/scan", asStudent, scanRequest{QRData: "  "})
		require.Equal(t, http.StatusBadRequest, res.StatusCode)
		require.Equal(t, "INVALID_PAYLOAD", decodeBody[errorResponse](t, res).Code)
	})

	t.Run("unknown session", func(t *testing.T) {
		res := h.do(t, http.MethodPost, "/api/v1/scan", asStudent, scanRequest{QRData: "nonexistent", Location: near})
		require.Equal(t, http.StatusNotFound, res.StatusCode)
	})

	t.Run("section mismatch carries both sections", func(t *testing.T) {
		other := asStudent
		other.Section = "CS-B"
		res := h.do(t, http.MethodPost, "/api/v1/scan", other, scanRequest{QRData: created.QRData, Location: near})
		require.Equal(t, http.StatusConflict, res.StatusCode)

		got := decodeBody[errorResponse](t, res)
		require.Equal(t, "SECTION_MISMATCH", got.Code)
		require.Equal(t, "CS-A", got.SessionSection)
		require.Equal(t, "CS-B", got.ParticipantSection)
	})

	t.Run("out of range carries the distance", func(t *testing.T) {
		res := h.do(t, http.MethodPost, "/api/v1/scan", asStudent, scanRequest{QRData: created.QRData, Location: far})
		require.Equal(t, http.StatusForbidden, res.StatusCode)

		got := decodeBody[errorResponse](t, res)
		require.Equal(t, "LOCATION_OUT_OF_RANGE", got.Code)
		require.NotNil(t, got.Distance)
		require.InDelta(t, 15.0, *got.Distance, 0.1)
		require.Equal(t, 10.0, got.MaxDistance)
	})
}

func TestRosterStream(t *testing.T) {
	h := newTestHarness(t)
	created := h.createSession(t, testAnchor)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		h.ts.URL+"/api/v1/sessions/"+created.Session.SessionID+"/roster", nil)
	require.NoError(t, err)
	req.Header.Set("X-Principal-Id", asTeacher.ID)
	req.Header.Set("X-Section", asTeacher.Section)
	req.Header.Set("X-Role", asTeacher.Role)

	res, err := h.ts.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(res.Body)
	readEvent := func() []models.ScanRecord {
		t.Helper()
		for scanner.Scan() {
			line := scanner.Text()
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				var snapshot []models.ScanRecord
				require.NoError(t, json.Unmarshal([]byte(data), &snapshot))
				return snapshot
			}
		}
		t.Fatalf("no event before stream end: %v", scanner.Err())
		return nil
	}

	// Initial snapshot is the empty roster
	require.Empty(t, readEvent())

	// A scan shows up as a fresh full snapshot
	require.NoError(t, h.sessions.PutScan(context.Background(), created.Session.SessionID, models.ScanRecord{
		ParticipantID: "student-1",
		ScannedAt:     time.Now().UnixMilli(),
	}))

	snapshot := readEvent()
	require.Len(t, snapshot, 1)
	require.Equal(t, "student-1", snapshot[0].ParticipantID)
}

func TestFinalize(t *testing.T) {
	h := newTestHarness(t)
	created := h.createSession(t, testAnchor)
	sessionID := created.Session.SessionID

	near := &models.Location{Latitude: 10.000045, Longitude: 20.0}
	res := h.do(t, http.MethodPost, "/api/v1/scan", asStudent, scanRequest{QRData: created.QRData, Location: near})
	require.Equal(t, http.StatusOK, res.StatusCode)

	t.Run("non-owner may not finalize", func(t *testing.T) {
		res := h.do(t, http.MethodPost, fmt.Sprintf("/api/v1/sessions/%s/finalize", sessionID), asOtherTeacher, nil)
		require.Equal(t, http.StatusForbidden, res.StatusCode)
		require.Equal(t, "NOT_OWNER", decodeBody[errorResponse](t, res).Code)
	})

	t.Run("owner finalizes", func(t *testing.T) {
		res := h.do(t, http.MethodPost, fmt.Sprintf("/api/v1/sessions/%s/finalize", sessionID), asTeacher, nil)
		require.Equal(t, http.StatusOK, res.StatusCode)

		record := decodeBody[models.HistoryRecord](t, res)
		require.Equal(t, sessionID, record.SessionID)
		require.Equal(t, 1, record.TotalScanned)
		require.Equal(t, 1, record.LocationStats.Verified)
		require.True(t, record.LocationVerificationEnabled)
	})

	t.Run("second finalize is not found", func(t *testing.T) {
		res := h.do(t, http.MethodPost, fmt.Sprintf("/api/v1/sessions/%s/finalize", sessionID), asTeacher, nil)
		require.Equal(t, http.StatusNotFound, res.StatusCode)
		require.Equal(t, "SESSION_NOT_FOUND", decodeBody[errorResponse](t, res).Code)
	})

	t.Run("history includes the record", func(t *testing.T) {
		res := h.do(t, http.MethodGet, "/api/v1/history", asTeacher, nil)
		require.Equal(t, http.StatusOK, res.StatusCode)

		got := decodeBody[historyResponse](t, res)
		require.Equal(t, 1, got.Count)
		require.Equal(t, sessionID, got.Records[0].SessionID)
	})

	t.Run("taken today", func(t *testing.T) {
		res := h.do(t, http.MethodGet, "/api/v1/history/today", asTeacher, nil)
		require.Equal(t, http.StatusOK, res.StatusCode)
		require.True(t, decodeBody[map[string]bool](t, res)["taken"])
	})

	t.Run("students may not read history", func(t *testing.T) {
		res := h.do(t, http.MethodGet, "/api/v1/history", asStudent, nil)
		require.Equal(t, http.StatusForbidden, res.StatusCode)
	})
}

func TestScanExpiredSession(t *testing.T) {
	h := newTestHarness(t)

	// Plant a session whose deadline already passed but whose deactivation
	// timer has not fired.
	now := time.Now()
	expired := &models.Session{
		SessionID:  "expired-1",
		Section:    "CS-A",
		OwnerID:    "teacher-1",
		CreatedAt:  now.Add(-time.Minute).UnixMilli(),
		ExpiryTime: now.Add(-30 * time.Second).UnixMilli(),
		Active:     true,
		Scans:      make(map[string]models.ScanRecord),
	}
	require.NoError(t, h.sessions.Create(context.Background(), expired))

	res := h.do(t, http.MethodPost, "/api/v1/scan", asStudent, scanRequest{QRData: "expired-1"})
	require.Equal(t, http.StatusGone, res.StatusCode)
	require.Equal(t, "SESSION_EXPIRED", decodeBody[errorResponse](t, res).Code)
}
