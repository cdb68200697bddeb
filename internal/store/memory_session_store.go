package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/attendance/internal/models"
	"github.com/wolfeidau/attendance/internal/telemetry"
)

// graceAfterExpiry is how long an expired, never-finalized session lingers
// before the cleanup loop drops it.
const graceAfterExpiry = 5 * time.Minute

// MemorySessionStore implements SessionStore using in-memory storage
type MemorySessionStore struct {
	mu sync.RWMutex

	sessions map[string]*models.Session // session ID -> Session
	watchers map[string][]chan []models.ScanRecord

	// Background cleanup
	cleanupTicker *time.Ticker
	stopCleanup   chan bool
}

// NewMemorySessionStore creates a new in-memory session store
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions:    make(map[string]*models.Session),
		watchers:    make(map[string][]chan []models.ScanRecord),
		stopCleanup: make(chan bool),
	}
}

// Start begins background cleanup operations
func (s *MemorySessionStore) Start() error {
	s.cleanupTicker = time.NewTicker(30 * time.Second)
	go s.cleanupLoop()
	return nil
}

// Stop terminates background operations
func (s *MemorySessionStore) Stop() error {
	if s.cleanupTicker != nil {
		s.cleanupTicker.Stop()
	}
	close(s.stopCleanup)
	return nil
}

// cleanupLoop drops sessions that expired and were never finalized
func (s *MemorySessionStore) cleanupLoop() {
	for {
		select {
		case <-s.cleanupTicker.C:
			s.cleanupStaleSessions()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanupStaleSessions removes sessions past TTL plus grace, closing any
// roster streams still attached to them
func (s *MemorySessionStore) cleanupStaleSessions() {
	s.mu.Lock()

	now := time.Now().UnixMilli()
	var closing []chan []models.ScanRecord
	for sessionID, session := range s.sessions {
		if now > session.ExpiryTime+graceAfterExpiry.Milliseconds() {
			delete(s.sessions, sessionID)
			closing = append(closing, s.watchers[sessionID]...)
			delete(s.watchers, sessionID)
			log.Debug().Str("session_id", sessionID).Msg("Dropped stale session")
		}
	}
	s.mu.Unlock()

	for _, ch := range closing {
		close(ch)
	}
}

// Create stores a new session record
func (s *MemorySessionStore) Create(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.SessionID]; exists {
		return ErrSessionExists
	}

	s.sessions[session.SessionID] = session.Clone()
	return nil
}

// Get returns a copy of the session by ID
func (s *MemorySessionStore) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}

	return session.Clone(), nil
}

// PutScan writes a scan record under the participant's own key. A second
// write for the same participant replaces the first.
func (s *MemorySessionStore) PutScan(ctx context.Context, sessionID string, record models.ScanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return ErrSessionNotFound
	}

	session.Scans[record.ParticipantID] = record
	s.fanoutSnapshot(sessionID, snapshotScans(session))
	return nil
}

// SetActive flips the session's active flag
func (s *MemorySessionStore) SetActive(ctx context.Context, sessionID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return ErrSessionNotFound
	}

	session.Active = active
	return nil
}

// Delete removes the session and ends any roster streams attached to it
func (s *MemorySessionStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()

	if _, exists := s.sessions[sessionID]; !exists {
		s.mu.Unlock()
		return ErrSessionNotFound
	}

	delete(s.sessions, sessionID)
	closing := s.watchers[sessionID]
	delete(s.watchers, sessionID)
	s.mu.Unlock()

	for _, ch := range closing {
		close(ch)
	}
	return nil
}

// Watch creates a roster snapshot stream for a session
func (s *MemorySessionStore) Watch(ctx context.Context, sessionID string) (<-chan []models.ScanRecord, error) {
	s.mu.Lock()

	session, exists := s.sessions[sessionID]
	if !exists {
		s.mu.Unlock()
		return nil, ErrSessionNotFound
	}

	snapshotChan := make(chan []models.ScanRecord, 16)
	s.watchers[sessionID] = append(s.watchers[sessionID], snapshotChan)

	// Current state first, so consumers can render before any change arrives.
	snapshotChan <- snapshotScans(session)
	s.mu.Unlock()

	telemetry.GetMetrics().ActiveRosterStreams.Add(ctx, 1)

	go func() {
		<-ctx.Done()
		// Only the remover closes the channel; Delete or cleanup may have
		// raced ahead and closed it already.
		if s.removeWatcher(sessionID, snapshotChan) {
			close(snapshotChan)
		}
		telemetry.GetMetrics().ActiveRosterStreams.Add(context.Background(), -1)
	}()

	return snapshotChan, nil
}

// removeWatcher detaches a stream from a session, reporting whether it was
// still attached
func (s *MemorySessionStore) removeWatcher(sessionID string, snapshotChan chan []models.ScanRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	watchers := s.watchers[sessionID]
	for i, ch := range watchers {
		if ch == snapshotChan {
			s.watchers[sessionID] = append(watchers[:i], watchers[i+1:]...)
			return true
		}
	}
	return false
}

// fanoutSnapshot sends a roster snapshot to all active streams for a session.
// Caller must hold the lock.
func (s *MemorySessionStore) fanoutSnapshot(sessionID string, snapshot []models.ScanRecord) {
	for _, ch := range s.watchers[sessionID] {
		select {
		case ch <- snapshot:
		default:
			// Channel full, skip this stream - consumers replace full state
			// on the next snapshot so a drop is recoverable
			telemetry.GetMetrics().RosterSnapshotsDroppedTotal.Add(context.Background(), 1)
			log.Warn().Str("session_id", sessionID).Msg("Roster stream full, dropping snapshot")
		}
	}
}

// snapshotScans flattens the scans map into a stable slice ordered by scan
// time then participant id
func snapshotScans(session *models.Session) []models.ScanRecord {
	scans := make([]models.ScanRecord, 0, len(session.Scans))
	for _, rec := range session.Scans {
		scans = append(scans, rec)
	}
	sort.Slice(scans, func(i, j int) bool {
		if scans[i].ScannedAt != scans[j].ScannedAt {
			return scans[i].ScannedAt < scans[j].ScannedAt
		}
		return scans[i].ParticipantID < scans[j].ParticipantID
	})
	return scans
}
