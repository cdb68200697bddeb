package store

import (
	"context"
	"sort"
	"sync"

	"github.com/wolfeidau/attendance/internal/models"
)

// MemoryArchiveStore implements ArchiveStore using in-memory storage. Used
// in development and tests; production runs the postgres archive.
type MemoryArchiveStore struct {
	mu        sync.RWMutex
	records   []*models.HistoryRecord
	bySession map[string]*models.HistoryRecord
}

// NewMemoryArchiveStore creates a new in-memory archive store
func NewMemoryArchiveStore() *MemoryArchiveStore {
	return &MemoryArchiveStore{
		bySession: make(map[string]*models.HistoryRecord),
	}
}

// Append persists a finalized record, at most once per session
func (s *MemoryArchiveStore) Append(ctx context.Context, record *models.HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bySession[record.SessionID]; exists {
		return ErrAlreadyArchived
	}

	s.records = append(s.records, record)
	s.bySession[record.SessionID] = record
	return nil
}

// Query returns records for a section and owner, newest first
func (s *MemoryArchiveStore) Query(ctx context.Context, section, ownerID string) ([]*models.HistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*models.HistoryRecord
	for _, rec := range s.records {
		if rec.Section == section && rec.OwnerID == ownerID {
			results = append(results, rec)
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].FinalizedAt.After(results[j].FinalizedAt)
	})
	return results, nil
}

// TakenOn reports whether attendance was archived for the given day
func (s *MemoryArchiveStore) TakenOn(ctx context.Context, section, ownerID, date string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.records {
		if rec.Section == section && rec.OwnerID == ownerID && rec.Date == date {
			return true, nil
		}
	}
	return false, nil
}
