package store

import (
	"context"
	"errors"

	"github.com/wolfeidau/attendance/internal/models"
)

// Sentinel errors for common error conditions
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
	ErrAlreadyArchived = errors.New("session already archived")
)

// SessionStore is the shared live store that a session owner and its
// concurrent scanners coordinate through. Writes are per-key: PutScan calls
// for different participants touch distinct keys and never conflict, and a
// retry by the same participant overwrites its own record.
type SessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, sessionID string) (*models.Session, error)
	PutScan(ctx context.Context, sessionID string, record models.ScanRecord) error
	SetActive(ctx context.Context, sessionID string, active bool) error
	Delete(ctx context.Context, sessionID string) error

	// Watch streams full roster snapshots for a session: the complete scan
	// list on every change, never a diff, starting with the current state.
	// The channel closes when ctx is cancelled or the session is deleted.
	Watch(ctx context.Context, sessionID string) (<-chan []models.ScanRecord, error)
}

// ArchiveStore is the permanent attendance history.
type ArchiveStore interface {
	// Append persists a finalized record. Returns ErrAlreadyArchived when a
	// record for the same session id already exists.
	Append(ctx context.Context, record *models.HistoryRecord) error

	// Query returns all records for a section and owner, newest first.
	Query(ctx context.Context, section, ownerID string) ([]*models.HistoryRecord, error)

	// TakenOn reports whether attendance was archived for the given
	// section, owner and calendar day.
	TakenOn(ctx context.Context, section, ownerID, date string) (bool, error)
}
