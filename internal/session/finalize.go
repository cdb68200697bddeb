package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/attendance/internal/models"
	"github.com/wolfeidau/attendance/internal/store"
	"github.com/wolfeidau/attendance/internal/telemetry"
)

// Finalizer snapshots a live session's roster into the permanent archive
// and tears the live session down.
type Finalizer struct {
	sessions store.SessionStore
	archive  store.ArchiveStore
	now      func() time.Time
}

// NewFinalizer creates a finalization service.
func NewFinalizer(sessions store.SessionStore, archive store.ArchiveStore) *Finalizer {
	return &Finalizer{
		sessions: sessions,
		archive:  archive,
		now:      time.Now,
	}
}

// Finalize archives the session's accumulated scans and deletes the live
// record. Works on expired sessions too: whatever accumulated before the
// TTL still gets archived. The delete makes a second call fail with
// store.ErrSessionNotFound, which is the desired terminal behavior.
func (f *Finalizer) Finalize(ctx context.Context, sessionID, section, ownerID string) (*models.HistoryRecord, error) {
	session, err := f.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.OwnerID != ownerID {
		return nil, ErrNotOwner
	}

	record := models.NewHistoryRecord(session, section, ownerID, f.now())

	if err := f.archive.Append(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to archive session: %w", err)
	}

	if err := f.sessions.Delete(ctx, sessionID); err != nil && !errors.Is(err, store.ErrSessionNotFound) {
		// Archived but the live record lingers; the store's cleanup loop
		// will drop it after the grace period.
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to delete live session after archiving")
	}

	telemetry.GetMetrics().SessionsFinalizedTotal.Add(ctx, 1)
	zerolog.Ctx(ctx).Info().
		Str("session_id", sessionID).
		Str("section", section).
		Int("total_scanned", record.TotalScanned).
		Msg("Session finalized")

	return record, nil
}

// History returns the archived records for a section and owner, newest first.
func (f *Finalizer) History(ctx context.Context, section, ownerID string) ([]*models.HistoryRecord, error) {
	return f.archive.Query(ctx, section, ownerID)
}

// TakenToday reports whether attendance was already archived today for the
// section and owner.
func (f *Finalizer) TakenToday(ctx context.Context, section, ownerID string) (bool, error) {
	return f.archive.TakenOn(ctx, section, ownerID, f.now().Format(models.DateLayout))
}
