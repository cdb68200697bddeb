package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/attendance/internal/models"
)

func newTestHistoryRecord(sessionID string, finalizedAt time.Time) *models.HistoryRecord {
	return &models.HistoryRecord{
		RecordID:    "rec-" + sessionID,
		SessionID:   sessionID,
		Section:     "CS-A",
		OwnerID:     "teacher-1",
		Date:        finalizedAt.Format(models.DateLayout),
		FinalizedAt: finalizedAt,
	}
}

func TestMemoryArchiveStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryArchiveStore()

	base := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)

	t.Run("append", func(t *testing.T) {
		require.NoError(t, s.Append(ctx, newTestHistoryRecord("sess-1", base)))
		require.NoError(t, s.Append(ctx, newTestHistoryRecord("sess-2", base.Add(time.Hour))))
	})

	t.Run("append is at most once per session", func(t *testing.T) {
		err := s.Append(ctx, newTestHistoryRecord("sess-1", base))
		require.ErrorIs(t, err, ErrAlreadyArchived)
	})

	t.Run("query returns newest first", func(t *testing.T) {
		records, err := s.Query(ctx, "CS-A", "teacher-1")
		require.NoError(t, err)
		require.Len(t, records, 2)
		require.Equal(t, "sess-2", records[0].SessionID)
		require.Equal(t, "sess-1", records[1].SessionID)
	})

	t.Run("query scopes by section and owner", func(t *testing.T) {
		records, err := s.Query(ctx, "CS-B", "teacher-1")
		require.NoError(t, err)
		require.Empty(t, records)

		records, err = s.Query(ctx, "CS-A", "teacher-2")
		require.NoError(t, err)
		require.Empty(t, records)
	})

	t.Run("taken on", func(t *testing.T) {
		taken, err := s.TakenOn(ctx, "CS-A", "teacher-1", base.Format(models.DateLayout))
		require.NoError(t, err)
		require.True(t, taken)

		taken, err = s.TakenOn(ctx, "CS-A", "teacher-1", base.AddDate(0, 0, 1).Format(models.DateLayout))
		require.NoError(t, err)
		require.False(t, taken)
	})
}
