//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/wolfeidau/attendance/internal/models"
	"github.com/wolfeidau/attendance/internal/store"
)

func setupPostgresContainer(t *testing.T, ctx context.Context) (*ArchiveStore, func()) {
	// Start postgres container
	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	connString := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	// Create store with auto-migrate enabled
	cfg := &ArchiveStoreConfig{
		Pool:        &PoolConfig{ConnString: connString},
		AutoMigrate: true,
	}

	archive, err := NewArchiveStore(ctx, cfg)
	require.NoError(t, err)

	cleanup := func() {
		archive.Close()
		_ = container.Terminate(ctx)
	}

	return archive, cleanup
}

func testHistoryRecord(sessionID string, finalizedAt time.Time) *models.HistoryRecord {
	distance := 4.52
	return &models.HistoryRecord{
		RecordID:    uuid.Must(uuid.NewV7()).String(),
		SessionID:   sessionID,
		Section:     "CS-A",
		OwnerID:     "teacher-1",
		Date:        finalizedAt.Format(models.DateLayout),
		FinalizedAt: finalizedAt,
		Anchor:      &models.Location{Latitude: 10.0, Longitude: 20.0},
		Scans: []models.ScanRecord{
			{
				ParticipantID: "student-1",
				Email:         "student-1@example.edu",
				Section:       "CS-A",
				ScannedAt:     finalizedAt.Add(-10 * time.Second).UnixMilli(),
				Verification:  &models.Verification{Verified: true, Distance: &distance, Reason: "Within range"},
			},
			{
				ParticipantID: "student-2",
				Section:       "CS-A",
				ScannedAt:     finalizedAt.Add(-5 * time.Second).UnixMilli(),
			},
		},
		TotalScanned:                2,
		LocationStats:               models.LocationStats{Verified: 1, NoLocation: 1},
		LocationVerificationEnabled: true,
	}
}

func TestIntegration_ArchiveLifecycle(t *testing.T) {
	ctx := context.Background()
	archive, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	finalizedAt := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("append and query", func(t *testing.T) {
		record := testHistoryRecord("sess-1", finalizedAt)
		require.NoError(t, archive.Append(ctx, record))

		records, err := archive.Query(ctx, "CS-A", "teacher-1")
		require.NoError(t, err)
		require.Len(t, records, 1)

		got := records[0]
		require.Equal(t, record.RecordID, got.RecordID)
		require.Equal(t, "sess-1", got.SessionID)
		require.Equal(t, record.Date, got.Date)
		require.Equal(t, 2, got.TotalScanned)
		require.True(t, got.LocationVerificationEnabled)
		require.NotNil(t, got.Anchor)
		require.Equal(t, 10.0, got.Anchor.Latitude)

		require.Len(t, got.Scans, 2)
		require.Equal(t, "student-1", got.Scans[0].ParticipantID)
		require.NotNil(t, got.Scans[0].Verification)
		require.True(t, got.Scans[0].Verification.Verified)
		require.Nil(t, got.Scans[1].Verification)

		require.Equal(t, 1, got.LocationStats.Verified)
		require.Equal(t, 1, got.LocationStats.NoLocation)
	})

	t.Run("duplicate session append is rejected", func(t *testing.T) {
		record := testHistoryRecord("sess-1", finalizedAt)
		err := archive.Append(ctx, record)
		require.ErrorIs(t, err, store.ErrAlreadyArchived)
	})

	t.Run("query orders newest first", func(t *testing.T) {
		require.NoError(t, archive.Append(ctx, testHistoryRecord("sess-2", finalizedAt.Add(time.Hour))))

		records, err := archive.Query(ctx, "CS-A", "teacher-1")
		require.NoError(t, err)
		require.Len(t, records, 2)
		require.Equal(t, "sess-2", records[0].SessionID)
		require.Equal(t, "sess-1", records[1].SessionID)
	})

	t.Run("query scopes by section and owner", func(t *testing.T) {
		records, err := archive.Query(ctx, "CS-B", "teacher-1")
		require.NoError(t, err)
		require.Empty(t, records)

		records, err = archive.Query(ctx, "CS-A", "teacher-2")
		require.NoError(t, err)
		require.Empty(t, records)
	})

	t.Run("taken on", func(t *testing.T) {
		taken, err := archive.TakenOn(ctx, "CS-A", "teacher-1", finalizedAt.Format(models.DateLayout))
		require.NoError(t, err)
		require.True(t, taken)

		taken, err = archive.TakenOn(ctx, "CS-A", "teacher-1", finalizedAt.AddDate(0, 0, 2).Format(models.DateLayout))
		require.NoError(t, err)
		require.False(t, taken)
	})

	t.Run("record without anchor round trips", func(t *testing.T) {
		record := testHistoryRecord("sess-3", finalizedAt.Add(2*time.Hour))
		record.Anchor = nil
		record.LocationVerificationEnabled = false
		require.NoError(t, archive.Append(ctx, record))

		records, err := archive.Query(ctx, "CS-A", "teacher-1")
		require.NoError(t, err)
		require.Equal(t, "sess-3", records[0].SessionID)
		require.Nil(t, records[0].Anchor)
		require.False(t, records[0].LocationVerificationEnabled)
	})
}
