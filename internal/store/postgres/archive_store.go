package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/attendance/internal/models"
)

// ArchiveStoreConfig holds configuration for the PostgreSQL archive store.
type ArchiveStoreConfig struct {
	Pool *PoolConfig

	// AutoMigrate runs database migrations on startup.
	AutoMigrate bool
}

// ArchiveStore implements store.ArchiveStore using PostgreSQL. Scan records
// and stats are stored as JSONB; a unique index on session_id enforces the
// at-most-once archive invariant.
type ArchiveStore struct {
	pool *pgxpool.Pool
}

// NewArchiveStore creates a PostgreSQL-backed archive store, optionally
// running migrations first.
func NewArchiveStore(ctx context.Context, cfg *ArchiveStoreConfig) (*ArchiveStore, error) {
	pool, err := NewPool(ctx, cfg.Pool)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := runMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return &ArchiveStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *ArchiveStore) Close() {
	s.pool.Close()
}

// Append persists a finalized record. Returns store.ErrAlreadyArchived when
// a record for the same session id already exists.
func (s *ArchiveStore) Append(ctx context.Context, record *models.HistoryRecord) error {
	scans, err := json.Marshal(record.Scans)
	if err != nil {
		return fmt.Errorf("failed to marshal scans: %w", err)
	}
	stats, err := json.Marshal(record.LocationStats)
	if err != nil {
		return fmt.Errorf("failed to marshal location stats: %w", err)
	}
	var anchor []byte
	if record.Anchor != nil {
		if anchor, err = json.Marshal(record.Anchor); err != nil {
			return fmt.Errorf("failed to marshal anchor location: %w", err)
		}
	}

	query := `
		INSERT INTO attendance_history (
			record_id, session_id, section, owner_id,
			date, finalized_at, anchor_location,
			total_scanned, scans, location_stats,
			location_verification_enabled
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	_, err = s.pool.Exec(ctx, query,
		record.RecordID,
		record.SessionID,
		record.Section,
		record.OwnerID,
		record.Date,
		record.FinalizedAt,
		anchor,
		record.TotalScanned,
		scans,
		stats,
		record.LocationVerificationEnabled,
	)
	if err != nil {
		return mapPostgresError(err)
	}

	log.Debug().
		Str("record_id", record.RecordID).
		Str("session_id", record.SessionID).
		Int("total_scanned", record.TotalScanned).
		Msg("Archived attendance record")

	return nil
}

// Query returns all records for a section and owner, newest first.
func (s *ArchiveStore) Query(ctx context.Context, section, ownerID string) ([]*models.HistoryRecord, error) {
	query := `
		SELECT
			record_id, session_id, section, owner_id,
			date, finalized_at, anchor_location,
			total_scanned, scans, location_stats,
			location_verification_enabled
		FROM attendance_history
		WHERE section = $1 AND owner_id = $2
		ORDER BY finalized_at DESC
	`

	rows, err := s.pool.Query(ctx, query, section, ownerID)
	if err != nil {
		return nil, mapPostgresError(err)
	}
	defer rows.Close()

	var records []*models.HistoryRecord
	for rows.Next() {
		record, err := scanHistoryRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPostgresError(err)
	}

	return records, nil
}

// TakenOn reports whether attendance was archived for the given section,
// owner and calendar day.
func (s *ArchiveStore) TakenOn(ctx context.Context, section, ownerID, date string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM attendance_history
			WHERE section = $1 AND owner_id = $2 AND date = $3
		)
	`

	var taken bool
	if err := s.pool.QueryRow(ctx, query, section, ownerID, date).Scan(&taken); err != nil {
		return false, mapPostgresError(err)
	}
	return taken, nil
}

// scanHistoryRow decodes one attendance_history row, unmarshalling the
// JSONB columns back into their model shapes.
func scanHistoryRow(scan func(dest ...any) error) (*models.HistoryRecord, error) {
	var record models.HistoryRecord
	var anchor, scans, stats []byte

	err := scan(
		&record.RecordID,
		&record.SessionID,
		&record.Section,
		&record.OwnerID,
		&record.Date,
		&record.FinalizedAt,
		&anchor,
		&record.TotalScanned,
		&scans,
		&stats,
		&record.LocationVerificationEnabled,
	)
	if err != nil {
		return nil, mapPostgresError(err)
	}

	if len(anchor) > 0 {
		record.Anchor = &models.Location{}
		if err := json.Unmarshal(anchor, record.Anchor); err != nil {
			return nil, fmt.Errorf("failed to unmarshal anchor location: %w", err)
		}
	}
	if err := json.Unmarshal(scans, &record.Scans); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scans: %w", err)
	}
	if err := json.Unmarshal(stats, &record.LocationStats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal location stats: %w", err)
	}

	return &record, nil
}
