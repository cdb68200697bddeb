package session

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/wolfeidau/attendance/internal/geo"
	"github.com/wolfeidau/attendance/internal/models"
	"github.com/wolfeidau/attendance/internal/store"
	"github.com/wolfeidau/attendance/internal/telemetry"
)

// Participant identifies an authenticated scanner. The identity layer fills
// this in; the protocol never sees unauthenticated participants.
type Participant struct {
	ID          string
	Email       string
	DisplayName string
	Section     string
}

// Scanner runs the scan protocol: validate the session, gate on proximity,
// write the participant's record under its own key. Concurrent scans from
// different participants never touch the same key, and a participant racing
// with themselves converges to a single record.
type Scanner struct {
	sessions       store.SessionStore
	maxDistanceFor func(section string) float64
	now            func() time.Time
}

// NewScanner creates a scanner with a per-section distance threshold.
// Pass nil to use the default threshold everywhere.
func NewScanner(sessions store.SessionStore, maxDistanceFor func(section string) float64) *Scanner {
	if maxDistanceFor == nil {
		maxDistanceFor = func(string) float64 { return geo.DefaultMaxDistanceMeters }
	}
	return &Scanner{
		sessions:       sessions,
		maxDistanceFor: maxDistanceFor,
		now:            time.Now,
	}
}

// Scan registers a participant's presence against a session. All rejections
// are terminal for this attempt; the protocol never retries, re-invoking is
// safe because the write is idempotent per participant.
func (s *Scanner) Scan(ctx context.Context, sessionID string, participant Participant, location *models.Location) (*models.Verification, error) {
	metrics := telemetry.GetMetrics()

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		metrics.ScansRejectedTotal.Add(ctx, 1)
		return nil, err
	}

	now := s.now()

	if !session.Active {
		metrics.ScansRejectedTotal.Add(ctx, 1)
		return nil, ErrSessionExpired
	}
	// The deactivation timer fires asynchronously and may lag; the deadline
	// itself is authoritative.
	if session.IsExpired(now) {
		metrics.ScansRejectedTotal.Add(ctx, 1)
		return nil, ErrSessionExpired
	}

	if session.Section != participant.Section {
		metrics.ScansRejectedTotal.Add(ctx, 1)
		return nil, &SectionMismatchError{
			SessionSection:     session.Section,
			ParticipantSection: participant.Section,
		}
	}

	maxDistance := s.maxDistanceFor(session.Section)
	verification := geo.Verify(session.Anchor, location, maxDistance)

	// Proximity is opt-in: a session without an anchor accepts every
	// in-section scan, the verification just records why it is unverified.
	if session.Anchor != nil && !verification.Verified {
		metrics.ScansRejectedTotal.Add(ctx, 1)
		return nil, &OutOfRangeError{Distance: verification.Distance, MaxDistance: maxDistance}
	}

	record := models.ScanRecord{
		ParticipantID: participant.ID,
		Email:         participant.Email,
		DisplayName:   participant.DisplayName,
		Section:       participant.Section,
		ScannedAt:     now.UnixMilli(),
		Location:      location,
		Verification:  &verification,
	}

	if err := s.sessions.PutScan(ctx, sessionID, record); err != nil {
		metrics.ScansRejectedTotal.Add(ctx, 1)
		return nil, fmt.Errorf("failed to record scan: %w", err)
	}

	metrics.ScansAcceptedTotal.Add(ctx, 1)
	zerolog.Ctx(ctx).Info().
		Str("session_id", sessionID).
		Str("participant_id", participant.ID).
		Bool("verified", verification.Verified).
		Msg("Scan recorded")

	return &verification, nil
}
