package session

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/wolfeidau/attendance/internal/models"
	"github.com/wolfeidau/attendance/internal/store"
	"github.com/wolfeidau/attendance/internal/telemetry"
)

// TTL is the fixed time-to-live of every session.
const TTL = 30 * time.Second

// Lifecycle creates sessions and arms their deferred deactivation.
type Lifecycle struct {
	sessions store.SessionStore
	expirer  *Expirer
	now      func() time.Time
}

// NewLifecycle creates a session lifecycle manager.
func NewLifecycle(sessions store.SessionStore, expirer *Expirer) *Lifecycle {
	return &Lifecycle{
		sessions: sessions,
		expirer:  expirer,
		now:      time.Now,
	}
}

// Create writes a new active session with an empty roster and schedules its
// deactivation at TTL. The anchor may be nil when the creator had no
// location available; scans against such a session skip proximity checks.
// The call returns as soon as the store write lands, it never waits for the
// TTL.
func (l *Lifecycle) Create(ctx context.Context, section, ownerID string, anchor *models.Location) (*models.Session, error) {
	now := l.now()

	session := &models.Session{
		SessionID:  NewSessionID(now),
		Section:    section,
		OwnerID:    ownerID,
		CreatedAt:  now.UnixMilli(),
		ExpiryTime: now.Add(TTL).UnixMilli(),
		Anchor:     anchor,
		Active:     true,
		Scans:      make(map[string]models.ScanRecord),
	}

	if err := l.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	l.expirer.Schedule(session.SessionID, time.UnixMilli(session.ExpiryTime))

	telemetry.GetMetrics().SessionsCreatedTotal.Add(ctx, 1)
	zerolog.Ctx(ctx).Info().
		Str("session_id", session.SessionID).
		Str("section", section).
		Bool("anchored", anchor != nil).
		Msg("Session created")

	return session, nil
}
