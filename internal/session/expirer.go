package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/attendance/internal/store"
	"github.com/wolfeidau/attendance/internal/telemetry"
)

// Expirer flips sessions inactive when their TTL elapses. Timers are
// fire-and-forget and never cancelled: finalize may delete the session
// before the timer fires, and scan admission re-checks the deadline itself,
// so a missed or racing timer only delays cleanup.
type Expirer struct {
	sessions store.SessionStore

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewExpirer creates an expirer backed by the given live store.
func NewExpirer(sessions store.SessionStore) *Expirer {
	return &Expirer{
		sessions: sessions,
		timers:   make(map[string]*time.Timer),
	}
}

// Schedule arms a deactivation timer for the session. Scheduling the same
// session twice is a no-op.
func (e *Expirer) Schedule(sessionID string, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.timers[sessionID]; exists {
		return
	}
	e.timers[sessionID] = time.AfterFunc(time.Until(at), func() {
		e.expire(sessionID)
	})
}

// Stop drops all pending timers. Sessions left active are still protected
// by the scan path's own expiry check.
func (e *Expirer) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for sessionID, timer := range e.timers {
		timer.Stop()
		delete(e.timers, sessionID)
	}
}

func (e *Expirer) expire(sessionID string) {
	e.mu.Lock()
	delete(e.timers, sessionID)
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.sessions.SetActive(ctx, sessionID, false); err != nil {
		// Finalize deleting the session ahead of the timer is expected.
		if !errors.Is(err, store.ErrSessionNotFound) {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to deactivate session")
		}
		return
	}

	telemetry.GetMetrics().SessionsExpiredTotal.Add(ctx, 1)
	log.Debug().Str("session_id", sessionID).Msg("Session deactivated at TTL")
}
