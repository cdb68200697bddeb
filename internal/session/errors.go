package session

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions
var (
	// ErrSessionExpired covers both the TTL deadline passing and the
	// deferred deactivation having flipped the active flag.
	ErrSessionExpired = errors.New("session expired")

	// ErrNotOwner indicates a finalize or roster request from a principal
	// who did not create the session.
	ErrNotOwner = errors.New("session belongs to another owner")
)

// SectionMismatchError reports a scan against a session scoped to a
// different section. Both sections are carried so the caller can explain
// the mismatch.
type SectionMismatchError struct {
	SessionSection     string
	ParticipantSection string
}

func (e *SectionMismatchError) Error() string {
	return fmt.Sprintf("section mismatch: session is for section %s, participant is enrolled in section %s",
		e.SessionSection, e.ParticipantSection)
}

// OutOfRangeError reports a failed proximity check on a session that
// requires one. Distance is nil when the participant supplied no location.
type OutOfRangeError struct {
	Distance    *float64
	MaxDistance float64
}

func (e *OutOfRangeError) Error() string {
	if e.Distance == nil {
		return fmt.Sprintf("location verification failed: must be within %.0fm of the session anchor, no participant location supplied", e.MaxDistance)
	}
	return fmt.Sprintf("location verification failed: must be within %.0fm of the session anchor (currently %.2fm away)",
		e.MaxDistance, *e.Distance)
}
