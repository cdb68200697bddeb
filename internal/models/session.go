package models

import "time"

// Location is a geographic fix captured from a device. Accuracy and
// timestamp come straight from the device's location provider.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
	Timestamp int64   `json:"timestamp,omitempty"`
}

// Verification records the outcome of the proximity check for a single scan.
// Distance is in meters, rounded to two decimal places, and nil when no
// distance could be computed (either side had no location).
type Verification struct {
	Verified bool     `json:"verified"`
	Distance *float64 `json:"distance,omitempty"`
	Reason   string   `json:"reason"`
}

// ScanRecord is one participant's registered presence against a session.
// Records are keyed by participant id in Session.Scans, so a retried scan
// overwrites rather than duplicates.
type ScanRecord struct {
	ParticipantID string        `json:"participantId"`
	Email         string        `json:"email,omitempty"`
	DisplayName   string        `json:"displayName,omitempty"`
	Section       string        `json:"section"`
	ScannedAt     int64         `json:"scannedAt"`
	Location      *Location     `json:"location,omitempty"`
	Verification  *Verification `json:"verification,omitempty"`
}

// Session is a live, time-bounded attendance-collection record. All
// timestamps are epoch milliseconds to match the wire shape the mobile
// clients expect.
type Session struct {
	SessionID  string                `json:"sessionId"`
	Section    string                `json:"section"`
	OwnerID    string                `json:"ownerId"`
	CreatedAt  int64                 `json:"createdAt"`
	ExpiryTime int64                 `json:"expiryTime"`
	Anchor     *Location             `json:"anchorLocation,omitempty"`
	Active     bool                  `json:"active"`
	Scans      map[string]ScanRecord `json:"scans"`
}

// IsExpired reports whether the session's TTL has elapsed at now. The
// deferred deactivation that flips Active may lag, so callers admitting
// scans must check this directly.
func (s *Session) IsExpired(now time.Time) bool {
	return now.UnixMilli() > s.ExpiryTime
}

// Clone returns a copy safe to hand across goroutines. Scan records are
// treated as immutable once written, so their pointer fields are shared.
func (s *Session) Clone() *Session {
	dup := *s
	if s.Anchor != nil {
		anchor := *s.Anchor
		dup.Anchor = &anchor
	}
	dup.Scans = make(map[string]ScanRecord, len(s.Scans))
	for id, rec := range s.Scans {
		dup.Scans[id] = rec
	}
	return &dup
}
