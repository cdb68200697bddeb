package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// DateLayout is the calendar-day format used for history records, matching
// the format the mobile clients already store and query on.
const DateLayout = "Mon Jan 02 2006"

// LocationStats partitions a session's scans by verification outcome.
// NoLocation counts only records with no verification object at all
// (records written before proximity handling existed); a verification that
// failed because the participant had no location counts as unverified.
type LocationStats struct {
	Verified   int `json:"verified"`
	Unverified int `json:"unverified"`
	NoLocation int `json:"noLocation"`
}

// HistoryRecord is the immutable archive of a finalized session.
type HistoryRecord struct {
	RecordID                    string        `json:"recordId"`
	SessionID                   string        `json:"sessionId"`
	Section                     string        `json:"section"`
	OwnerID                     string        `json:"ownerId"`
	Date                        string        `json:"date"`
	FinalizedAt                 time.Time     `json:"finalizedAt"`
	Anchor                      *Location     `json:"anchorLocation,omitempty"`
	TotalScanned                int           `json:"totalScanned"`
	Scans                       []ScanRecord  `json:"scans"`
	LocationStats               LocationStats `json:"locationStats"`
	LocationVerificationEnabled bool          `json:"locationVerificationEnabled"`
}

// NewHistoryRecord snapshots a live session into its archive form. The date
// is the calendar day of finalization, not of session creation.
func NewHistoryRecord(session *Session, section, ownerID string, now time.Time) *HistoryRecord {
	scans := make([]ScanRecord, 0, len(session.Scans))
	for _, rec := range session.Scans {
		scans = append(scans, rec)
	}
	sort.Slice(scans, func(i, j int) bool {
		if scans[i].ScannedAt != scans[j].ScannedAt {
			return scans[i].ScannedAt < scans[j].ScannedAt
		}
		return scans[i].ParticipantID < scans[j].ParticipantID
	})

	var stats LocationStats
	for _, rec := range scans {
		switch {
		case rec.Verification == nil:
			stats.NoLocation++
		case rec.Verification.Verified:
			stats.Verified++
		default:
			stats.Unverified++
		}
	}

	return &HistoryRecord{
		RecordID:                    uuid.Must(uuid.NewV7()).String(),
		SessionID:                   session.SessionID,
		Section:                     section,
		OwnerID:                     ownerID,
		Date:                        now.Format(DateLayout),
		FinalizedAt:                 now,
		Anchor:                      session.Anchor,
		TotalScanned:                len(scans),
		Scans:                       scans,
		LocationStats:               stats,
		LocationVerificationEnabled: session.Anchor != nil,
	}
}
