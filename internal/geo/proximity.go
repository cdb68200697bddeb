package geo

import (
	"fmt"
	"math"

	"github.com/wolfeidau/attendance/internal/models"
)

// DefaultMaxDistanceMeters is how close a scanner must be to the session
// anchor unless the section overrides it.
const DefaultMaxDistanceMeters float64 = 10

// Reasons carried on verification results. These are user-facing strings
// the mobile clients display verbatim.
const (
	ReasonUnavailable = "Location data unavailable"
	ReasonWithinRange = "Within range"
)

// Verify classifies a participant's location against a session anchor.
// Either side missing yields an unverified result with no distance; this is
// not an error, proximity checking is opt-in based on location availability.
func Verify(anchor, participant *models.Location, maxDistanceMeters float64) models.Verification {
	if anchor == nil || participant == nil {
		return models.Verification{Verified: false, Reason: ReasonUnavailable}
	}

	distance := Distance(anchor.Latitude, anchor.Longitude, participant.Latitude, participant.Longitude)
	rounded := math.Round(distance*100) / 100
	verified := distance <= maxDistanceMeters

	reason := ReasonWithinRange
	if !verified {
		reason = fmt.Sprintf("Too far (%.1fm away)", distance)
	}

	return models.Verification{Verified: verified, Distance: &rounded, Reason: reason}
}
