package freshness

import (
	"strings"
	"time"
)

type Status string

const (
	StatusFresh        Status = "FRESH"
	StatusWarning      Status = "WARNING"
	StatusCritical     Status = "CRITICAL"
	StatusExpiresToday Status = "EXPIRES_TODAY"
	StatusExpired      Status = "EXPIRED"
	StatusUnknown      Status = "UNKNOWN"
)

var statusLabels = map[Status]string{
	StatusFresh:        "Fresh",
	StatusWarning:      "Use soon",
	StatusCritical:     "Critical",
	StatusExpiresToday: "Expires today",
	StatusExpired:      "Expired",
	StatusUnknown:      "Unknown",
}

var recommended = map[Status]int{
	StatusCritical:     50,
	StatusWarning:      25,
	StatusExpiresToday: 70,
}

func Label(s Status) string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// ParseStatus accepts any letter case.
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := statusLabels[st]
	return st, ok
}

// Date truncates t to its calendar day in UTC.
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysUntil counts calendar days from today to expiry; negative once expired.
func DaysUntil(expiry, today time.Time) int {
	return int(Date(expiry).Sub(Date(today)).Hours() / 24)
}

// Classify derives the status of a batch. It depends only on its arguments.
func Classify(expiry *time.Time, today time.Time) Status {
	if expiry == nil {
		return StatusUnknown
	}
	switch n := DaysUntil(*expiry, today); {
	case n < 0:
		return StatusExpired
	case n == 0:
		return StatusExpiresToday
	case n == 1:
		return StatusCritical
	case n <= 3:
		return StatusWarning
	default:
		return StatusFresh
	}
}

// RecommendedDiscount is the markdown percentage suggested for a status.
func RecommendedDiscount(s Status) int { return recommended[s] }

// NeedsDiscount reports the statuses that should be marked down before they expire.
func NeedsDiscount(s Status) bool { return s == StatusWarning || s == StatusCritical }
