package utils

import (
	"strconv"
	"time"
)

// RoundDateLayout is how round boundaries are shown in notifications and CLI output.
const RoundDateLayout = "Jan 2, 2006 15:04 MST"

// FormatRoundDate renders a round boundary, or "No date set" when it is unset.
func FormatRoundDate(t time.Time) string {
	if t.IsZero() {
		return "No date set"
	}
	return t.UTC().Format(RoundDateLayout)
}

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB"}

// FormatFileSize renders a byte count with one decimal, e.g. "2.5 MB".
func FormatFileSize(bytes int64) string {
	if bytes < 1024 {
		return strconv.FormatInt(bytes, 10) + " B"
	}
	value := float64(bytes)
	unit := 0
	for value >= 1024 && unit < len(sizeUnits)-1 {
		value /= 1024
		unit++
	}
	return strconv.FormatFloat(value, 'f', 1, 64) + " " + sizeUnits[unit]
}
