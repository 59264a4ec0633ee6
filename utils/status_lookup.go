package utils

import (
	"strings"

	"nextcompete-api/models"
)

var statusSynonyms = map[models.SubmissionStatus][]string{
	models.SubmissionPending: {
		"pending",
		"submitted",
		"in_review",
		"under_review",
	},
	models.SubmissionApproved: {
		"approved",
		"approve",
		"accepted",
		"accept",
		"advanced",
	},
	models.SubmissionRejected: {
		"rejected",
		"reject",
		"declined",
		"eliminated",
	},
}

var statusLookup = buildStatusLookup()

func buildStatusLookup() map[string]models.SubmissionStatus {
	out := make(map[string]models.SubmissionStatus)
	for status, names := range statusSynonyms {
		for _, name := range names {
			out[normalizeStatusKey(name)] = status
		}
	}
	return out
}

func normalizeStatusKey(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, "-", "_")
	return strings.ReplaceAll(key, " ", "_")
}

// ParseSubmissionStatus maps a status name or common synonym ("accepted", "declined", ...)
// to its canonical status. Empty input returns "" and true.
func ParseSubmissionStatus(raw string) (models.SubmissionStatus, bool) {
	if strings.TrimSpace(raw) == "" {
		return "", true
	}
	status, ok := statusLookup[normalizeStatusKey(raw)]
	return status, ok
}
