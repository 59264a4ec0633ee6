package services

import (
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"nextcompete-api/models"
	"nextcompete-api/utils"
)

// DraftFile is a file attached to a submission draft. Uploading is true while the client is
// still transferring it.
type DraftFile struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	Type      string `json:"type"`
	Size      int64  `json:"size"`
	PublicID  string `json:"publicId"`
	Uploading bool   `json:"isUploading,omitempty"`
}

// SubmissionDraft is the payload a participant submits for a round.
type SubmissionDraft struct {
	Files []DraftFile
	Links []string
	Notes string
}

// ValidationOutcome is the result of a successful validation.
type ValidationOutcome struct {
	IsLate bool
}

// ValidateSubmission applies the round's submission rules to draft at now. It has no side
// effects and reports every violation found rather than stopping at the first.
func ValidateSubmission(draft SubmissionDraft, round models.Round, now time.Time) (ValidationOutcome, error) {
	rules := round.SubmissionRules
	var vs violations

	if len(draft.Files)+len(draft.Links) == 0 {
		vs.add(ViolationEmptySubmission, "", "attach at least one file or link")
	}
	for i, f := range draft.Files {
		if f.Uploading {
			vs.add(ViolationUploadInProgress, fileField(i), "%s is still uploading", displayName(f))
		}
	}

	if len(draft.Files) > 0 && !rules.AllowFileUpload {
		vs.add(ViolationFileUploadDisabled, "files", "file upload disabled")
	}
	if len(draft.Links) > 0 && !rules.AllowExternalLinks {
		vs.add(ViolationExternalLinksDisabled, "links", "external links disabled")
	}

	seen := make(map[string]struct{}, len(draft.Links))
	for i, link := range draft.Links {
		field := "links[" + strconv.Itoa(i) + "]"
		if !isAbsoluteHTTPURL(link) {
			vs.add(ViolationInvalidLink, field, "%q is not an absolute http(s) URL", link)
			continue
		}
		key := utils.NormalizeLink(link)
		if _, dup := seen[key]; dup {
			vs.add(ViolationDuplicateLink, field, "%q is listed more than once", link)
			continue
		}
		seen[key] = struct{}{}
	}

	for i, f := range draft.Files {
		if err := CheckFileAgainstRules(f.Name, f.Size, rules); err != nil {
			for _, v := range err.(*ValidationError).Violations {
				vs.add(v.Code, fileField(i), "%s", v.Message)
			}
		}
	}

	switch StatusOf(round, now) {
	case RoundDraft:
		vs.add(ViolationRoundNotOpen, "", "round %q has not opened yet", round.Name)
	case RoundCompleted:
		if !rules.AcceptLateSubmissions {
			vs.add(ViolationDeadlinePassed, "", "the deadline for round %q has passed", round.Name)
		}
	}

	if err := vs.err(); err != nil {
		return ValidationOutcome{}, err
	}
	return ValidationOutcome{IsLate: now.After(round.EndDate)}, nil
}

// CheckFileAgainstRules checks one file's size and extension. It is used both when a file is
// uploaded and when a draft referencing it is submitted.
func CheckFileAgainstRules(name string, size int64, rules models.SubmissionRules) error {
	var vs violations
	if limit := rules.MaxFileSizeBytes(); size > limit {
		vs.add(ViolationFileTooLarge, "file", "%s (%s) exceeds the %dMB limit", name, utils.FormatFileSize(size), limit/(1024*1024))
	}
	if !extensionAllowed(name, rules.AllowedFileTypes) {
		vs.add(ViolationUnsupportedFileType, "file", "%s is not an accepted file type", name)
	}
	return vs.err()
}

// extensionAllowed matches name against extension groups such as ".pdf" or ".doc,.docx".
// An empty set accepts any extension.
func extensionAllowed(name string, groups []string) bool {
	if len(groups) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return false
	}
	for _, group := range groups {
		for _, allowed := range strings.Split(group, ",") {
			allowed = strings.ToLower(strings.TrimSpace(allowed))
			if allowed != "" && !strings.HasPrefix(allowed, ".") {
				allowed = "." + allowed
			}
			if allowed == ext {
				return true
			}
		}
	}
	return false
}

func isAbsoluteHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func displayName(f DraftFile) string {
	if f.Name != "" {
		return f.Name
	}
	return "file"
}

func fileField(i int) string { return "files[" + strconv.Itoa(i) + "]" }
