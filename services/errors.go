package services

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Kind classifies domain errors for transport mapping.
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindForbidden
	KindAuthRequired
	KindConflict
	KindInvalid
)

// Error is a domain error. Errors created with the same Kind and no message act as
// class sentinels: errors.Is(ErrRoundNotFound, ErrNotFound) is true.
type Error struct {
	Kind    Kind
	Message string
	class   bool
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.class && t.Kind == e.Kind
}

func classError(k Kind, msg string) *Error { return &Error{Kind: k, Message: msg, class: true} }
func newError(k Kind, msg string) *Error   { return &Error{Kind: k, Message: msg} }

var (
	ErrNotFound     = classError(KindNotFound, "not found")
	ErrForbidden    = classError(KindForbidden, "permission denied")
	ErrAuthRequired = classError(KindAuthRequired, "authentication required")
	ErrConflict     = classError(KindConflict, "conflict")
	ErrInvalid      = classError(KindInvalid, "invalid request")
)

var (
	ErrCompetitionNotFound  = newError(KindNotFound, "competition not found")
	ErrRoundNotFound        = newError(KindNotFound, "round not found")
	ErrSubmissionNotFound   = newError(KindNotFound, "submission not found")
	ErrAssetNotFound        = newError(KindNotFound, "asset not found")
	ErrNotificationNotFound = newError(KindNotFound, "notification not found")
	ErrConversationNotFound = newError(KindNotFound, "conversation not found")
	ErrPrizeNotFound        = newError(KindNotFound, "prize not found")

	ErrNotOrganizer     = newError(KindForbidden, "only the competition organizer can do this")
	ErrNotJudge         = newError(KindForbidden, "only judges of this competition can evaluate")
	ErrNotRegistered    = newError(KindForbidden, "you are not registered for this competition")
	ErrNotEligible      = newError(KindForbidden, "you have not advanced to this round")
	ErrNotParticipant   = newError(KindForbidden, "you are not part of this conversation")
	ErrNotAssetOwner    = newError(KindForbidden, "you do not own this asset")
	ErrOrganizerEntrant = newError(KindForbidden, "organizers cannot register for their own competition")

	ErrVersionConflict     = newError(KindConflict, "submission was changed by another request; reload and retry")
	ErrSubmissionFinalized = newError(KindConflict, "submission has been approved and can no longer change")
	ErrAlreadyRegistered   = newError(KindConflict, "already registered for this competition")
	ErrRegistrationClosed  = newError(KindConflict, "competition has finished")
	ErrRoundLocked         = newError(KindConflict, "round is live or completed; only resources can be added")
	ErrRoundArchived       = newError(KindConflict, "round is completed")
	ErrAssetInUse          = newError(KindConflict, "asset is part of a submission that cannot lose it")
	ErrPrizeAwarded        = newError(KindConflict, "prize already awarded")
	ErrNotWinnerEligible   = newError(KindConflict, "user has no approved final-round submission")

	ErrInvalidRoundWindow = newError(KindInvalid, "round start date must not be after its end date")
	ErrSelfConversation   = newError(KindInvalid, "cannot start a conversation with yourself")
	ErrEmptyMessage       = newError(KindInvalid, "message body is required")
	ErrMessageTooLong     = newError(KindInvalid, "message body is too long")
)

// Violation codes reported by submission validation.
const (
	ViolationEmptySubmission       = "empty_submission"
	ViolationUploadInProgress      = "upload_in_progress"
	ViolationFileUploadDisabled    = "file_upload_disabled"
	ViolationExternalLinksDisabled = "external_links_disabled"
	ViolationInvalidLink           = "invalid_link"
	ViolationDuplicateLink         = "duplicate_link"
	ViolationFileTooLarge          = "file_too_large"
	ViolationUnsupportedFileType   = "unsupported_file_type"
	ViolationFileNotPersisted      = "file_not_persisted"
	ViolationRoundNotOpen          = "round_not_open"
	ViolationDeadlinePassed        = "deadline_passed"
	ViolationInvalidField          = "invalid_field"
)

// Violation is one reason a request was refused.
type Violation struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (v Violation) Error() string { return v.Message }

// ValidationError carries every violation found, in the order checks ran.
type ValidationError struct {
	Violations []Violation
	merr       *multierror.Error
}

func (e *ValidationError) Error() string {
	if e.merr == nil {
		return "validation failed"
	}
	return e.merr.Error()
}

func (e *ValidationError) Unwrap() error { return e.merr.ErrorOrNil() }

// Has reports whether a violation with code was recorded.
func (e *ValidationError) Has(code string) bool {
	for _, v := range e.Violations {
		if v.Code == code {
			return true
		}
	}
	return false
}

type violations struct {
	list []Violation
	merr *multierror.Error
}

func (vs *violations) add(code, field, format string, args ...interface{}) {
	v := Violation{Code: code, Field: field, Message: fmt.Sprintf(format, args...)}
	vs.list = append(vs.list, v)
	vs.merr = multierror.Append(vs.merr, v)
}

func (vs *violations) err() error {
	if len(vs.list) == 0 {
		return nil
	}
	vs.merr.ErrorFormat = func(errs []error) string {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return strings.Join(msgs, "; ")
	}
	return &ValidationError{Violations: vs.list, merr: vs.merr}
}

// invalid builds a single-violation ValidationError.
func invalid(field, format string, args ...interface{}) error {
	var vs violations
	vs.add(ViolationInvalidField, field, format, args...)
	return vs.err()
}
