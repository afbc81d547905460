package swap

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors. All of them are recoverable and reported to the caller only.
var (
	ErrAlreadyActive    = errors.New("swap already active")
	ErrRequestPending   = errors.New("swap request already pending")
	ErrParticipantBusy  = errors.New("participant already in a swap")
	ErrNoPendingRequest = errors.New("no pending swap request")
	ErrRequestGone      = errors.New("swap request no longer valid")
	ErrQuotaExceeded    = errors.New("message limit reached")
	ErrContentInvalid   = errors.New("invalid message content")
	ErrNotParticipant   = errors.New("not a participant of this chat")
	ErrChatNotFound     = errors.New("chat not found")
	ErrInvalidDuration  = errors.New("invalid swap duration")
	ErrEmptyMessage     = errors.New("empty message")

	ErrContentTooLong  error = &ruleError{kind: ErrContentInvalid, msg: "messages limited to 7 characters"}
	ErrContentHasSpace error = &ruleError{kind: ErrContentInvalid, msg: "spaces not allowed"}
)

type ruleError struct {
	kind error
	msg  string
}

func (e *ruleError) Error() string { return e.msg }
func (e *ruleError) Unwrap() error { return e.kind }

// PendingError names the user whose fresh request blocks a new one.
type PendingError struct {
	RequestedBy string
}

func (e *PendingError) Error() string {
	return fmt.Sprintf("%v by %s", ErrRequestPending, e.RequestedBy)
}

func (e *PendingError) Unwrap() error { return ErrRequestPending }

// BusyError names the participants that are already swapped elsewhere.
type BusyError struct {
	Users []string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("%v: %s", ErrParticipantBusy, strings.Join(e.Users, ", "))
}

func (e *BusyError) Unwrap() error { return ErrParticipantBusy }

// Reason maps an error to a short stable label for metrics and logs.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAlreadyActive):
		return "already_active"
	case errors.Is(err, ErrRequestPending):
		return "request_pending"
	case errors.Is(err, ErrParticipantBusy):
		return "participant_busy"
	case errors.Is(err, ErrNoPendingRequest):
		return "no_pending_request"
	case errors.Is(err, ErrRequestGone):
		return "request_gone"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrContentTooLong):
		return "content_too_long"
	case errors.Is(err, ErrContentHasSpace):
		return "content_has_space"
	case errors.Is(err, ErrNotParticipant):
		return "not_participant"
	case errors.Is(err, ErrChatNotFound):
		return "chat_not_found"
	case errors.Is(err, ErrInvalidDuration):
		return "invalid_duration"
	case errors.Is(err, ErrEmptyMessage):
		return "empty_message"
	default:
		return "internal"
	}
}

// IsDomain reports whether err is one of the expected, client-facing failures.
func IsDomain(err error) bool {
	return err != nil && Reason(err) != "internal"
}
