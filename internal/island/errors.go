package island

import (
	"errors"
	"fmt"
)

// Error represents a failure detected by an island.
//
// Errors fall in two groups:
//   - Fatal: realm and causality violations. These are integration bugs and
//     abort the current operation.
//   - Per-message: unknown kind, missing transcoder, unknown selector,
//     malformed payload. A controller isolates these to the one message.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Island identifies the affected island.
	Island string

	// Receiver is the target model id, when known.
	Receiver string

	// Selector is the handler name, when known.
	Selector string

	// Details contains additional context.
	Details map[string]string
}

// ErrorCode categorizes island errors.
type ErrorCode string

const (
	// ErrCodeRealmViolation indicates an operation ran in the wrong realm,
	// or a realm was re-entered.
	ErrCodeRealmViolation ErrorCode = "REALM_VIOLATION"

	// ErrCodeCausalityViolation indicates a message older than island time.
	ErrCodeCausalityViolation ErrorCode = "CAUSALITY_VIOLATION"

	// ErrCodeUnknownKind indicates a model kind with no registered factory.
	ErrCodeUnknownKind ErrorCode = "UNKNOWN_KIND"

	// ErrCodeMissingTranscoder indicates no transcoder covers a message.
	ErrCodeMissingTranscoder ErrorCode = "MISSING_TRANSCODER"

	// ErrCodeUnknownSelector indicates no handler for a selector.
	ErrCodeUnknownSelector ErrorCode = "UNKNOWN_SELECTOR"

	// ErrCodeInvalidOffset indicates a negative future offset.
	ErrCodeInvalidOffset ErrorCode = "INVALID_OFFSET"

	// ErrCodeMalformedMessage indicates an undecodable payload or argument.
	ErrCodeMalformedMessage ErrorCode = "MALFORMED_MESSAGE"

	// ErrCodeUnknownReceiver indicates a missing model or part.
	ErrCodeUnknownReceiver ErrorCode = "UNKNOWN_RECEIVER"
)

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Receiver != "" && e.Selector != "":
		return fmt.Sprintf("%s: %s (receiver=%s, selector=%s)", e.Code, e.Message, e.Receiver, e.Selector)
	case e.Receiver != "":
		return fmt.Sprintf("%s: %s (receiver=%s)", e.Code, e.Message, e.Receiver)
	case e.Island != "":
		return fmt.Sprintf("%s: %s (island=%s)", e.Code, e.Message, e.Island)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func hasCode(err error, codes ...ErrorCode) bool {
	var ie *Error
	if !errors.As(err, &ie) {
		return false
	}
	for _, c := range codes {
		if ie.Code == c {
			return true
		}
	}
	return false
}

// IsRealmError returns true if the error is a realm violation.
// Uses errors.As to handle wrapped errors.
func IsRealmError(err error) bool {
	return hasCode(err, ErrCodeRealmViolation)
}

// IsCausalityError returns true if the error is a causality violation.
func IsCausalityError(err error) bool {
	return hasCode(err, ErrCodeCausalityViolation)
}

// IsFatal returns true for errors that must abort advancement.
func IsFatal(err error) bool {
	return hasCode(err, ErrCodeRealmViolation, ErrCodeCausalityViolation)
}

// IsDecodeError returns true for errors confined to a single message.
func IsDecodeError(err error) bool {
	return hasCode(err,
		ErrCodeUnknownKind,
		ErrCodeMissingTranscoder,
		ErrCodeUnknownSelector,
		ErrCodeMalformedMessage,
		ErrCodeUnknownReceiver,
	)
}

func realmError(island string, format string, args ...any) *Error {
	return &Error{
		Code:    ErrCodeRealmViolation,
		Message: fmt.Sprintf(format, args...),
		Island:  island,
	}
}

func causalityError(island string, msgTime, now int64) *Error {
	return &Error{
		Code:    ErrCodeCausalityViolation,
		Message: fmt.Sprintf("message time %d is before island time %d", msgTime, now),
		Island:  island,
		Details: map[string]string{
			"message_time": fmt.Sprintf("%d", msgTime),
			"island_time":  fmt.Sprintf("%d", now),
		},
	}
}

func malformed(format string, args ...any) *Error {
	return &Error{
		Code:    ErrCodeMalformedMessage,
		Message: fmt.Sprintf(format, args...),
	}
}

func unknownSelector(kind, receiver, part, selector string) *Error {
	e := &Error{
		Code:     ErrCodeUnknownSelector,
		Message:  fmt.Sprintf("kind %q has no handler", kind),
		Receiver: receiver,
		Selector: selector,
	}
	if part != "" {
		e.Details = map[string]string{"part": part}
	}
	return e
}

func unknownReceiver(receiver, part string) *Error {
	msg := "no such model"
	if part != "" {
		msg = fmt.Sprintf("model has no part %q", part)
	}
	return &Error{
		Code:     ErrCodeUnknownReceiver,
		Message:  msg,
		Receiver: receiver,
	}
}
