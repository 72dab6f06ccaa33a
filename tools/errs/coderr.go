package errs

import (
	stderrors "errors"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Error codes for the chat core. Handlers translate them to HTTP statuses;
// everything below 500 is caller-fixable.
const (
	CodeValidation = 1000 // missing or malformed identifiers / payloads
	CodeNotFound   = 1001 // conversation or entry absent
	CodeConflict   = 1002 // already assigned to another agent, or already closed
	CodeGone       = 1003 // queue membership went stale between check and act
	CodeCapacity   = 1004 // agent at the concurrent-conversation cap
	CodeStore      = 1500 // transient store failure, propagated as-is
)

var (
	ErrConversationNotFound = NewCodeError(CodeNotFound, "conversation not found")
	ErrConversationClosed   = NewCodeError(CodeConflict, "conversation already closed")
	ErrAlreadyAssigned      = NewCodeError(CodeConflict, "conversation already assigned to another agent")
	ErrConversationGone     = NewCodeError(CodeGone, "conversation is no longer available to accept")
	ErrConversationEnded    = NewCodeError(CodeGone, "conversation has ended")
	ErrAgentAtCapacity      = NewCodeError(CodeCapacity, "agent reached maximum concurrent conversations")
	ErrLockNotAcquired      = NewCodeError(CodeStore, "could not acquire lock within wait window")
	ErrVersionConflict      = NewCodeError(CodeConflict, "conversation modified concurrently")
)

func NewCodeError(code int, msg string) CodeError {
	return CodeError{
		Code: code,
		Msg:  msg,
	}
}

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func (e CodeError) WithDetail(detail string) CodeError {
	var d string
	if e.Detail == "" {
		d = detail
	} else {
		d = e.Detail + ", " + detail
	}
	return CodeError{
		Code:   e.Code,
		Msg:    e.Msg,
		Detail: d,
	}
}

func (e CodeError) Wrap() error {
	return errors.WithStack(e)
}

func (e CodeError) WrapMsg(detail string) error {
	return errors.WithStack(e.WithDetail(detail))
}

func (e CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

// Is matches on code only, so a wrapped/detailed error still compares equal
// to its sentinel.
func (e CodeError) Is(err error) bool {
	var other CodeError
	if !stderrors.As(err, &other) {
		return false
	}
	return e.Code == other.Code
}

// Validation builds a caller-fixable error for a bad input.
func Validation(detail string) error {
	return NewCodeError(CodeValidation, "invalid request").WrapMsg(detail)
}

// Store wraps a transient store round-trip failure.
func Store(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(NewCodeError(CodeStore, "store operation failed").WithDetail(op+": "+err.Error()), op)
}

// Code extracts the error code, defaulting to CodeStore for plain errors.
func Code(err error) int {
	var ce CodeError
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	return CodeStore
}
