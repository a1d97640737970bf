package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes shared by the ledger contract and the off-chain services. The
// code is the prefix of every error message so it survives the trip through
// the peer and gateway as plain text.
var (
	ErrNotFound          = errors.New("NOT_FOUND")
	ErrAlreadyExists     = errors.New("ALREADY_EXISTS")
	ErrUnauthorized      = errors.New("UNAUTHORIZED")
	ErrValidation        = errors.New("VALIDATION_ERROR")
	ErrInvalidArgument   = errors.New("INVALID_ARGUMENT")
	ErrLedgerUnavailable = errors.New("LEDGER_UNAVAILABLE")
)

var codes = []error{
	ErrNotFound,
	ErrAlreadyExists,
	ErrUnauthorized,
	ErrValidation,
	ErrInvalidArgument,
	ErrLedgerUnavailable,
}

func coded(code error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", code, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) error      { return coded(ErrNotFound, format, args...) }
func AlreadyExists(format string, args ...any) error { return coded(ErrAlreadyExists, format, args...) }
func Unauthorized(format string, args ...any) error  { return coded(ErrUnauthorized, format, args...) }
func InvalidArgument(format string, args ...any) error {
	return coded(ErrInvalidArgument, format, args...)
}
func LedgerUnavailable(format string, args ...any) error {
	return coded(ErrLedgerUnavailable, format, args...)
}

// Violation describes one broken collection or quality rule.
type Violation struct {
	Rule     string  `json:"rule"`
	Field    string  `json:"field,omitempty"`
	Measured float64 `json:"measured"`
	Limit    float64 `json:"limit"`
	Message  string  `json:"message"`
}

// ValidationError is returned when a geofence, season or quality threshold
// rule rejects an input. It matches ErrValidation with errors.Is.
type ValidationError struct {
	Species    string      `json:"species,omitempty"`
	Violations []Violation `json:"violations"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.Message)
	}
	prefix := ErrValidation.Error() + ": "
	if e.Species != "" {
		prefix += "species " + e.Species + ": "
	}
	return prefix + strings.Join(msgs, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Rule returns the first violated rule name.
func (e *ValidationError) Rule() string {
	if len(e.Violations) == 0 {
		return ""
	}
	return e.Violations[0].Rule
}

// Validationf builds a single-violation ValidationError without measurements.
func Validationf(rule, format string, args ...any) error {
	return &ValidationError{Violations: []Violation{{Rule: rule, Message: fmt.Sprintf(format, args...)}}}
}

type remoteError struct {
	code error
	msg  string
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.code }

// Classify re-attaches the matching sentinel to an error whose message was
// produced on the other side of a process boundary (chaincode -> gateway).
// Errors that already match a sentinel, or carry no code, are returned as is.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, c := range codes {
		if errors.Is(err, c) {
			return err
		}
	}
	msg := err.Error()
	for _, c := range codes {
		if strings.Contains(msg, c.Error()+":") {
			return &remoteError{code: c, msg: msg}
		}
	}
	return err
}

// Code returns the taxonomy code of err, or "" when it has none.
func Code(err error) string {
	err = Classify(err)
	for _, c := range codes {
		if errors.Is(err, c) {
			return c.Error()
		}
	}
	return ""
}
