// Package errkind classifies errors into policy-relevant kinds so callers can
// pattern-match retry and abort behavior instead of inspecting error strings.
package errkind

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies the failure category of an error.
type Kind int

const (
	// Unknown is the zero kind for unclassified errors.
	Unknown Kind = iota
	// Transient marks errors worth retrying: rate limits, timeouts, 5xx.
	Transient
	// QuotaExhausted marks upstream quota/auth exhaustion. Processing should
	// pause and re-probe rather than retry immediately.
	QuotaExhausted
	// DataCorruption marks malformed persisted state. Fatal to the current
	// phase; never papered over with a fabricated default.
	DataCorruption
	// NotFound marks a missing record, file, or upstream resource.
	NotFound
)

// String returns the string representation of a kind.
func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case QuotaExhausted:
		return "quota_exhausted"
	case DataCorruption:
		return "data_corruption"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is an error carrying a Kind and an optional cause.
type Error struct {
	kind Kind
	msg  string
	err  error
}

// New creates an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a kind and message. Returns nil if err is nil.
func Wrap(kind Kind, msg string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, msg: msg, err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.err
}

// Kind returns the error's kind.
func (e *Error) Kind() Kind {
	return e.kind
}

// KindOf extracts the kind from an error chain. Returns Unknown if no
// *Error is present in the chain.
func KindOf(err error) Kind {
	var kerr *Error
	if errors.As(err, &kerr) {
		return kerr.kind
	}
	return Unknown
}

// Is reports whether the error chain contains an error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return Is(err, Transient)
}

// IsQuotaExhausted reports whether err signals upstream quota exhaustion.
func IsQuotaExhausted(err error) bool {
	return Is(err, QuotaExhausted)
}

// IsDataCorruption reports whether err signals corrupted persisted state.
func IsDataCorruption(err error) bool {
	return Is(err, DataCorruption)
}

// IsNotFound reports whether err signals a missing resource.
func IsNotFound(err error) bool {
	return Is(err, NotFound)
}

// quotaPatterns and transientPatterns drive ClassifyUpstream. The string
// matching lives here, at one boundary, so the rest of the code can switch
// on kinds.
var (
	quotaPatterns = []string{
		"quota",
		"daily limit",
		"api key",
		"403",
	}
	transientPatterns = []string{
		"rate limit",
		"too many requests",
		"429",
		"timeout",
		"deadline exceeded",
		"connection refused",
		"connection reset",
		"temporarily unavailable",
		"502",
		"503",
		"504",
	}
)

// ClassifyUpstream wraps an upstream API error with a kind inferred from its
// message. Intended only for errors crossing the platform-API boundary, where
// no structured cause is available.
func ClassifyUpstream(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, p := range quotaPatterns {
		if strings.Contains(msg, p) {
			return Wrap(QuotaExhausted, "upstream quota exhausted", err)
		}
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return Wrap(Transient, "transient upstream error", err)
		}
	}
	return err
}
