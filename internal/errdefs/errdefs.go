// Package errdefs classifies pipeline failures so that callers can decide
// whether to retry, what to report to a client and which HTTP status to use.
package errdefs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the class of a failure.
type Kind int

const (
	// KindInternal is any failure that does not fit another class.
	KindInternal Kind = iota
	// KindUser is a caller mistake: malformed input, unknown backend or format.
	KindUser
	// KindNotFound is a missing image, blob or document.
	KindNotFound
	// KindTransient is a failure worth retrying: 5xx, timeouts, dropped connections.
	KindTransient
	// KindUpstream is a transient failure that survived every retry.
	KindUpstream
	// KindData is undecodable external data.
	KindData
	// KindRender is a failure of the external report renderer.
	KindRender
)

// String returns the kind name used in failure summaries.
func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindUpstream:
		return "upstream_unavailable"
	case KindData:
		return "data"
	case KindRender:
		return "render"
	default:
		return "internal"
	}
}

// Subsystem prefixes used in client-facing details.
const (
	SubsystemRegistry = "Docker registry error"
	SubsystemScanner  = "Scanner error"
	SubsystemStorage  = "Storage error"
	SubsystemDocstore = "Firestore error"
	SubsystemReport   = "Report error"
	SubsystemRender   = "Render error"
	SubsystemReporter = "Reporter error"
)

// Sentinel causes, matched with errors.Is.
var (
	ErrUnknownBackend   = errors.New("unknown backend")
	ErrUnknownFormat    = errors.New("unknown format")
	ErrMalformedImage   = errors.New("malformed image reference")
	ErrImageNotFound    = errors.New("image not found")
	ErrTagsParse        = errors.New("tags manifest could not be parsed")
	ErrScanFailed       = errors.New("scan failed")
	ErrNoResults        = errors.New("no successful results")
	ErrInvalidArguments = errors.New("invalid arguments")
)

// Error is a classified failure. Detail is safe to return to clients; Err keeps the cause chain.
type Error struct {
	Kind      Kind
	Subsystem string
	Detail    string
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Detail
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Subsystem != "" {
		return fmt.Sprintf("%s: %s", e.Subsystem, msg)
	}
	return msg
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a classified error.
func New(kind Kind, subsystem string, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Subsystem: subsystem, Detail: fmt.Sprintf(format, args...), Err: err}
}

// User reports a caller mistake.
func User(subsystem string, err error, format string, args ...interface{}) *Error {
	return New(KindUser, subsystem, err, format, args...)
}

// NotFound reports a missing resource.
func NotFound(subsystem string, err error, format string, args ...interface{}) *Error {
	return New(KindNotFound, subsystem, err, format, args...)
}

// Transient reports a failure that may succeed when retried.
func Transient(subsystem string, err error, format string, args ...interface{}) *Error {
	return New(KindTransient, subsystem, err, format, args...)
}

// Data reports external data that could not be decoded.
func Data(subsystem string, err error, format string, args ...interface{}) *Error {
	return New(KindData, subsystem, err, format, args...)
}

// Render reports a renderer failure.
func Render(err error, format string, args ...interface{}) *Error {
	return New(KindRender, SubsystemRender, err, format, args...)
}

// Internal reports an unclassified failure in a subsystem.
func Internal(subsystem string, err error, format string, args ...interface{}) *Error {
	return New(KindInternal, subsystem, err, format, args...)
}

// UnknownBackend is returned when no scanner or parser is registered for name.
func UnknownBackend(name string) *Error {
	return User("", ErrUnknownBackend, "Unknown backend: %s", name)
}

// UnknownFormat is returned when no renderer exists for a report format.
func UnknownFormat(name string) *Error {
	return User("", ErrUnknownFormat, "Unknown format: %s", name)
}

// Upstream reclassifies a transient failure once retries are exhausted.
func Upstream(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return &Error{Kind: KindUpstream, Subsystem: e.Subsystem, Detail: e.Detail, Err: err}
	}
	return &Error{Kind: KindUpstream, Detail: err.Error(), Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// Detail returns the client-facing message of err, prefixed with its subsystem.
func Detail(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return err.Error()
}

// HTTPStatus maps err onto a response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindUser:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstream:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
