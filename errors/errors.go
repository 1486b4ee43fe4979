package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/vidmod/vidmod-api/log"
)

type apiError struct {
	Msg    string `json:"message"`
	Status int    `json:"status"`
	Err    error  `json:"-"`
}

func writeHttpError(w http.ResponseWriter, msg string, status int, err error) apiError {
	var errorDetail string
	if err != nil {
		errorDetail = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg, "error_detail": errorDetail}); err != nil {
		log.LogNoRequestID("error writing HTTP error", "http_error_msg", msg, "error", err)
	}

	return apiError{msg, status, err}
}

// HTTP Errors
func WriteHTTPUnauthorized(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusUnauthorized, err)
}

func WriteHTTPBadRequest(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusBadRequest, err)
}

func WriteHTTPNotFound(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusNotFound, err)
}

func WriteHTTPUnsupportedMediaType(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusUnsupportedMediaType, err)
}

func WriteHTTPInternalServerError(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusInternalServerError, err)
}

// WriteHTTPForError maps a service error onto the HTTP conventions used by
// every handler: 400 for contract violations, 404 for unknown jobs, 503 for
// exhausted rate limits, 504 for polling timeouts, 500 for everything else.
func WriteHTTPForError(w http.ResponseWriter, msg string, err error) apiError {
	switch KindOf(err) {
	case KindInput, KindMissingPrerequisite:
		return writeHttpError(w, msg, http.StatusBadRequest, err)
	case KindNotFound:
		return writeHttpError(w, msg, http.StatusNotFound, err)
	case KindRateLimited:
		return writeHttpError(w, msg, http.StatusServiceUnavailable, err)
	case KindTimeout:
		return writeHttpError(w, msg, http.StatusGatewayTimeout, err)
	default:
		return writeHttpError(w, msg, http.StatusInternalServerError, err)
	}
}

// Kind classifies a failure so that callers can decide between retrying,
// surfacing a 4xx and failing the job outright.
type Kind string

const (
	KindInput               Kind = "input"
	KindMissingPrerequisite Kind = "missing_prerequisite"
	KindRateLimited         Kind = "rate_limited"
	KindTimeout             Kind = "timeout"
	KindMedia               Kind = "media"
	KindUnsignable          Kind = "unsignable"
	KindNotFound            Kind = "not_found"
	KindBackend             Kind = "backend"
)

type serviceError struct {
	kind Kind
	msg  string
	err  error
}

func (e *serviceError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s", e.msg, e.err)
	}
	return e.msg
}

func (e *serviceError) Unwrap() error { return e.err }

func newServiceError(kind Kind, msg string, err error) error {
	return &serviceError{kind: kind, msg: msg, err: err}
}

func InputError(msg string, err error) error {
	return newServiceError(KindInput, msg, err)
}

func MissingPrerequisite(msg string) error {
	return newServiceError(KindMissingPrerequisite, msg, nil)
}

func RateLimited(msg string, err error) error {
	return newServiceError(KindRateLimited, msg, err)
}

func Timeout(msg string, err error) error {
	return newServiceError(KindTimeout, msg, err)
}

// MediaError wraps a failed media tool invocation, carrying the captured
// stderr so the subprocess failure is diagnosable from logs.
func MediaError(msg, stderr string, err error) error {
	if stderr != "" {
		msg = fmt.Sprintf("%s: %s", msg, stderr)
	}
	return newServiceError(KindMedia, msg, err)
}

func UnsignableError(msg string) error {
	return newServiceError(KindUnsignable, msg, nil)
}

func NotFound(what string) error {
	return newServiceError(KindNotFound, fmt.Sprintf("%s not found", what), nil)
}

func Backend(msg string, err error) error {
	return newServiceError(KindBackend, msg, err)
}

// KindOf returns the classification of err, or KindBackend when err carries
// no classification.
func KindOf(err error) Kind {
	var se *serviceError
	if errors.As(err, &se) {
		return se.kind
	}
	return KindBackend
}

func IsRateLimited(err error) bool {
	return KindOf(err) == KindRateLimited
}

type unretriableError struct{ err error }

// Unretriable wraps an error to mark it as a permanent failure that retry
// loops must not attempt again.
func Unretriable(err error) error {
	return unretriableError{err}
}

func (e unretriableError) Error() string { return e.err.Error() }
func (e unretriableError) Unwrap() error { return e.err }

func IsUnretriable(err error) bool {
	return errors.As(err, &unretriableError{})
}
