// Package failure classifies store, transport, and auth errors into the small
// set of categories the display and dashboard react to.
//
// Classification prefers structured signals (PostgreSQL SQLSTATE codes, network
// error types, circuit breaker state, HTTP status). Matching on the error text
// is kept only as a last resort and is best-effort: message wording is not part
// of any contract.
package failure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sony/gobreaker/v2"
)

// Kind is the category of a failure.
type Kind string

const (
	KindOffline    Kind = "offline"
	KindRuleIssue  Kind = "rule_issue"
	KindAuth       Kind = "auth_error"
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindUnexpected Kind = "unexpected"
)

// Human-readable messages shown for each category.
const (
	MessageOffline   = "Unable to connect to the server. Please check your internet connection and try again."
	MessageRuleIssue = "Security rules may be preventing access. Please check the store permissions."
	MessageAuth      = "You must be signed in to register a device"
)

// Error is a classified failure. It wraps the original error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with an explicit kind.
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// StatusError carries an HTTP status returned by the castboard API.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api status %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("api status %d", e.StatusCode)
}

// Wrap classifies err and returns it as *Error. A nil err yields nil.
// An error that is already classified is returned unchanged.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	kind := Classify(err)
	return &Error{Kind: kind, Message: messageFor(kind, err), Err: err}
}

// Classify returns the failure category of err.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}

	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}

	if kind, ok := classifyStructured(err); ok {
		return kind
	}

	return classifyMessage(err.Error())
}

// IsOffline reports whether err is a connectivity failure.
func IsOffline(err error) bool { return Classify(err) == KindOffline }

// IsRuleIssue reports whether err is an access or configuration rejection.
func IsRuleIssue(err error) bool { return Classify(err) == KindRuleIssue }

// IsAuth reports whether err is a missing or invalid session.
func IsAuth(err error) bool { return Classify(err) == KindAuth }

func classifyStructured(err error) (Kind, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code), true
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return KindOffline, true
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return KindOffline, true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindOffline, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindOffline, true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return classifyStatus(statusErr.StatusCode), true
	}

	return "", false
}

// classifySQLState maps PostgreSQL error codes onto failure kinds.
func classifySQLState(code string) Kind {
	switch {
	case code == "42501": // insufficient_privilege
		return KindRuleIssue
	case strings.HasPrefix(code, "28"): // invalid authorization specification
		return KindRuleIssue
	case strings.HasPrefix(code, "08"): // connection exception
		return KindOffline
	case strings.HasPrefix(code, "57P"): // operator intervention (shutdown)
		return KindOffline
	case strings.HasPrefix(code, "22"), strings.HasPrefix(code, "23"): // data exception, integrity violation
		return KindRuleIssue
	case strings.HasPrefix(code, "42"): // syntax error or undefined object
		return KindRuleIssue
	default:
		return KindUnexpected
	}
}

func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindAuth
	case status == http.StatusBadRequest, status == http.StatusForbidden:
		return KindRuleIssue
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusUnprocessableEntity:
		return KindValidation
	case status == http.StatusServiceUnavailable, status == http.StatusBadGateway, status == http.StatusGatewayTimeout:
		return KindOffline
	default:
		return KindUnexpected
	}
}

// classifyMessage is the last-resort fallback for errors that carry no
// structured signal.
func classifyMessage(msg string) Kind {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "offline"), strings.Contains(lower, "network"),
		strings.Contains(lower, "connection refused"):
		return KindOffline
	case strings.Contains(lower, "400"), strings.Contains(lower, "permission"):
		return KindRuleIssue
	case strings.Contains(lower, "auth"):
		return KindAuth
	default:
		return KindUnexpected
	}
}

func messageFor(kind Kind, err error) string {
	switch kind {
	case KindOffline:
		return MessageOffline
	case KindRuleIssue:
		return MessageRuleIssue
	case KindAuth:
		return "Authentication error: " + err.Error()
	default:
		return err.Error()
	}
}
