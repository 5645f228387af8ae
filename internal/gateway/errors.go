package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
)

// Kind sentinels. A *Error matches its kind through errors.Is.
var (
	ErrValidation     = errors.New("gateway rejected the request")
	ErrAuthentication = errors.New("gateway authentication failed")
	ErrNotFound       = errors.New("gateway resource not found")
	ErrServer         = errors.New("gateway server error")
	ErrNetwork        = errors.New("gateway network error")
	ErrTimeout        = errors.New("gateway request timed out")
	ErrCircuitOpen    = errors.New("gateway circuit breaker open")
)

type Kind string

const (
	KindValidation     Kind = "validation"
	KindAuthentication Kind = "authentication"
	KindServer         Kind = "server"
	KindNetwork        Kind = "network"
	KindTimeout        Kind = "timeout"
	KindCircuitOpen    Kind = "circuit_open"
	KindCanceled       Kind = "canceled"
)

// APIErrorDetail mirrors one entry of the gateway error body {errors: [{code, description}]}.
type APIErrorDetail struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type errorBody struct {
	Errors []APIErrorDetail `json:"errors"`
}

// Error is returned by every failed gateway call.
type Error struct {
	Kind       Kind
	StatusCode int
	Method     string
	Path       string
	Attempts   int
	Details    []APIErrorDetail
	cause      error
}

func (e *Error) Error() string {
	parts := []string{"gateway " + string(e.Kind)}
	if e.Method != "" {
		parts = append(parts, fmt.Sprintf("%s %s", e.Method, e.Path))
	}
	if e.StatusCode != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if e.Attempts > 1 {
		parts = append(parts, fmt.Sprintf("attempts=%d", e.Attempts))
	}
	for _, d := range e.Details {
		parts = append(parts, fmt.Sprintf("%s: %s", d.Code, d.Description))
	}
	if e.cause != nil {
		parts = append(parts, e.cause.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Kind == KindValidation || e.Kind == KindAuthentication
	case ErrAuthentication:
		return e.Kind == KindAuthentication
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrServer:
		return e.Kind == KindServer
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrCircuitOpen:
		return e.Kind == KindCircuitOpen
	}
	return false
}

// Retryable reports whether another attempt may succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindServer, KindNetwork, KindTimeout:
		return true
	}
	return false
}

// Message returns the first gateway description, or the error text.
func (e *Error) Message() string {
	if len(e.Details) > 0 && e.Details[0].Description != "" {
		return e.Details[0].Description
	}
	return e.Error()
}

// IsRetryable classifies any error returned by the client.
func IsRetryable(err error) bool {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Retryable()
	}
	return false
}

// IsUnavailable reports a temporary unavailability: open breaker or exhausted transient retries.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || IsRetryable(err)
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuthentication
	case status >= 500:
		return KindServer
	default:
		return KindValidation
	}
}

func newStatusError(method, path string, status int, body []byte) *Error {
	gwErr := &Error{
		Kind:       kindForStatus(status),
		StatusCode: status,
		Method:     method,
		Path:       path,
	}

	var parsed errorBody
	if len(body) > 0 && json.Unmarshal(body, &parsed) == nil {
		gwErr.Details = parsed.Errors
	}
	return gwErr
}

func newTransportError(ctx context.Context, method, path string, err error) *Error {
	gwErr := &Error{Kind: KindNetwork, Method: method, Path: path, cause: err}

	if ctx.Err() != nil {
		gwErr.Kind = KindCanceled
		gwErr.cause = ctx.Err()
		return gwErr
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		gwErr.Kind = KindTimeout
	}
	return gwErr
}

// HTTPStatus maps a gateway failure onto the status our own API should return.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrCircuitOpen), IsRetryable(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrAuthentication):
		return http.StatusBadGateway
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
