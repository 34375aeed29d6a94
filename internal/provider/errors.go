package provider

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrDisabled        = errors.New("provider disabled")
	ErrNotSupported    = errors.New("operation not supported by provider")
)

// Kind classifies a provider failure for the caller's retry decision.
type Kind int

const (
	// KindNetwork covers transport failures, timeouts, 5xx/408/429 and
	// unreadable responses. The operation may be retried.
	KindNetwork Kind = iota
	// KindRejected means the backend refused the request. Retrying the same
	// request will not help.
	KindRejected
	KindNotSupported
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindRejected:
		return "rejected"
	case KindNotSupported:
		return "not_supported"
	}
	return "unknown"
}

// Error is the normalized failure of an adapter call. Message is safe to log
// but is not meant for end users.
type Error struct {
	Provider   string
	Op         string
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Provider, e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (http %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e.Kind == KindNotSupported {
		return ErrNotSupported
	}
	return e.Err
}

func (e *Error) Retryable() bool {
	return e.Kind == KindNetwork
}

// IsRetryable reports whether err is a provider network failure.
func IsRetryable(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Retryable()
}

// IsRejection reports whether err is a terminal backend rejection.
func IsRejection(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == KindRejected
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}

func networkError(provider, op string, err error) *Error {
	return &Error{Provider: provider, Op: op, Kind: KindNetwork, Err: err}
}

func rejection(provider, op string, status int, msg string) *Error {
	return &Error{Provider: provider, Op: op, Kind: KindRejected, StatusCode: status, Message: msg}
}

func notSupported(provider, op, msg string) *Error {
	return &Error{Provider: provider, Op: op, Kind: KindNotSupported, Message: msg}
}
