package action

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"callrelay.app/relay/internal/model"
)

type Kind string

const (
	KindCredentialMissing  Kind = "credential_missing"
	KindRetryableTransport Kind = "retryable_transport"
	KindNonRetryableClient Kind = "non_retryable_client"
	KindInvalidConfig      Kind = "invalid_config"
	KindSSRFRejected       Kind = "ssrf_rejected"
)

// Error is a classified action failure. Retryable is decided where the
// error is produced, not by inspecting its message later.
type Error struct {
	Kind       Kind
	Retryable  bool
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ConfigError reports an invalid action configuration. Never retried.
func ConfigError(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidConfig, Message: "invalid configuration: " + fmt.Sprintf(format, args...)}
}

func CredentialError(provider model.Provider, err error) *Error {
	return &Error{Kind: KindCredentialMissing, Message: fmt.Sprintf("no %s integration configured", provider), Err: err}
}

// TransportError wraps a network failure. Cancellation of the parent context
// is not retried. A classified error raised while dialing (the SSRF dial
// guard) is returned as is.
func TransportError(err error) *Error {
	var inner *Error
	if errors.As(err, &inner) {
		return inner
	}
	retryable := !errors.Is(err, context.Canceled)
	return &Error{Kind: KindRetryableTransport, Retryable: retryable, Err: err}
}

// StatusError classifies an HTTP response status.
func StatusError(status int, body string) *Error {
	if retryableStatus(status) {
		return &Error{Kind: KindRetryableTransport, Retryable: true, StatusCode: status, Message: body}
	}
	return &Error{Kind: KindNonRetryableClient, StatusCode: status, Message: body}
}

func ClientError(format string, args ...any) *Error {
	return &Error{Kind: KindNonRetryableClient, Message: fmt.Sprintf(format, args...)}
}

func SSRFError(format string, args ...any) *Error {
	return &Error{Kind: KindSSRFRejected, Message: fmt.Sprintf(format, args...)}
}

func retryableStatus(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}

var legacyRetryMarkers = []string{
	"econnreset", "etimedout", "enotfound", "socket hang up",
	"connection reset", "connection refused", "i/o timeout",
	"429", "500", "502", "503", "504",
}

// IsRetryable reports whether an attempt that failed with err may be retried.
// Classified errors answer for themselves; anything else falls back to
// matching well-known transport failure markers in the message.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range legacyRetryMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// KindOf returns the classification of err, defaulting to non_retryable_client.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if IsRetryable(err) {
		return KindRetryableTransport
	}
	return KindNonRetryableClient
}
