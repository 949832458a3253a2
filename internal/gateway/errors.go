package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Kind classifies a failure raised by an adapter call.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthRestricted
	KindInvalidCredentials
	KindTimeout
	KindConnection
	KindTooManyAttempts
	KindSessionLimit
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindAuthRestricted:
		return "auth_restricted"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindTimeout:
		return "timeout"
	case KindConnection:
		return "connection_error"
	case KindTooManyAttempts:
		return "too_many_attempts"
	case KindSessionLimit:
		return "session_limit_reached"
	case KindUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// IsAuth reports whether the owning process has to ask for new credentials.
func (k Kind) IsAuth() bool {
	return k == KindAuthRestricted || k == KindInvalidCredentials
}

// Retryable reports whether waiting for the next tick can clear the failure.
func (k Kind) Retryable() bool {
	switch k {
	case KindAuthRestricted, KindInvalidCredentials, KindUnsupported:
		return false
	default:
		return true
	}
}

// Error is returned by adapters so callers can switch on Kind.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("gateway %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("gateway %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf wraps err with an operation and kind.
func Errorf(op string, kind Kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

var ErrUnsupported = errors.New("operation not supported by adapter")

// Classify maps any adapter error onto a Kind. Adapter-provided kinds win;
// otherwise context deadlines and network errors are recognised and the rest
// is KindUnknown.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var gerr *Error
	if errors.As(err, &gerr) && gerr.Kind != KindUnknown {
		return gerr.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, ErrUnsupported) {
		return KindUnsupported
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return KindConnection
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindConnection
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindConnection
	}
	if netErr != nil {
		return KindConnection
	}

	return KindUnknown
}
