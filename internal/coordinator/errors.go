package coordinator

import (
	"errors"
	"fmt"

	"gatewatch/internal/gateway"
)

// Phase is the coordinator's position in the refresh state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAuthenticating
	PhaseFetching
	PhaseReconciling
	PhasePublished
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseAuthenticating:
		return "authenticating"
	case PhaseFetching:
		return "fetching"
	case PhaseReconciling:
		return "reconciling"
	case PhasePublished:
		return "published"
	case PhaseFailed:
		return "failed"
	default:
		return "idle"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

var (
	// ErrCycleInProgress is returned when a refresh is requested while one is
	// already running. The request is skipped, not queued.
	ErrCycleInProgress = errors.New("refresh cycle already in progress")

	// ErrAuthFailed matches cycle failures that need new credentials.
	ErrAuthFailed = errors.New("gateway authentication failed")
	// ErrNotReady matches non-auth failures of the setup cycle.
	ErrNotReady = errors.New("gateway not ready")
	// ErrUpdateFailed matches non-auth failures of steady-state cycles.
	ErrUpdateFailed = errors.New("gateway update failed")
)

// CycleError describes a failed refresh cycle. Use errors.Is with
// ErrAuthFailed, ErrNotReady or ErrUpdateFailed to decide what to do.
type CycleError struct {
	Kind  gateway.Kind
	Phase Phase
	Setup bool
	Err   error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("refresh failed while %s (%s): %v", e.Phase, e.Kind, e.Err)
}

func (e *CycleError) sentinel() error {
	switch {
	case e.Kind.IsAuth():
		return ErrAuthFailed
	case e.Setup:
		return ErrNotReady
	default:
		return ErrUpdateFailed
	}
}

func (e *CycleError) Unwrap() []error {
	return []error{e.sentinel(), e.Err}
}
