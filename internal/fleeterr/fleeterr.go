// Package fleeterr defines the closed set of error kinds fleetd components
// report, so callers can branch on failure class instead of string-matching
// messages.
package fleeterr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidState
	KindCommandFailed
	KindCommandSpawn
	KindNetworkSetup
	KindHypervisorAPI
	KindSocketTimeout
	KindSnapshotIO
	KindUFFDProtocol
	KindNotFound
	KindAlreadyExists
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindInvalidState:
		return "invalid_state"
	case KindCommandFailed:
		return "command_failed"
	case KindCommandSpawn:
		return "command_spawn"
	case KindNetworkSetup:
		return "network_setup"
	case KindHypervisorAPI:
		return "hypervisor_api"
	case KindSocketTimeout:
		return "socket_timeout"
	case KindSnapshotIO:
		return "snapshot_io"
	case KindUFFDProtocol:
		return "uffd_protocol"
	case KindNotFound:
		return "not_found"
	case KindAlreadyExists:
		return "already_exists"
	case KindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with the operation that produced it and
// the Kind a caller can match against with errors.As.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}
