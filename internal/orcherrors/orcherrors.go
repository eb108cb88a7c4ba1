// Package orcherrors classifies reconciler failures into the deterministic
// error kinds the policy engine and reconciler branch on.
package orcherrors

import (
	"errors"
	"fmt"
)

// Kind identifies one of the orchestrator's deterministic failure modes.
type Kind int

const (
	// Unknown is the zero value; never produced by Wrap.
	Unknown Kind = iota
	BoardUnavailable
	BoardConflict
	ChildSpawnFailed
	ChildHandshakeInvalid
	ArtifactInvalid
	StatePersistFailed
	LockContention
	ConfigError
)

func (k Kind) String() string {
	switch k {
	case BoardUnavailable:
		return "board_unavailable"
	case BoardConflict:
		return "board_conflict"
	case ChildSpawnFailed:
		return "child_spawn_failed"
	case ChildHandshakeInvalid:
		return "child_handshake_invalid"
	case ArtifactInvalid:
		return "artifact_invalid"
	case StatePersistFailed:
		return "state_persist_failed"
	case LockContention:
		return "lock_contention"
	case ConfigError:
		return "config_error"
	default:
		return "unknown"
	}
}

// kindError carries a Kind alongside the wrapped cause.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string {
	return fmt.Sprintf("%s: %v", e.kind, e.err)
}

func (e *kindError) Unwrap() error { return e.err }

// Wrap annotates err with kind. Wrap(kind, nil) returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// Wrapf is Wrap with fmt.Errorf-style formatting of the cause.
func Wrapf(kind Kind, format string, args ...any) error {
	return Wrap(kind, fmt.Errorf(format, args...))
}

// As reports whether err (or anything it wraps) carries kind.
func As(err error, kind Kind) bool {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind == kind
	}
	return false
}

// KindOf returns the Kind attached to err, or Unknown if none.
func KindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return Unknown
}
