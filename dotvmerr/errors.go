// Package dotvmerr implements the component-agnostic error taxonomy shared
// by the storage, state, transpilation, security, and execution layers.
package dotvmerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error independently of which component raised it, so
// callers can switch on failure category instead of matching strings.
type Kind uint8

const (
	KindUnknown Kind = iota

	// Storage layer.
	KindIoError
	KindCorruption
	KindInvalidOperation
	KindSerializationError

	// State layer.
	KindTrieError
	KindProofVerificationFailed
	KindRootHashMismatch
	KindStateInconsistency
	KindSnapshotVerificationFailed
	KindVerificationFailed

	// Transpilation.
	KindArchitectureIncompatibility
	KindTypeMismatch
	KindUnsupportedFeature
	KindMappingError
	KindParseError

	// Security gate.
	KindCapabilityNotFound
	KindCapabilityExpired
	KindCapabilityDenied
	KindInvalidCapability

	// Resource layer.
	KindResourceLimitExceeded
	KindTimeout
	KindCancelled

	// Executor catch-alls.
	KindExecutionFailed
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindIoError:
		return "IoError"
	case KindCorruption:
		return "Corruption"
	case KindInvalidOperation:
		return "InvalidOperation"
	case KindSerializationError:
		return "SerializationError"
	case KindTrieError:
		return "TrieError"
	case KindProofVerificationFailed:
		return "ProofVerificationFailed"
	case KindRootHashMismatch:
		return "RootHashMismatch"
	case KindStateInconsistency:
		return "StateInconsistency"
	case KindSnapshotVerificationFailed:
		return "SnapshotVerificationFailed"
	case KindVerificationFailed:
		return "VerificationFailed"
	case KindArchitectureIncompatibility:
		return "ArchitectureIncompatibility"
	case KindTypeMismatch:
		return "TypeMismatch"
	case KindUnsupportedFeature:
		return "UnsupportedFeature"
	case KindMappingError:
		return "MappingError"
	case KindParseError:
		return "ParseError"
	case KindCapabilityNotFound:
		return "CapabilityNotFound"
	case KindCapabilityExpired:
		return "CapabilityExpired"
	case KindCapabilityDenied:
		return "CapabilityDenied"
	case KindInvalidCapability:
		return "InvalidCapability"
	case KindResourceLimitExceeded:
		return "ResourceLimitExceeded"
	case KindTimeout:
		return "Timeout"
	case KindCancelled:
		return "Cancelled"
	case KindExecutionFailed:
		return "ExecutionFailed"
	case KindInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Error is the concrete typed error every public dotvm/dotdb operation
// returns. Op names the failing operation (e.g. "PageManager.AllocatePage")
// so logs and tests can pinpoint the boundary that was crossed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an Error, wrapping cause (if any) with a stack trace via
// pkg/errors so the boundary crossing is debuggable without the typed Kind
// leaking implementation detail to callers that only want to switch on it.
func New(kind Kind, op string, cause error) *Error {
	if cause != nil {
		cause = errors.WithStack(cause)
	}
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if as, ok := err.(*Error); ok {
			e = as
			if e.Kind == kind {
				return true
			}
			err = e.Err
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
