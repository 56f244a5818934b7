// Package faults classifies specd errors and maps them to machine-readable
// reason codes.
//
// # Classes
//
//   - ClassProtocol: illegal transitions, dependency cycles, duplicate ids.
//     Rejected and reported, never auto-corrected.
//   - ClassCapability: a role attempted an action it does not hold. Fatal to
//     the session and escalated for a human decision.
//   - ClassConsistency: documentation no longer matches the authoritative
//     artifact. Always halts the session.
//   - ClassInfrastructure: store or tool unavailable. Retried with bounded
//     backoff, then the unit of work is marked stalled.
//
// Domain errors implement Coded. Wrapped errors are classified through
// errors.As, so callers may wrap freely with fmt.Errorf("...: %w", err).
package faults

import (
	"errors"
)

// Class is the error category an error belongs to.
type Class string

const (
	ClassUnknown        Class = "unknown"
	ClassProtocol       Class = "protocol"
	ClassCapability     Class = "capability"
	ClassConsistency    Class = "consistency"
	ClassInfrastructure Class = "infrastructure"
)

// Reason codes surfaced to operators and CLI callers.
const (
	CodeCapabilityViolation = "capability_violation"
	CodeInvalidTransition   = "invalid_transition"
	CodeMissingArtifact     = "missing_artifact"
	CodeCyclicDependency    = "cyclic_dependency"
	CodeDuplicateID         = "duplicate_id"
	CodeNotFound            = "not_found"
	CodeImmutable           = "immutable"
	CodeRevisionConflict    = "revision_conflict"
	CodeConsistency         = "consistency_mismatch"
	CodeUnavailable         = "unavailable"
	CodeLeaseHeld           = "lease_held"
	CodeClarify             = "clarify"
	CodeStalled             = "stalled"
	CodeInvalidInput        = "invalid_input"
	CodeInternal            = "internal"
)

// Coded is implemented by every specd domain error.
type Coded interface {
	error
	Code() string
	Class() Class
}

// codedError is a sentinel that carries a code and class.
type codedError struct {
	msg   string
	code  string
	class Class
}

func (e *codedError) Error() string { return e.msg }
func (e *codedError) Code() string  { return e.code }
func (e *codedError) Class() Class  { return e.class }

// New returns a sentinel error carrying a reason code and class.
func New(msg, code string, class Class) error {
	return &codedError{msg: msg, code: code, class: class}
}

// CodeOf returns the reason code of the first Coded error in err's chain.
// Errors outside the taxonomy map to CodeInternal; nil maps to "".
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var c Coded
	if errors.As(err, &c) {
		return c.Code()
	}
	return CodeInternal
}

// ClassOf returns the class of the first Coded error in err's chain.
func ClassOf(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	var c Coded
	if errors.As(err, &c) {
		return c.Class()
	}
	return ClassUnknown
}

// IsRetryable reports whether err is transient. Only infrastructure faults
// are retried; protocol and capability faults never are.
func IsRetryable(err error) bool {
	return ClassOf(err) == ClassInfrastructure
}

// NeedsHuman reports whether err should be surfaced as a CLARIFY outcome.
func NeedsHuman(err error) bool {
	switch ClassOf(err) {
	case ClassProtocol, ClassCapability:
		return true
	default:
		return false
	}
}
