package shared

import (
	"errors"
	"fmt"
)

// Kind classifies a security error into one of the stable categories the
// engine exposes to callers. Kinds are part of the API contract; messages
// are not.
type Kind int

const (
	// KindUnknown covers internal faults that fit no other category.
	KindUnknown Kind = iota
	// KindValidation indicates malformed or missing required input.
	KindValidation
	// KindNotFound indicates a referenced entity is absent.
	KindNotFound
	// KindAlreadyExists indicates a uniqueness violation on create.
	KindAlreadyExists
	// KindCycle indicates a hierarchy edge would create a cycle.
	KindCycle
	// KindSeparationOfDuty indicates an SSD/DSD cardinality violation.
	KindSeparationOfDuty
	// KindTemporalConstraint indicates activation outside a valid window.
	KindTemporalConstraint
	// KindNoActivatableRole indicates no requested role survived activation.
	KindNoActivatableRole
	// KindNotAuthorized indicates a delegated-admin scope check failed.
	KindNotAuthorized
	// KindSessionClosed indicates use of a closed or expired session.
	KindSessionClosed
	// KindNotActive indicates a drop of a role that is not active.
	KindNotActive
	// KindStoreUnavailable indicates an entity-store I/O failure. This is
	// the only kind eligible for caller-directed retry.
	KindStoreUnavailable
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	KindValidation:         "validation",
	KindNotFound:           "not found",
	KindAlreadyExists:      "already exists",
	KindCycle:              "cycle",
	KindSeparationOfDuty:   "separation of duty",
	KindTemporalConstraint: "temporal constraint",
	KindNoActivatableRole:  "no activatable role",
	KindNotAuthorized:      "not authorized",
	KindSessionClosed:      "session closed",
	KindNotActive:          "not active",
	KindStoreUnavailable:   "store unavailable",
}

// String returns the stable name for the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// SecurityError carries a stable kind alongside a human-readable message.
type SecurityError struct {
	Kind Kind
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *SecurityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap exposes the wrapped cause, if any.
func (e *SecurityError) Unwrap() error {
	return e.Err
}

// E constructs a SecurityError with a formatted message.
func E(kind Kind, format string, args ...any) error {
	return &SecurityError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap constructs a SecurityError around an underlying cause.
func Wrap(kind Kind, err error, format string, args ...any) error {
	return &SecurityError{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from err, or KindUnknown when err carries none.
func KindOf(err error) Kind {
	var se *SecurityError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
