package hierarchy

import (
	"errors"
	"fmt"

	"github.com/roach88/pathsync/internal/node"
)

// Error is a classified failure from locating or repairing a hierarchy.
//
// Error codes:
//   - ROOT_NOT_FOUND: the ancestor walk did not end at a parentless node
//   - INVALID_ROOT: a Hierarchy was built from a node that has a parent
//   - REPAIR_TIMED_OUT: the root lock was not granted within the timeout
//   - REPAIR_DEADLOCKED: the store aborted the repair to break a deadlock
//
// Store failures outside these categories are never converted to Error.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// RootID is the hierarchy root, when known.
	RootID node.ID

	// NodeID is the node the caller started from.
	NodeID node.ID

	// Err is the underlying store error, if any.
	Err error
}

// ErrorCode categorizes hierarchy errors.
type ErrorCode string

const (
	// CodeRootNotFound indicates a broken or cyclic ancestor chain.
	CodeRootNotFound ErrorCode = "ROOT_NOT_FOUND"

	// CodeInvalidRoot indicates a Hierarchy was requested for a non-root.
	CodeInvalidRoot ErrorCode = "INVALID_ROOT"

	// CodeRepairTimedOut indicates the root lock wait exceeded its bound.
	CodeRepairTimedOut ErrorCode = "REPAIR_TIMED_OUT"

	// CodeRepairDeadlocked indicates the repair transaction was aborted.
	CodeRepairDeadlocked ErrorCode = "REPAIR_DEADLOCKED"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.RootID != 0:
		msg += fmt.Sprintf(" (root=%d)", e.RootID)
	case e.NodeID != 0:
		msg += fmt.Sprintf(" (node=%d)", e.NodeID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying store error.
func (e *Error) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var he *Error
	if errors.As(err, &he) {
		return he.Code == code
	}
	return false
}

// IsRootNotFound reports whether err is a ROOT_NOT_FOUND error.
func IsRootNotFound(err error) bool { return hasCode(err, CodeRootNotFound) }

// IsInvalidRoot reports whether err is an INVALID_ROOT error.
func IsInvalidRoot(err error) bool { return hasCode(err, CodeInvalidRoot) }

// IsTimeout reports whether err is a REPAIR_TIMED_OUT error.
func IsTimeout(err error) bool { return hasCode(err, CodeRepairTimedOut) }

// IsDeadlock reports whether err is a REPAIR_DEADLOCKED error.
func IsDeadlock(err error) bool { return hasCode(err, CodeRepairDeadlocked) }

// IsRetryable reports whether a caller may retry the repair. The package
// itself never retries.
func IsRetryable(err error) bool { return IsTimeout(err) || IsDeadlock(err) }

func newRootNotFoundError(id node.ID, cause error) *Error {
	return &Error{
		Code:    CodeRootNotFound,
		Message: "no parentless ancestor found",
		NodeID:  id,
		Err:     cause,
	}
}

func newInvalidRootError(n node.Node) *Error {
	return &Error{
		Code:    CodeInvalidRoot,
		Message: fmt.Sprintf("node has parent %d; resolve the root first", *n.ParentID),
		NodeID:  n.ID,
	}
}

func newTimeoutError(root node.ID, cause error) *Error {
	return &Error{
		Code:    CodeRepairTimedOut,
		Message: "timed out waiting for root lock",
		RootID:  root,
		Err:     cause,
	}
}

func newDeadlockError(root node.ID, cause error) *Error {
	return &Error{
		Code:    CodeRepairDeadlocked,
		Message: "repair transaction deadlocked",
		RootID:  root,
		Err:     cause,
	}
}
