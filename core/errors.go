package core

import (
	"errors"
	"fmt"
)

// Common errors returned by the kernel and its collaborators
var (
	ErrInvalidArgument = errors.New("invalid argument")

	// node errors
	ErrNodeNotFound            = errors.New("node not found")
	ErrNodeAlreadyExists       = errors.New("node already exists")
	ErrNodeNotVisible          = errors.New("node not visible to the current frame")
	ErrCannotPersistPinnedNode = errors.New("cannot persist pinned node")
	ErrCannotGlobalize         = errors.New("node cannot be globalized")
	ErrCannotDropNode          = errors.New("node cannot be dropped")
	ErrInvalidModule           = errors.New("invalid module for globalize")
	ErrNonGlobalReference      = errors.New("non-global reference cannot be persisted")

	// ownership errors
	ErrNodeNotOwned  = errors.New("node not owned by the current frame")
	ErrDuplicateOwn  = errors.New("duplicate own token")
	ErrNodeLocked    = errors.New("node has open substate locks")
	ErrOwnedNodeLeak = errors.New("owned nodes left in frame")

	// substate and lock errors
	ErrSubstateNotFound          = errors.New("substate not found")
	ErrSubstateLocked            = errors.New("substate locked")
	ErrLockNotFound              = errors.New("lock handle not found")
	ErrLockNotMutable            = errors.New("lock is not mutable")
	ErrLockNotOwnedByFrame       = errors.New("lock handle belongs to another frame")
	ErrUnmodifiedBaseOnNew       = errors.New("unmodified base lock on new substate")
	ErrUnmodifiedBaseOnUpdated   = errors.New("unmodified base lock on updated substate")
	ErrForceWriteNotAllowed      = errors.New("force write not allowed for entity")
	ErrHeapSubstateForceWrite    = errors.New("force write on heap substate")
	ErrOpenLocksOnFramePop       = errors.New("frame popped with open locks")
	ErrKeyNotAllowedForPartition = errors.New("substate key kind not allowed for operation")

	// limit errors
	ErrMaxCallDepthExceeded = errors.New("max call depth exceeded")
	ErrMaxSubstateSize      = errors.New("substate too large")
	ErrTooManySubstates     = errors.New("too many substates accessed")
	ErrPayloadTooLarge      = errors.New("invocation payload too large")

	// dispatch errors
	ErrPackageNotFound   = errors.New("package not found")
	ErrBlueprintNotFound = errors.New("blueprint not found")
	ErrFunctionNotFound  = errors.New("function not found")
	ErrExecutorNotFound  = errors.New("no executor for vm kind")
	ErrInvalidFeeLock    = errors.New("fee can only be locked by a vault method")
)

// ErrorKind groups errors for receipts and metrics.
type ErrorKind string

const (
	KindNone        ErrorKind = ""
	KindLock        ErrorKind = "lock"
	KindOwnership   ErrorKind = "ownership"
	KindLimit       ErrorKind = "limit"
	KindCosting     ErrorKind = "costing"
	KindApplication ErrorKind = "application"
	KindKernel      ErrorKind = "kernel"
)

// ApplicationError is raised by contract logic itself.
type ApplicationError struct {
	Code    string
	Message string
}

func (e *ApplicationError) Error() string {
	if e.Code == "" {
		return "application error: " + e.Message
	}
	return fmt.Sprintf("application error [%s]: %s", e.Code, e.Message)
}

// NewApplicationError creates an ApplicationError
func NewApplicationError(code, format string, args ...any) error {
	return &ApplicationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CostingError wraps a fee reserve failure so it can be told apart from
// kernel failures without importing the costing package.
type CostingError struct {
	Err error
}

func (e *CostingError) Error() string {
	return "costing error: " + e.Err.Error()
}

func (e *CostingError) Unwrap() error {
	return e.Err
}

var errorKinds = []struct {
	kind ErrorKind
	errs []error
}{
	{KindLock, []error{ErrSubstateLocked, ErrLockNotFound, ErrLockNotMutable, ErrLockNotOwnedByFrame,
		ErrUnmodifiedBaseOnNew, ErrUnmodifiedBaseOnUpdated, ErrForceWriteNotAllowed, ErrHeapSubstateForceWrite,
		ErrOpenLocksOnFramePop}},
	{KindOwnership, []error{ErrNodeNotOwned, ErrDuplicateOwn, ErrNodeLocked, ErrOwnedNodeLeak,
		ErrCannotPersistPinnedNode, ErrNonGlobalReference, ErrNodeNotVisible, ErrCannotDropNode}},
	{KindLimit, []error{ErrMaxCallDepthExceeded, ErrMaxSubstateSize, ErrTooManySubstates, ErrPayloadTooLarge}},
}

// ClassifyError maps an error to its kind.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var appErr *ApplicationError
	if errors.As(err, &appErr) {
		return KindApplication
	}
	var costErr *CostingError
	if errors.As(err, &costErr) {
		return KindCosting
	}
	for _, group := range errorKinds {
		for _, target := range group.errs {
			if errors.Is(err, target) {
				return group.kind
			}
		}
	}
	return KindKernel
}
