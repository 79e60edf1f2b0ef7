package api

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the engine. Callers match them with errors.Is;
// the boundary layer maps them to protocol responses.
var (
	ErrInstanceNotFound     = errors.New("process instance not found")
	ErrDuplicateInstance    = errors.New("process instance already exists")
	ErrIllegalState         = errors.New("illegal process instance state")
	ErrNodeNotFound         = errors.New("node not found")
	ErrNodeInstanceNotFound = errors.New("node instance not found")
	ErrWorkItemNotFound     = errors.New("work item not found")
	ErrIllegalSignal        = errors.New("process instance is not waiting for signal")
	ErrUnsupportedOperation = errors.New("unsupported operation")

	ErrVersionConflict       = errors.New("process instance version conflict")
	ErrNotAuthorized         = errors.New("not authorized")
	ErrInvalidTransition     = errors.New("invalid work item transition")
	ErrProcessNotFound       = errors.New("process not found")
	ErrInvalidWorkItemOutput = errors.New("invalid work item output")
)

// InstanceError wraps an error kind with the operation and instance it
// happened on.
type InstanceError struct {
	Op         string // e.g. "start", "completeWorkItem"
	ProcessID  string
	InstanceID string
	Err        error
}

func (e *InstanceError) Error() string {
	if e.ProcessID == "" {
		return fmt.Sprintf("%s instance %s: %v", e.Op, e.InstanceID, e.Err)
	}
	return fmt.Sprintf("%s instance %s of process %s: %v", e.Op, e.InstanceID, e.ProcessID, e.Err)
}

func (e *InstanceError) Unwrap() error {
	return e.Err
}

// NewInstanceError creates an InstanceError. A nil err yields nil.
func NewInstanceError(op, processID, instanceID string, err error) error {
	if err == nil {
		return nil
	}
	var ie *InstanceError
	if errors.As(err, &ie) && ie.InstanceID == instanceID {
		return err
	}
	return &InstanceError{Op: op, ProcessID: processID, InstanceID: instanceID, Err: err}
}

// IsNotFound reports whether err is one of the "addressed entity absent"
// kinds.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound) ||
		errors.Is(err, ErrNodeNotFound) ||
		errors.Is(err, ErrNodeInstanceNotFound) ||
		errors.Is(err, ErrWorkItemNotFound) ||
		errors.Is(err, ErrProcessNotFound)
}
