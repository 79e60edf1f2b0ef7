package api

import "fmt"

// Status represents the lifecycle state of a process instance.
//
// The integer codes are stable and are what persistence backends store.
type Status int

const (
	StatusPending   Status = 0
	StatusActive    Status = 1
	StatusCompleted Status = 2
	StatusAborted   Status = 3
	StatusSuspended Status = 4
	StatusError     Status = 5
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusActive:
		return "ACTIVE"
	case StatusCompleted:
		return "COMPLETED"
	case StatusAborted:
		return "ABORTED"
	case StatusSuspended:
		return "SUSPENDED"
	case StatusError:
		return "ERROR"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Terminal reports whether the status is COMPLETED or ABORTED. Terminal
// instances are read-only.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAborted
}

// ReadMode selects how a store hands out instances.
type ReadMode int

const (
	// ReadOnly returns a detached snapshot that rejects mutating calls.
	ReadOnly ReadMode = iota
	// Mutable returns an instance that can be reattached to the runtime.
	Mutable
)

func (m ReadMode) String() string {
	if m == Mutable {
		return "MUTABLE"
	}
	return "READ_ONLY"
}
