package portal

import (
	"errors"
	"fmt"
)

// FaultClass partitions session failures by how the engine reacts to them.
type FaultClass int

const (
	// FaultTransient covers modal interruptions, stale element handles, and
	// temporary unavailability. Retried in place with a short backoff.
	FaultTransient FaultClass = iota
	// FaultSessionLost means the whole window set/session is gone. Triggers
	// re-establishment rather than an abort.
	FaultSessionLost
	// FaultFatal aborts the run; ledgers are flushed as-is.
	FaultFatal
)

func (c FaultClass) String() string {
	switch c {
	case FaultTransient:
		return "transient"
	case FaultSessionLost:
		return "session_lost"
	case FaultFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ErrAbsent marks an expected "nothing here" result that call sites surface
// as an error for control flow (e.g. an individual no longer listed in the
// popup). It is never retried and never counts as a failure.
var ErrAbsent = errors.New("not present in portal")

// Fault wraps a session error with its classification and the operation that
// raised it.
type Fault struct {
	Class FaultClass
	Op    string
	Err   error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("portal %s: %s: %v", f.Op, f.Class, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// Transient wraps err as a retryable fault.
func Transient(op string, err error) error {
	return &Fault{Class: FaultTransient, Op: op, Err: err}
}

// SessionLost wraps err as a whole-session loss.
func SessionLost(op string, err error) error {
	return &Fault{Class: FaultSessionLost, Op: op, Err: err}
}

// Fatal wraps err as unrecoverable.
func Fatal(op string, err error) error {
	return &Fault{Class: FaultFatal, Op: op, Err: err}
}

// ClassOf extracts the fault class; unclassified errors are treated as
// transient so a raw failure from the binding is still retried.
func ClassOf(err error) FaultClass {
	var f *Fault
	if errors.As(err, &f) {
		return f.Class
	}
	return FaultTransient
}

// IsAbsent reports whether err marks a structural absence.
func IsAbsent(err error) bool {
	return errors.Is(err, ErrAbsent)
}
