// Package failure classifies pipeline errors and maps each class to a
// handling action.
package failure

import (
	"errors"
	"fmt"
)

// Class identifies what kind of step failed
type Class string

const (
	ScanFailure              Class = "SCAN_FAILURE"
	UploadFailure            Class = "UPLOAD_FAILURE"
	PersistenceCritical      Class = "PERSISTENCE_CRITICAL"
	PersistenceSupplementary Class = "PERSISTENCE_SUPPLEMENTARY"
	ScoringFailure           Class = "SCORING_FAILURE"
	QueueUnavailable         Class = "QUEUE_UNAVAILABLE"
	InvalidPayload           Class = "INVALID_PAYLOAD"
)

// Action is what a worker does with a failure of a given class
type Action int

const (
	// Retry returns the error to the queue so the task is redelivered with backoff.
	Retry Action = iota
	// Fallback substitutes a deterministic result and carries on.
	Fallback
	// Skip logs the failure and carries on without the result.
	Skip
	// Discard fails the task permanently without further attempts.
	Discard
)

func (a Action) String() string {
	switch a {
	case Retry:
		return "retry"
	case Fallback:
		return "fallback"
	case Skip:
		return "skip"
	case Discard:
		return "discard"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Error is a classified pipeline error
type Error struct {
	Class Class
	Op    string
	Err   error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap classifies err. A nil err stays nil.
func Wrap(class Class, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: class, Op: op, Err: err}
}

// ClassOf returns the class of the outermost classified error in err's chain.
func ClassOf(err error) (Class, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Class, true
	}
	return "", false
}

// Code returns the machine-readable code for err, or an empty string.
func Code(err error) string {
	class, _ := ClassOf(err)
	return string(class)
}

// Policy maps failure classes to actions
type Policy map[Class]Action

// DefaultPolicy is the pipeline's standard handling table.
var DefaultPolicy = Policy{
	ScanFailure:              Retry,
	UploadFailure:            Skip,
	PersistenceCritical:      Retry,
	PersistenceSupplementary: Skip,
	ScoringFailure:           Fallback,
	QueueUnavailable:         Retry,
	InvalidPayload:           Discard,
}

// ActionFor looks up the action for err. Unclassified errors are retried.
func (p Policy) ActionFor(err error) Action {
	class, ok := ClassOf(err)
	if !ok {
		return Retry
	}
	if a, ok := p[class]; ok {
		return a
	}
	return Retry
}
