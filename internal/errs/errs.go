// Package errs provides classified errors consumed by the retry supervisor.
package errs

import (
	"errors"
	"fmt"
)

// Class partitions failures by how the consumer pipeline must react.
type Class int

const (
	// ClassTransient failures are retried with backoff and, on exhaustion,
	// nacked so the uncommitted offset is redelivered.
	ClassTransient Class = iota
	// ClassPermanent failures skip the record: the raw bytes go to the
	// quarantine topic and the offset advances.
	ClassPermanent
	// ClassFatal failures halt the worker; the offset is not committed.
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassPermanent:
		return "permanent"
	case ClassFatal:
		return "fatal"
	default:
		return "transient"
	}
}

// E carries a failure class and a short machine-readable code alongside the
// wrapped cause.
type E struct {
	class Class
	code  string
	err   error
}

func (e *E) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *E) Unwrap() error { return e.err }

// Class reports the failure class.
func (e *E) Class() Class { return e.class }

// Code reports the machine-readable failure code.
func (e *E) Code() string { return e.code }

// Transient wraps err as a retryable failure.
func Transient(code string, err error) error {
	return &E{class: ClassTransient, code: code, err: err}
}

// Permanent wraps err as a skip-and-quarantine failure.
func Permanent(code string, err error) error {
	return &E{class: ClassPermanent, code: code, err: err}
}

// Permanentf builds a Permanent failure from a format string.
func Permanentf(code, format string, args ...any) error {
	return &E{class: ClassPermanent, code: code, err: fmt.Errorf(format, args...)}
}

// Fatal wraps err as a halt-the-worker failure.
func Fatal(code string, err error) error {
	return &E{class: ClassFatal, code: code, err: err}
}

// ClassOf extracts the failure class from err. Unclassified errors default to
// ClassTransient so that nothing is quarantined without an explicit decision.
func ClassOf(err error) Class {
	var e *E
	if errors.As(err, &e) {
		return e.Class()
	}
	return ClassTransient
}

// CodeOf extracts the failure code, or an empty string for plain errors.
func CodeOf(err error) string {
	var e *E
	if errors.As(err, &e) {
		return e.Code()
	}
	return ""
}

// IsPermanent reports whether err must be quarantined instead of retried.
func IsPermanent(err error) bool { return err != nil && ClassOf(err) == ClassPermanent }

// IsFatal reports whether err must halt the consumer worker.
func IsFatal(err error) bool { return err != nil && ClassOf(err) == ClassFatal }
