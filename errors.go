package odb

import (
	"fmt"
)

// ClosedError reports an access to an entity whose owning realm has been
// closed. It is always raised locally, before any engine state is touched.
type ClosedError struct {
	Entity string
}

func closedErr(entity string) error {
	return &ClosedError{Entity: entity}
}

func (e *ClosedError) Error() string {
	return fmt.Sprintf("%s accessed after its owning realm was closed", e.Entity)
}

// UnsupportedError reports a persistence or observation call on an
// unmanaged (detached) container.
type UnsupportedError struct {
	Op string
}

func unsupportedErr(op string) error {
	return &UnsupportedError{Op: op}
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s is not supported on an unmanaged collection", e.Op)
}

// OpError wraps an engine-reported failure with the operation that hit it.
type OpError struct {
	Msg string
	Err error
}

func opErrf(err error, format string, args ...any) error {
	return &OpError{Msg: fmt.Sprintf(format, args...), Err: err}
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func (e *OpError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

// NoSuchElementError reports iterator protocol violations: removing before a
// successful advance, advancing past the end, or removing from an empty
// collection. Unlike OpError it signals caller misuse, not a data problem.
type NoSuchElementError struct {
	Msg string
}

func noSuchElementErrf(format string, args ...any) error {
	return &NoSuchElementError{Msg: fmt.Sprintf(format, args...)}
}

func (e *NoSuchElementError) Error() string {
	return e.Msg
}

// ArgError reports a lookup with an unknown class or property name.
type ArgError struct {
	Msg string
}

func argErrf(format string, args ...any) error {
	return &ArgError{Msg: fmt.Sprintf(format, args...)}
}

func (e *ArgError) Error() string {
	return e.Msg
}
