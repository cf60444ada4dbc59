package gateway

import (
	"errors"
	"fmt"
)

var (
	ErrEntityNotFound     = errors.New("entity not found")
	ErrAmbiguousReference = errors.New("ambiguous reference")
	ErrUnsupportedValue   = errors.New("unsupported property value")
)

// BuildError is returned when wire elements cannot be produced for an entity,
// for example because a reference cannot be resolved.
type BuildError struct {
	msg string
	err error
}

func NewBuildError(err error, format string, args ...any) *BuildError {
	return &BuildError{msg: fmt.Sprintf(format, args...), err: err}
}

func (e *BuildError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return e.msg + ": " + e.err.Error()
}

func (e *BuildError) Unwrap() error {
	return e.err
}

// LoadError is returned when a previously built wire fragment cannot be
// decoded.
type LoadError struct {
	msg string
	err error
}

func NewLoadError(err error, format string, args ...any) *LoadError {
	return &LoadError{msg: fmt.Sprintf(format, args...), err: err}
}

func (e *LoadError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return e.msg + ": " + e.err.Error()
}

func (e *LoadError) Unwrap() error {
	return e.err
}
