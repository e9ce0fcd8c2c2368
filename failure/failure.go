// Package failure defines the error taxonomy shared by every layer of the
// request pipeline.
//
// Every concrete error carries a Code and matches the package sentinel for
// that code through errors.Is, so callers can branch either on the concrete
// type (errors.As) or on the class of failure (errors.Is).
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies a failure.
type Code string

const (
	CodeConstruction       Code = "CONSTRUCTION"
	CodeUnsupportedFeature Code = "UNSUPPORTED_FEATURE"
	CodeSerialization      Code = "SERIALIZATION"
	CodeProcess            Code = "PROCESS"
	CodeProtocolVersion    Code = "PROTOCOL_VERSION"
)

type sentinel struct {
	code    Code
	message string
}

func (s *sentinel) Error() string { return s.message }

func (s *sentinel) Code() Code { return s.code }

// Sentinels for errors.Is comparisons. They carry no detail.
var (
	ErrConstruction       error = &sentinel{CodeConstruction, "invalid options"}
	ErrUnsupportedFeature error = &sentinel{CodeUnsupportedFeature, "unsupported option"}
	ErrSerialization      error = &sentinel{CodeSerialization, "serialization failure"}
	ErrProcess            error = &sentinel{CodeProcess, "process failure"}
	ErrProtocolVersion    error = &sentinel{CodeProtocolVersion, "unsupported protocol version"}
)

func matches(code Code, target error) bool {
	var s *sentinel
	if errors.As(target, &s) {
		return s.code == code
	}
	return false
}

// GetCode extracts the failure code from err, or "" if err is not one of ours.
func GetCode(err error) Code {
	var c interface{ Code() Code }
	if errors.As(err, &c) {
		return c.Code()
	}
	return ""
}

// ConstructionError reports an Options value that violates its invariants.
type ConstructionError struct {
	Field  string
	Reason string
}

func (e *ConstructionError) Error() string {
	if e.Field == "" {
		return "invalid options: " + e.Reason
	}
	return fmt.Sprintf("invalid options: %s: %s", e.Field, e.Reason)
}

func (e *ConstructionError) Code() Code { return CodeConstruction }

func (e *ConstructionError) Is(target error) bool { return matches(CodeConstruction, target) }

// Construction is shorthand for &ConstructionError{...}.
func Construction(field, format string, args ...any) *ConstructionError {
	return &ConstructionError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// UnsupportedFeatureError is raised by an adapter for an option name it has
// no table entry for.
type UnsupportedFeatureError struct {
	Option  string
	Adapter string
}

func (e *UnsupportedFeatureError) Error() string {
	return fmt.Sprintf("option %q is not supported by the %s adapter", e.Option, e.Adapter)
}

func (e *UnsupportedFeatureError) Code() Code { return CodeUnsupportedFeature }

func (e *UnsupportedFeatureError) Is(target error) bool {
	return matches(CodeUnsupportedFeature, target)
}

// SerializationError reports a payload that could not be encoded, or a
// decode failure on a channel where that is fatal.
type SerializationError struct {
	Op    string
	Cause error
}

func (e *SerializationError) Error() string {
	if e.Cause == nil {
		return "serialization failure: " + e.Op
	}
	return fmt.Sprintf("serialization failure: %s: %v", e.Op, e.Cause)
}

func (e *SerializationError) Unwrap() error { return e.Cause }

func (e *SerializationError) Code() Code { return CodeSerialization }

func (e *SerializationError) Is(target error) bool { return matches(CodeSerialization, target) }

// ProcessKind sub-classifies a ProcessError.
type ProcessKind string

const (
	KindSpawn       ProcessKind = "spawn"
	KindExit        ProcessKind = "exit"
	KindTimeout     ProcessKind = "timeout"
	KindIdleTimeout ProcessKind = "idle-timeout"
)

// ProcessError reports a child process that could not be spawned, exited
// abnormally without a response trailer, or was killed on timeout. Output
// holds whatever the child wrote to stdout before it stopped.
type ProcessError struct {
	Kind     ProcessKind
	ExitCode int
	Output   []byte
	Stderr   []byte
	Cause    error

	// Response is the degraded response parsed from Output, when there is
	// one. Its concrete type belongs to the server package.
	Response any
}

func (e *ProcessError) Error() string {
	var b strings.Builder
	b.WriteString("process failure (")
	b.WriteString(string(e.Kind))
	b.WriteString(")")
	if e.Kind == KindExit {
		fmt.Fprintf(&b, ": exit code %d", e.ExitCode)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *ProcessError) Unwrap() error { return e.Cause }

func (e *ProcessError) Code() Code { return CodeProcess }

func (e *ProcessError) Is(target error) bool { return matches(CodeProcess, target) }

// IsTimeout reports whether the child was killed by either timeout.
func (e *ProcessError) IsTimeout() bool {
	return e.Kind == KindTimeout || e.Kind == KindIdleTimeout
}

// ProtocolVersionError is raised by a facade before any process spawns when
// the request asks for an HTTP version other than 1.0 or 1.1.
type ProtocolVersionError struct {
	Version string
}

func (e *ProtocolVersionError) Error() string {
	return fmt.Sprintf("HTTP protocol version %q is not supported (want 1.0 or 1.1)", e.Version)
}

func (e *ProtocolVersionError) Code() Code { return CodeProtocolVersion }

func (e *ProtocolVersionError) Is(target error) bool { return matches(CodeProtocolVersion, target) }

// IsTimeout reports whether err is a timeout-classified ProcessError.
func IsTimeout(err error) bool {
	var pe *ProcessError
	return errors.As(err, &pe) && pe.IsTimeout()
}
