package executor

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindConnectionFailed Kind = iota + 1
	KindNonZeroExit
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindConnectionFailed:
		return "connection_failed"
	case KindNonZeroExit:
		return "non_zero_exit"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

var (
	ErrConnectionFailed = errors.New("connection failed")
	ErrNonZeroExit      = errors.New("non-zero exit status")
	ErrTimeout          = errors.New("command timed out")
	ErrEmptyCommand     = errors.New("command must not be empty")
)

// ExecError is returned by runners for every failed execution.
// Status and Stderr are set for KindNonZeroExit only.
type ExecError struct {
	Kind    Kind
	Machine string
	Command string
	Status  int
	Stderr  string
	Err     error
}

func (e *ExecError) Error() string {
	switch e.Kind {
	case KindNonZeroExit:
		return fmt.Sprintf("%s: %q exited with status %d: %s", e.Machine, e.Command, e.Status, e.Stderr)
	case KindTimeout:
		return fmt.Sprintf("%s: %q timed out", e.Machine, e.Command)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: connection failed: %v", e.Machine, e.Err)
		}
		return fmt.Sprintf("%s: connection failed", e.Machine)
	}
}

func (e *ExecError) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *ExecError) Is(target error) bool {
	switch target {
	case ErrConnectionFailed:
		return e.Kind == KindConnectionFailed
	case ErrNonZeroExit:
		return e.Kind == KindNonZeroExit
	case ErrTimeout:
		return e.Kind == KindTimeout
	}
	return false
}

func NonZeroExit(status int, stderr string) *ExecError {
	return &ExecError{Kind: KindNonZeroExit, Status: status, Stderr: stderr}
}

func ConnectionFailed(err error) *ExecError {
	return &ExecError{Kind: KindConnectionFailed, Err: err}
}

func Timeout(err error) *ExecError {
	return &ExecError{Kind: KindTimeout, Err: err}
}

func (e *ExecError) on(machine, command string) *ExecError {
	e.Machine = machine
	e.Command = command
	return e
}
