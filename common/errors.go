package common

import (
	"errors"
	"fmt"
)

// Recoverable errors. They propagate unchanged to the caller.
var (
	ErrNotFound      = errors.New("no such file or directory")
	ErrAlreadyExists = errors.New("file exists")
	ErrNotDir        = errors.New("not a directory")
	ErrIsDir         = errors.New("is a directory")
	ErrNoSpace       = errors.New("no space left on device")
	ErrNameTooLong   = errors.New("file name too long")
	ErrInvalid       = errors.New("invalid argument")
	ErrBusy          = errors.New("device or resource busy")
	ErrUnimplemented = errors.New("function not implemented")
)

// ErrCorruption is matched by every CorruptionError.
var ErrCorruption = errors.New("filesystem corruption")

// CorruptionError reports a broken on-disk or in-memory invariant. It is
// only ever raised with Corrupt and is never returned as an ordinary error.
type CorruptionError struct {
	Msg string
}

func (e *CorruptionError) Error() string {
	return "sfs: " + e.Msg
}

func (e *CorruptionError) Is(target error) bool {
	return target == ErrCorruption
}

// Corrupt aborts the current operation. Callers above the engine may
// recover the *CorruptionError to halt the filesystem instance, but must
// not retry.
func Corrupt(format string, a ...interface{}) {
	panic(&CorruptionError{Msg: fmt.Sprintf(format, a...)})
}
