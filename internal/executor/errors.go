package executor

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

// LaunchError describes a pipeline stage that could not be started.
type LaunchError struct {
	Stage int
	// Op is the failing call: "pipe", "open" or "fork/exec".
	Op   string
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	cause := e.Err
	var pathErr *fs.PathError
	if errors.As(cause, &pathErr) {
		cause = pathErr.Err
	}
	var errno syscall.Errno
	if errors.As(cause, &errno) {
		return fmt.Sprintf("%s: %v (errno %d)", msg, cause, int(errno))
	}
	return fmt.Sprintf("%s: %v", msg, cause)
}

func (e *LaunchError) Unwrap() error { return e.Err }
