// Package terminal hands the controlling terminal between the shell and its
// foreground jobs.
package terminal

import (
	"errors"
	"fmt"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

type Controller struct {
	fd        int
	shellPgid int
	enabled   bool
	saved     *term.State
}

// New returns a controller for f, normally os.Stdin. When f is not a
// terminal every operation is a no-op.
func New(f *os.File) *Controller {
	fd := int(f.Fd())
	return &Controller{
		fd:        fd,
		shellPgid: unix.Getpgrp(),
		enabled:   term.IsTerminal(fd),
	}
}

// Interactive reports whether the controller owns a real terminal.
func (c *Controller) Interactive() bool {
	return c.enabled
}

// Give makes pgid the terminal's foreground process group and remembers the
// shell's terminal modes. SIGTTOU and SIGTTIN stay ignored until Reclaim, so
// the shell cannot be stopped for touching the terminal while the job owns
// it. Children must not be spawned in between: they would inherit the
// ignored dispositions.
func (c *Controller) Give(pgid int) error {
	if !c.enabled {
		return nil
	}
	if st, err := term.GetState(c.fd); err == nil {
		c.saved = st
	}
	signal.Ignore(unix.SIGTTOU, unix.SIGTTIN)
	return c.setForeground(pgid)
}

// Reclaim gives the terminal back to the shell's process group, restores the
// modes saved by Give and the default SIGTTOU/SIGTTIN dispositions.
func (c *Controller) Reclaim() error {
	if !c.enabled {
		return nil
	}
	// tcsetpgrp from a background group raises SIGTTOU
	signal.Ignore(unix.SIGTTOU, unix.SIGTTIN)
	defer signal.Reset(unix.SIGTTOU, unix.SIGTTIN)

	err := c.setForeground(c.shellPgid)
	if c.saved != nil {
		if rerr := term.Restore(c.fd, c.saved); rerr != nil && err == nil {
			err = fmt.Errorf("restore terminal modes: %w", rerr)
		}
		c.saved = nil
	}
	return err
}

func (c *Controller) setForeground(pgid int) error {
	return ignoreNoTTY(unix.IoctlSetPointerInt(c.fd, unix.TIOCSPGRP, pgid))
}

// ignoreNoTTY drops ENOTTY: running without a terminal is not an error.
func ignoreNoTTY(err error) error {
	if errors.Is(err, unix.ENOTTY) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("tcsetpgrp: %w", err)
	}
	return nil
}
