package executor

import (
	"os"
	"os/exec"
	"syscall"
)

// Spawner starts one child with files as its descriptor table, placed in
// process group pgid (0: a new group led by the child).
type Spawner interface {
	Spawn(path string, argv []string, files []uintptr, pgid int) (pid int, err error)
}

// ForkExec spawns children with syscall.ForkExec. The child joins its process
// group before exec, and an exec failure is reported back to the parent after
// the child has exited, so a failed stage never runs shell code.
type ForkExec struct {
	// Env defaults to the shell's environment.
	Env []string
}

func (f ForkExec) Spawn(path string, argv []string, files []uintptr, pgid int) (int, error) {
	env := f.Env
	if env == nil {
		env = os.Environ()
	}
	return syscall.ForkExec(path, argv, &syscall.ProcAttr{
		Env:   env,
		Files: files,
		Sys: &syscall.SysProcAttr{
			Setpgid: true,
			Pgid:    pgid,
		},
	})
}

// resolve finds name on PATH. Names that cannot be resolved are returned
// unchanged so the exec failure carries the real errno.
func resolve(name string) string {
	if path, err := exec.LookPath(name); err == nil {
		return path
	}
	return name
}
