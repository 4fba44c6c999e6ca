//go:build unix

package hop

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/dcos/dcos-node/pkg/logger"
)

// ExecRunner runs the command as a local child process in its own process
// group. When stdin is a terminal the group is moved to the foreground for
// the life of the child, then the caller's group is restored.
type ExecRunner struct {
	Stdin  *os.File
	Stdout io.Writer
	Stderr io.Writer
	Logger *logger.Logger
}

// NewExecRunner returns a runner wired to the process's own stdio.
func NewExecRunner(log *logger.Logger) *ExecRunner {
	return &ExecRunner{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Logger: log,
	}
}

// Run starts argv and waits for it to exit.
func (r *ExecRunner) Run(ctx context.Context, argv []string) (int, error) {
	if len(argv) == 0 {
		return 1, errors.New("empty command")
	}
	log := r.Logger
	if log == nil {
		log = logger.Discard()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if r.Stdin != nil {
		cmd.Stdin = r.Stdin
	}
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr

	// fd is the controlling terminal when stdin is one, else -1
	fd := -1
	var foreground int
	if r.Stdin != nil && term.IsTerminal(int(r.Stdin.Fd())) {
		pgrp, err := unix.IoctlGetInt(int(r.Stdin.Fd()), unix.TIOCGPGRP)
		if err != nil {
			log.Debug("reading foreground process group: %v", err)
		} else {
			fd = int(r.Stdin.Fd())
			foreground = pgrp
		}
	}

	attr := &syscall.SysProcAttr{Setpgid: true}
	if fd >= 0 {
		attr.Foreground = true
		attr.Ctty = fd
	}
	cmd.SysProcAttr = attr

	// Cancellation takes down the whole group, including the remote hop
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}

	err := cmd.Run()

	if fd >= 0 {
		restoreForeground(fd, foreground, log)
	}

	return exitStatus(err)
}

// restoreForeground hands the terminal back to pgrp. The caller is in the
// background at this point, so SIGTTOU is ignored around the ioctl.
func restoreForeground(fd, pgrp int, log *logger.Logger) {
	signal.Ignore(syscall.SIGTTOU)
	defer signal.Reset(syscall.SIGTTOU)

	if err := unix.IoctlSetPointerInt(fd, unix.TIOCSPGRP, pgrp); err != nil {
		log.Warn("restoring terminal foreground process group: %v", err)
	}
}

func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}

	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal()), nil
		}
		return ee.ExitCode(), nil
	}
	return 1, err
}
