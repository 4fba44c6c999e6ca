//go:build !unix

package hop

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"

	"github.com/dcos/dcos-node/pkg/logger"
)

// ExecRunner runs the command as a local child process sharing the
// caller's console.
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

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if r.Stdin != nil {
		cmd.Stdin = r.Stdin
	}
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode(), nil
	}
	return 1, err
}
