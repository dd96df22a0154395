package probe

import (
	"context"
	"errors"
	"os/exec"
)

// Commander runs local tools. The exit code is returned separately from err:
// err is only set when the tool could not be run or was killed.
type Commander interface {
	LookPath(name string) (string, error)
	Run(ctx context.Context, name string, args ...string) (out []byte, exitCode int, err error)
}

// ExecCommander runs tools with os/exec.
type ExecCommander struct{}

// LookPath implements Commander.
func (ExecCommander) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// Run implements Commander.
func (ExecCommander) Run(ctx context.Context, name string, args ...string) ([]byte, int, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err == nil {
		return out, 0, nil
	}
	if ctx.Err() != nil {
		return out, -1, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out, exitErr.ExitCode(), nil
	}
	return out, -1, err
}
