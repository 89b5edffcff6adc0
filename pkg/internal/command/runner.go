// Package command runs the external tools the package and service backends
// delegate to.
package command

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/Chrono-byte/flux/pkg/errors"
	"github.com/Chrono-byte/flux/pkg/logging"
	"github.com/rs/zerolog"
)

// Runner executes a command and returns its standard output
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs commands with os/exec. Cancellation and deadlines come
// from the context.
type ExecRunner struct {
	logger zerolog.Logger
}

// NewExecRunner creates a runner backed by real processes
func NewExecRunner() *ExecRunner {
	return &ExecRunner{logger: logging.GetLogger("command")}
}

// Run executes name with args. A non-zero exit becomes an ErrCommand error
// carrying the command's stderr.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	logging.LogCommand(r.logger, name, args)

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), "LC_ALL=C")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if stderr.Len() > 0 {
		r.logger.Debug().Str("command", name).Str("stderr", stderr.String()).Msg("Command stderr")
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stdout.String(), errors.Wrapf(ctxErr, errors.ErrTimeout, "%s %s did not finish", name, strings.Join(args, " "))
		}
		return stdout.String(), errors.Wrapf(err, errors.ErrCommand, "%s %s failed", name, strings.Join(args, " ")).
			WithDetail("stderr", strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// LookPath reports whether a binary is on PATH
func LookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// WithSudo prefixes a command with sudo when enabled
func WithSudo(useSudo bool, name string, args ...string) (string, []string) {
	if !useSudo {
		return name, args
	}
	return "sudo", append([]string{name}, args...)
}
