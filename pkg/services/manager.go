// Package services implements the service capability on top of systemd.
package services

import (
	"context"
	"strings"

	"github.com/Chrono-byte/flux/pkg/errors"
	"github.com/Chrono-byte/flux/pkg/internal/command"
	"github.com/Chrono-byte/flux/pkg/logging"
	"github.com/Chrono-byte/flux/pkg/types"
	"github.com/rs/zerolog"
)

// Manager is the service capability consumed by the diff engine and the transaction
type Manager interface {
	IsAvailable(ctx context.Context) bool
	Status(ctx context.Context, name string, scope types.Scope) (types.ServiceStatus, error)
	Enable(ctx context.Context, name string, scope types.Scope) error
	Disable(ctx context.Context, name string, scope types.Scope) error
	Start(ctx context.Context, name string, scope types.Scope) error
	Stop(ctx context.Context, name string, scope types.Scope) error
}

// Systemd drives systemctl. User scope uses --user; system scope runs
// through sudo when enabled.
type Systemd struct {
	runner   command.Runner
	useSudo  bool
	lookPath func(string) bool
	logger   zerolog.Logger
}

// NewSystemd creates a systemd service backend
func NewSystemd(useSudo bool, runner command.Runner) *Systemd {
	if runner == nil {
		runner = command.NewExecRunner()
	}
	return &Systemd{
		runner:   runner,
		useSudo:  useSudo,
		lookPath: command.LookPath,
		logger:   logging.GetLogger("services.systemd"),
	}
}

func (s *Systemd) IsAvailable(ctx context.Context) bool {
	return s.lookPath("systemctl")
}

// Status queries is-enabled and is-active. Both exit non-zero for the
// negative answer, so their output is inspected rather than the error.
func (s *Systemd) Status(ctx context.Context, name string, scope types.Scope) (types.ServiceStatus, error) {
	enabledOut, enabledErr := s.query(ctx, scope, "is-enabled", name)
	activeOut, activeErr := s.query(ctx, scope, "is-active", name)

	if errors.IsErrorCode(enabledErr, errors.ErrTimeout) || errors.IsErrorCode(activeErr, errors.ErrTimeout) {
		return types.ServiceStatus{}, errors.Newf(errors.ErrTimeout, "systemctl status query for %s timed out", name)
	}

	enabled, fixed := unitFileState(enabledOut)
	return types.ServiceStatus{
		Enabled: enabled,
		Running: strings.TrimSpace(activeOut) == "active",
		Fixed:   fixed,
	}, nil
}

func (s *Systemd) Enable(ctx context.Context, name string, scope types.Scope) error {
	return s.mutate(ctx, scope, "enable", name)
}

func (s *Systemd) Disable(ctx context.Context, name string, scope types.Scope) error {
	return s.mutate(ctx, scope, "disable", name)
}

func (s *Systemd) Start(ctx context.Context, name string, scope types.Scope) error {
	return s.mutate(ctx, scope, "start", name)
}

func (s *Systemd) Stop(ctx context.Context, name string, scope types.Scope) error {
	return s.mutate(ctx, scope, "stop", name)
}

func (s *Systemd) query(ctx context.Context, scope types.Scope, verb, name string) (string, error) {
	args := []string{verb, name}
	if scope == types.ScopeUser {
		args = append([]string{"--user"}, args...)
	}
	return s.runner.Run(ctx, "systemctl", args...)
}

func (s *Systemd) mutate(ctx context.Context, scope types.Scope, verb, name string) error {
	bin, args := "systemctl", []string{verb, name}
	if scope == types.ScopeUser {
		args = append([]string{"--user"}, args...)
	} else {
		bin, args = command.WithSudo(s.useSudo, bin, args...)
	}
	s.logger.Info().Str("verb", verb).Str("service", name).Str("scope", string(scope)).Msg("Changing service state")
	if _, err := s.runner.Run(ctx, bin, args...); err != nil {
		return errors.Wrapf(err, errors.ErrCommand, "systemctl %s %s failed", verb, name)
	}
	return nil
}

// unitFileState maps is-enabled output. static, indirect and generated
// units start without being enabled and ignore enable/disable.
func unitFileState(out string) (enabled, fixed bool) {
	switch strings.TrimSpace(out) {
	case "enabled", "enabled-runtime", "alias":
		return true, false
	case "static", "indirect", "generated":
		return true, true
	default:
		return false, false
	}
}
