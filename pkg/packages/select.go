package packages

import (
	"context"

	"github.com/Chrono-byte/flux/pkg/internal/command"
	"github.com/Chrono-byte/flux/pkg/logging"
)

// Selector builds the package backend named by Options. Its fields are
// seams for tests.
type Selector struct {
	Runner   command.Runner
	LookPath func(string) bool
	Dial     func() (Bus, error)
}

// Select returns the backend for opts. Auto prefers the broker when
// PackageKit answers, then the first package tool on PATH. When nothing is
// found the result is an unavailable direct backend, so operations can be
// skipped or rejected at validation.
func (s Selector) Select(ctx context.Context, opts Options) Manager {
	logger := logging.GetLogger("packages")
	lookPath := s.LookPath
	if lookPath == nil {
		lookPath = command.LookPath
	}

	direct := func() Manager {
		tool := opts.Tool
		if tool == "" {
			detected, ok := DetectTool(lookPath)
			if !ok {
				detected = ToolDnf
			}
			tool = detected
		}
		m := NewDirect(tool, opts.UseSudo, s.Runner)
		m.lookPath = lookPath
		return m
	}

	switch opts.Backend {
	case BackendDirect:
		return direct()
	case BackendBroker:
		return NewBroker(opts.Timeout, s.Dial)
	default:
		broker := NewBroker(opts.Timeout, s.Dial)
		if opts.Tool == "" && broker.IsAvailable(ctx) {
			logger.Debug().Msg("Selected PackageKit broker")
			return broker
		}
		_ = broker.Close()
		m := direct()
		logger.Debug().Str("backend", m.Name()).Msg("Selected direct package backend")
		return m
	}
}
