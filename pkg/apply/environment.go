package apply

import (
	"context"
	stderrors "errors"
	"io"
	"os"
	"time"

	"github.com/Chrono-byte/flux/pkg/config"
	"github.com/Chrono-byte/flux/pkg/diff"
	"github.com/Chrono-byte/flux/pkg/filesystem"
	"github.com/Chrono-byte/flux/pkg/journal"
	"github.com/Chrono-byte/flux/pkg/logging"
	"github.com/Chrono-byte/flux/pkg/metrics"
	"github.com/Chrono-byte/flux/pkg/packages"
	"github.com/Chrono-byte/flux/pkg/paths"
	"github.com/Chrono-byte/flux/pkg/services"
	"github.com/Chrono-byte/flux/pkg/types"
)

// Environment is everything an apply or status run works against
type Environment struct {
	Paths    *paths.Paths
	Settings *config.Settings
	Declared types.DeclaredState
	Backends diff.Backends
	// BackendName identifies the package backend in transaction metadata
	BackendName string

	// Journal is nil when journaling is disabled or the database could not be opened
	Journal journal.Store
	// Prometheus is set when a metrics textfile is configured
	Prometheus *metrics.PrometheusRecorder
	FS         types.FS
	Now        func() time.Time

	closers []io.Closer
}

// SetupOptions controls how an Environment is assembled
type SetupOptions struct {
	ConfigFile string
	// Overrides are settings taken from command-line flags
	Overrides map[string]interface{}
	Paths     *paths.Paths
	// Selector picks the package backend; its zero value probes the real system
	Selector packages.Selector
	// Services replaces the systemd backend
	Services services.Manager
	// Home anchors relative destinations in flux.toml
	Home string
	// WithoutJournal skips opening the journal, for read-only commands
	WithoutJournal bool
	// JournalOnly loads settings and opens the journal without reading the
	// declaration or selecting backends
	JournalOnly bool
}

// Setup loads settings and the declaration, then selects backends
func Setup(ctx context.Context, opts SetupOptions) (*Environment, error) {
	logger := logging.GetLogger("apply.setup")

	p := opts.Paths
	if p == nil {
		var err error
		if p, err = paths.New(); err != nil {
			return nil, err
		}
	}

	settings, err := config.Load(config.LoadOptions{
		ConfigFile: opts.ConfigFile,
		Overrides:  opts.Overrides,
		Paths:      p,
	})
	if err != nil {
		return nil, err
	}

	env := &Environment{
		Paths:    p,
		Settings: settings,
		FS:       filesystem.NewOS(),
		Now:      time.Now,
	}
	if opts.JournalOnly {
		env.openJournal()
		return env, nil
	}

	declared, err := config.LoadDeclared(config.DeclaredOptions{
		RepoPath:   settings.RepoPath,
		Home:       opts.Home,
		Profile:    settings.Profile,
		Resolution: settings.Resolution,
	})
	if err != nil {
		return nil, err
	}

	env.Declared = declared

	pkgs := opts.Selector.Select(ctx, packages.Options{
		Backend: settings.Backend,
		Tool:    settings.PackageTool,
		UseSudo: settings.UseSudo,
		Timeout: settings.OperationTimeout,
	})
	if c, ok := pkgs.(io.Closer); ok {
		env.closers = append(env.closers, c)
	}
	svcs := opts.Services
	if svcs == nil {
		svcs = services.NewSystemd(settings.UseSudo, nil)
	}
	env.Backends = diff.Backends{
		Packages: pkgs,
		Services: svcs,
		Files:    filesystem.NewManager(env.FS),
	}
	env.BackendName = pkgs.Name()

	if !opts.WithoutJournal {
		env.openJournal()
	}
	if settings.MetricsTextfile != "" {
		env.Prometheus = metrics.NewPrometheusRecorder(nil)
	}

	logger.Debug().
		Str("repo", settings.RepoPath).
		Str("profile", settings.Profile).
		Str("packages", env.BackendName).
		Int("declared_packages", len(declared.Packages)).
		Int("declared_files", len(declared.Files)).
		Int("declared_services", len(declared.Services)).
		Msg("Environment ready")
	return env, nil
}

func (e *Environment) openJournal() {
	if !e.Settings.Journal {
		return
	}
	store, err := journal.NewSQLiteStore(e.Paths.JournalPath())
	if err != nil {
		logger := logging.GetLogger("apply.setup")
		logger.Warn().Err(err).Msg("Journal unavailable, continuing without it")
		return
	}
	e.Journal = store
	e.closers = append(e.closers, store)
}

// Recorder returns the metrics recorder transactions report to
func (e *Environment) Recorder() metrics.Recorder {
	if e.Prometheus == nil {
		return metrics.NoopRecorder{}
	}
	return e.Prometheus
}

// FlushMetrics writes the textfile when one is configured
func (e *Environment) FlushMetrics() error {
	if e.Prometheus == nil || e.Settings == nil {
		return nil
	}
	return e.Prometheus.WriteTextfile(e.Settings.MetricsTextfile)
}

// Close releases backend connections and the journal
func (e *Environment) Close() error {
	var errs []error
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return stderrors.Join(errs...)
}

func (e *Environment) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e *Environment) fs() types.FS {
	if e.FS == nil {
		return filesystem.NewOS()
	}
	return e.FS
}

// hostname is recorded in transaction metadata
func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}
