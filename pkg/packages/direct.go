package packages

import (
	"bufio"
	"context"
	"strings"

	"github.com/Chrono-byte/flux/pkg/errors"
	"github.com/Chrono-byte/flux/pkg/internal/command"
	"github.com/Chrono-byte/flux/pkg/logging"
	"github.com/Chrono-byte/flux/pkg/types"
	"github.com/rs/zerolog"
)

// Tool names understood by the direct backend, in detection order
const (
	ToolDnf  = "dnf"
	ToolBrew = "brew"
)

var knownTools = []string{ToolDnf, ToolBrew}

// DirectManager invokes a package tool as a subprocess
type DirectManager struct {
	tool     string
	useSudo  bool
	runner   command.Runner
	lookPath func(string) bool
	logger   zerolog.Logger
}

// NewDirect creates a direct backend for tool
func NewDirect(tool string, useSudo bool, runner command.Runner) *DirectManager {
	if runner == nil {
		runner = command.NewExecRunner()
	}
	return &DirectManager{
		tool:     tool,
		useSudo:  useSudo && tool != ToolBrew,
		runner:   runner,
		lookPath: command.LookPath,
		logger:   logging.GetLogger("packages.direct").With().Str("tool", tool).Logger(),
	}
}

// DetectTool returns the first known package tool on PATH
func DetectTool(lookPath func(string) bool) (string, bool) {
	for _, tool := range knownTools {
		if lookPath(tool) {
			return tool, true
		}
	}
	return "", false
}

func (m *DirectManager) Name() string { return "direct:" + m.tool }

func (m *DirectManager) IsAvailable(ctx context.Context) bool {
	return m.lookPath(m.tool)
}

func (m *DirectManager) ListInstalled(ctx context.Context) (map[string]string, error) {
	switch m.tool {
	case ToolDnf:
		out, err := m.runner.Run(ctx, ToolDnf, "repoquery", "--installed", "--queryformat", "%{name} %{version}\n")
		if err != nil {
			return nil, err
		}
		return parseNameVersionLines(out, false), nil
	case ToolBrew:
		out, err := m.runner.Run(ctx, ToolBrew, "list", "--versions")
		if err != nil {
			return nil, err
		}
		return parseNameVersionLines(out, true), nil
	default:
		return nil, m.unsupported()
	}
}

func (m *DirectManager) Install(ctx context.Context, name, version string) error {
	var args []string
	switch m.tool {
	case ToolDnf:
		pkgRef := name
		if version != "" && version != types.LatestVersion {
			pkgRef = name + "-" + version
		}
		args = []string{"install", "-y", pkgRef}
	case ToolBrew:
		pkgRef := name
		if version != "" && version != types.LatestVersion {
			pkgRef = name + "@" + version
		}
		args = []string{"install", pkgRef}
	default:
		return m.unsupported()
	}
	return m.mutate(ctx, args)
}

func (m *DirectManager) Remove(ctx context.Context, name string) error {
	switch m.tool {
	case ToolDnf:
		return m.mutate(ctx, []string{"remove", "-y", name})
	case ToolBrew:
		return m.mutate(ctx, []string{"uninstall", name})
	default:
		return m.unsupported()
	}
}

// CheckConflicts asks dnf for the package's declared conflicts and keeps
// the ones currently installed. brew has no conflict query.
func (m *DirectManager) CheckConflicts(ctx context.Context, name string) ([]string, error) {
	if m.tool != ToolDnf {
		return nil, nil
	}
	out, err := m.runner.Run(ctx, ToolDnf, "repoquery", "--conflicts", name)
	if err != nil {
		return nil, err
	}
	declared := parseCapabilityNames(out)
	if len(declared) == 0 {
		return nil, nil
	}

	installed, err := m.ListInstalled(ctx)
	if err != nil {
		return nil, err
	}
	var conflicts []string
	for _, capName := range declared {
		if _, ok := installed[capName]; ok && capName != name {
			conflicts = append(conflicts, capName)
		}
	}
	return conflicts, nil
}

func (m *DirectManager) mutate(ctx context.Context, args []string) error {
	name, full := command.WithSudo(m.useSudo, m.tool, args...)
	m.logger.Info().Strs("args", args).Bool("sudo", m.useSudo).Msg("Running package tool")
	if _, err := m.runner.Run(ctx, name, full...); err != nil {
		return err
	}
	return nil
}

func (m *DirectManager) unsupported() error {
	return errors.Newf(errors.ErrBackendUnavailable, "unsupported package tool %q", m.tool)
}

// parseNameVersionLines reads "name version..." lines. brew prints every
// installed version; the last one wins.
func parseNameVersionLines(out string, lastVersion bool) map[string]string {
	installed := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		version := fields[1]
		if lastVersion {
			version = fields[len(fields)-1]
		}
		installed[fields[0]] = version
	}
	return installed
}

// parseCapabilityNames strips version constraints from repoquery capability lines
func parseCapabilityNames(out string) []string {
	var names []string
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || seen[fields[0]] {
			continue
		}
		seen[fields[0]] = true
		names = append(names, fields[0])
	}
	return names
}
