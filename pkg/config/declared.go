package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Chrono-byte/flux/pkg/errors"
	"github.com/Chrono-byte/flux/pkg/paths"
	"github.com/Chrono-byte/flux/pkg/types"
	"github.com/pelletier/go-toml/v2"
)

// declarationFile is the on-disk shape of flux.toml
type declarationFile struct {
	Tools    map[string]toolDecl    `toml:"tools"`
	Packages map[string]packageDecl `toml:"packages"`
	Services map[string]serviceDecl `toml:"services"`
}

type toolDecl struct {
	Files []fileEntry `toml:"files"`
}

type fileEntry struct {
	Repo       string `toml:"repo"`
	Dest       string `toml:"dest"`
	Profile    string `toml:"profile"`
	Resolution string `toml:"resolution"`
	Absent     bool   `toml:"absent"`
}

type packageDecl struct {
	// Name overrides the table key as the package name
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Absent  bool   `toml:"absent"`
}

type serviceDecl struct {
	Name    string `toml:"name"`
	Enabled *bool  `toml:"enabled"`
	Running *bool  `toml:"running"`
	Scope   string `toml:"scope"`
}

// DeclaredOptions controls how flux.toml is turned into a DeclaredState
type DeclaredOptions struct {
	RepoPath string
	// Home anchors relative destinations; the user's home when empty
	Home    string
	Profile string
	// Resolution applies to files that do not name one
	Resolution types.Resolution
}

// LoadDeclared reads flux.toml from the repository
func LoadDeclared(opts DeclaredOptions) (types.DeclaredState, error) {
	path := paths.DeclarationFile(opts.RepoPath)
	data, err := os.ReadFile(path)
	if err != nil {
		return types.DeclaredState{}, errors.Wrapf(err, errors.ErrConfigLoad, "cannot read %s", path).
			WithDetail("path", path)
	}
	return ParseDeclared(data, opts)
}

// ParseDeclared decodes a flux.toml document. Tools, packages and services
// are ordered by key and files keep their array order, so the same
// document always yields the same declaration.
func ParseDeclared(data []byte, opts DeclaredOptions) (types.DeclaredState, error) {
	var doc declarationFile
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return types.DeclaredState{}, declarationError(err)
	}

	repo := paths.ExpandHome(opts.RepoPath)
	home := opts.Home
	if home == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return types.DeclaredState{}, errors.Wrap(err, errors.ErrConfigLoad, "cannot determine home directory")
		}
		home = h
	}
	defaultRes := opts.Resolution
	if defaultRes == "" {
		defaultRes = types.ResolutionAuto
	}

	var state types.DeclaredState
	var problems []string

	for _, name := range sortedKeys(doc.Packages) {
		pkg := doc.Packages[name]
		decl := types.PackageDecl{Name: name, Version: pkg.Version, Absent: pkg.Absent}
		if pkg.Name != "" {
			decl.Name = pkg.Name
		}
		if decl.Version == "" {
			decl.Version = types.LatestVersion
		}
		state.Packages = append(state.Packages, decl)
	}

	for _, name := range sortedKeys(doc.Services) {
		svc := doc.Services[name]
		scope, err := types.ParseScope(svc.Scope)
		if err != nil {
			problems = append(problems, "services."+name+": "+err.Error())
			continue
		}
		decl := types.ServiceDecl{Name: name, Enabled: true, Running: true, Scope: scope}
		if svc.Name != "" {
			decl.Name = svc.Name
		}
		if svc.Enabled != nil {
			decl.Enabled = *svc.Enabled
		}
		if svc.Running != nil {
			decl.Running = *svc.Running
		}
		state.Services = append(state.Services, decl)
	}

	seen := make(map[string]string)
	for _, tool := range sortedKeys(doc.Tools) {
		for i, f := range doc.Tools[tool].Files {
			where := fmt.Sprintf("tools.%s.files[%d]", tool, i)
			if f.Profile != "" && f.Profile != opts.Profile {
				continue
			}
			if f.Repo == "" || f.Dest == "" {
				problems = append(problems, where+": repo and dest are required")
				continue
			}
			res := defaultRes
			if f.Resolution != "" {
				r, err := types.ParseResolution(f.Resolution)
				if err != nil {
					problems = append(problems, where+": "+err.Error())
					continue
				}
				res = r
			}

			decl := types.FileDecl{
				ID:          tool + ":" + f.Repo,
				Source:      repoSource(repo, tool, f.Repo),
				Destination: destination(home, f.Dest),
				Resolution:  res,
				Absent:      f.Absent,
			}
			if prev, ok := seen[decl.Destination]; ok {
				problems = append(problems, where+": "+decl.Destination+" is already managed by "+prev)
				continue
			}
			seen[decl.Destination] = decl.ID
			state.Files = append(state.Files, decl)
		}
	}

	if len(problems) > 0 {
		return state, errors.Newf(errors.ErrConfigValid, "invalid declaration: %s", strings.Join(problems, "; ")).
			WithDetail("problems", problems)
	}
	return state, nil
}

// repoSource resolves a file's repository path. Entries may or may not
// repeat the tool directory.
func repoSource(repo, tool, rel string) string {
	rel = paths.ExpandHome(rel)
	if filepath.IsAbs(rel) {
		return filepath.Clean(rel)
	}
	if strings.HasPrefix(rel, tool+"/") {
		return filepath.Join(repo, rel)
	}
	return filepath.Join(repo, tool, rel)
}

// destination anchors a destination at home unless it is absolute
func destination(home, dest string) string {
	dest = paths.ExpandHome(dest)
	if filepath.IsAbs(dest) {
		return filepath.Clean(dest)
	}
	return filepath.Join(home, dest)
}

func declarationError(err error) error {
	var strict *toml.StrictMissingError
	if stderrors.As(err, &strict) {
		return errors.Wrap(err, errors.ErrConfigParse, "unknown keys in declaration").
			WithDetail("keys", strict.String())
	}
	var decodeErr *toml.DecodeError
	if stderrors.As(err, &decodeErr) {
		row, col := decodeErr.Position()
		return errors.Wrapf(err, errors.ErrConfigParse, "malformed declaration at line %d, column %d", row, col)
	}
	return errors.Wrap(err, errors.ErrConfigParse, "cannot decode declaration")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
