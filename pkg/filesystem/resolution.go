package filesystem

import (
	"fmt"
	"path/filepath"

	"github.com/Chrono-byte/flux/pkg/types"
)

// LinkText computes the text of the symlink placed at target for source.
// resolvedSource is the source with symlinks evaluated and is only consulted
// for follow. Replace has no link text.
func LinkText(source, resolvedSource, target string, res types.Resolution) (string, error) {
	source = filepath.Clean(source)
	switch res {
	case types.ResolutionAbsolute:
		return source, nil
	case types.ResolutionRelative:
		rel, err := filepath.Rel(filepath.Dir(target), source)
		if err != nil {
			return "", fmt.Errorf("cannot link %s relative to %s: %w", source, target, err)
		}
		return rel, nil
	case types.ResolutionAuto, "":
		if rel, err := filepath.Rel(filepath.Dir(target), source); err == nil {
			return rel, nil
		}
		return source, nil
	case types.ResolutionFollow:
		if resolvedSource == "" {
			return "", fmt.Errorf("source %s cannot be resolved", source)
		}
		return filepath.Clean(resolvedSource), nil
	case types.ResolutionReplace:
		return "", fmt.Errorf("replace resolution copies instead of linking")
	default:
		return "", fmt.Errorf("unknown resolution mode %q", res)
	}
}

// LinkDestination returns the absolute path a link at target with the given
// text points to, without evaluating further links.
func LinkDestination(target, linkText string) string {
	if filepath.IsAbs(linkText) {
		return filepath.Clean(linkText)
	}
	return filepath.Join(filepath.Dir(target), linkText)
}

// Satisfies reports whether the observed destination already realizes the
// declared file under its resolution mode.
func Satisfies(obs types.FileObservation, decl types.FileDecl) bool {
	dest := obs.Destination
	source := filepath.Clean(decl.Source)
	switch decl.Resolution {
	case types.ResolutionReplace:
		if dest.Kind != types.EntryRegular && dest.Kind != types.EntryDirectory {
			return false
		}
		return dest.Kind == obs.Source.Kind &&
			dest.ContentHash != "" && dest.ContentHash == obs.Source.ContentHash
	case types.ResolutionAuto, "":
		return dest.Kind == types.EntrySymlink && LinkDestination(decl.Destination, dest.Target) == source
	case types.ResolutionRelative:
		return dest.Kind == types.EntrySymlink && !filepath.IsAbs(dest.Target) &&
			LinkDestination(decl.Destination, dest.Target) == source
	case types.ResolutionAbsolute:
		return dest.Kind == types.EntrySymlink && filepath.Clean(dest.Target) == source
	case types.ResolutionFollow:
		return dest.Kind == types.EntrySymlink && obs.SourceResolved != "" &&
			filepath.Clean(dest.Target) == filepath.Clean(obs.SourceResolved)
	default:
		return false
	}
}
