package diff

import (
	"context"

	"github.com/Chrono-byte/flux/pkg/errors"
	"github.com/Chrono-byte/flux/pkg/filesystem"
	"github.com/Chrono-byte/flux/pkg/logging"
	"github.com/Chrono-byte/flux/pkg/types"
)

// Observe queries the actual state of everything declared. Categories whose
// backend is missing or unavailable are left empty with their Available
// flag false.
func Observe(ctx context.Context, declared types.DeclaredState, b Backends) (types.ActualState, error) {
	logger := logging.GetLogger("diff.observe")
	defer logging.LogOperationStart(logger, "observe")()

	actual := types.NewActualState()

	if len(declared.Packages) > 0 && b.Packages != nil && b.Packages.IsAvailable(ctx) {
		installed, err := b.Packages.ListInstalled(ctx)
		if err != nil {
			return actual, errors.Wrap(err, errors.ErrBackendUnavailable, "cannot list installed packages")
		}
		actual.PackagesAvailable = true
		actual.Packages = installed
	}

	if len(declared.Services) > 0 && b.Services != nil && b.Services.IsAvailable(ctx) {
		actual.ServicesAvailable = true
		for _, svc := range declared.Services {
			key := svc.Key()
			status, err := b.Services.Status(ctx, key.Name, key.Scope)
			if err != nil {
				return actual, errors.Wrapf(err, errors.ErrBackendUnavailable, "cannot query service %s", svc.Name)
			}
			actual.Services[key] = status
		}
	}

	for _, file := range declared.Files {
		obs, err := ObserveFile(b.Files, file)
		if err != nil {
			return actual, err
		}
		actual.Files[file.Destination] = obs
	}

	logger.Debug().
		Int("packages", len(actual.Packages)).
		Int("services", len(actual.Services)).
		Int("files", len(actual.Files)).
		Msg("Observed actual state")
	return actual, nil
}

// ObserveFile inspects one declared file's destination and source
func ObserveFile(files filesystem.Manager, file types.FileDecl) (types.FileObservation, error) {
	var obs types.FileObservation

	dest, err := files.EntryKind(file.Destination)
	if err != nil {
		return obs, err
	}
	obs.Destination = dest

	src, err := files.EntryKind(file.Source)
	if err != nil {
		return obs, err
	}
	obs.Source = src

	if src.Exists() {
		if resolved, err := files.ResolvePath(file.Source); err == nil {
			obs.SourceResolved = resolved
		}
	}
	return obs, nil
}
