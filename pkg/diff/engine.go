package diff

import (
	"path/filepath"

	"github.com/Chrono-byte/flux/pkg/filesystem"
	"github.com/Chrono-byte/flux/pkg/paths"
	"github.com/Chrono-byte/flux/pkg/types"
)

// Options parameterizes the parts of a diff that depend on the transaction
// it will run in.
type Options struct {
	// BackupRoot is where BackupAndReplace saves originals
	BackupRoot string
	// TransactionID keys backup paths so transactions never collide
	TransactionID string
}

// BackupPath names the backup for destination within a transaction.
// Destinations under the home directory nest under "home", all others
// under "root", so ~/x and /x never share a backup.
func BackupPath(backupRoot, txID, destination string) string {
	rel, inHome := paths.HomeRelative(destination)
	if inHome {
		return filepath.Join(backupRoot, txID, "home", rel)
	}
	return filepath.Join(backupRoot, txID, "root", rel)
}

// Compute returns the minimal ordered operations converging actual to
// declared. Packages precede files, which precede services; within a phase
// declaration order is kept. It performs no I/O.
func Compute(declared types.DeclaredState, actual types.ActualState, opts Options) types.StateDiff {
	return types.StateDiff{
		Packages: diffPackages(declared.Packages, actual),
		Files:    diffFiles(declared.Files, actual, opts),
		Services: diffServices(declared.Services, actual),
	}
}

// diffPackages never emits a removal unless the declaration marks the
// package absent. "latest" is satisfied by any installed version.
func diffPackages(decls []types.PackageDecl, actual types.ActualState) []types.Operation {
	var ops []types.Operation
	for _, pkg := range decls {
		installed, ok := actual.Packages[pkg.Name]
		if pkg.Absent {
			if ok {
				ops = append(ops, types.RemovePackage(pkg.Name))
			}
			continue
		}

		version := pkg.Version
		if version == "" {
			version = types.LatestVersion
		}
		switch {
		case !ok:
			ops = append(ops, types.InstallPackage(pkg.Name, version))
		case version != types.LatestVersion && installed != version:
			ops = append(ops, types.InstallPackage(pkg.Name, version))
		}
	}
	return ops
}

func diffFiles(decls []types.FileDecl, actual types.ActualState, opts Options) []types.Operation {
	var ops []types.Operation
	for _, file := range decls {
		obs := actual.Files[file.Destination]
		res := file.Resolution
		if res == "" {
			res = types.ResolutionAuto
		}

		if file.Absent {
			if pointsAtSource(obs, file) {
				ops = append(ops, types.RemoveSymlink(file.Destination))
			}
			continue
		}

		decl := file
		decl.Resolution = res
		if filesystem.Satisfies(obs, decl) {
			continue
		}

		switch obs.Destination.Kind {
		case types.EntryAbsent, types.EntrySymlink:
			ops = append(ops, types.CreateSymlink(file.Source, file.Destination, res))
		default:
			backup := BackupPath(opts.BackupRoot, opts.TransactionID, file.Destination)
			ops = append(ops, types.BackupAndReplace(file.Source, file.Destination, backup, res))
		}
	}
	return ops
}

// pointsAtSource reports whether the destination is a link flux would have
// created for file, under any resolution mode
func pointsAtSource(obs types.FileObservation, file types.FileDecl) bool {
	if obs.Destination.Kind != types.EntrySymlink {
		return false
	}
	dest := filesystem.LinkDestination(file.Destination, obs.Destination.Target)
	if dest == filepath.Clean(file.Source) {
		return true
	}
	return obs.SourceResolved != "" && dest == filepath.Clean(obs.SourceResolved)
}

// diffServices compares enabled and running independently. A service's
// enable/disable always precedes its start/stop. Units whose enablement is
// fixed are only started or stopped.
func diffServices(decls []types.ServiceDecl, actual types.ActualState) []types.Operation {
	var ops []types.Operation
	for _, svc := range decls {
		key := svc.Key()
		scope := key.Scope
		current := actual.Services[key]

		if !current.Fixed && svc.Enabled != current.Enabled {
			if svc.Enabled {
				ops = append(ops, types.EnableService(svc.Name, scope))
			} else {
				ops = append(ops, types.DisableService(svc.Name, scope))
			}
		}
		if svc.Running != current.Running {
			if svc.Running {
				ops = append(ops, types.StartService(svc.Name, scope))
			} else {
				ops = append(ops, types.StopService(svc.Name, scope))
			}
		}
	}
	return ops
}
