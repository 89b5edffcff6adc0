package types

import (
	"fmt"
	"time"
)

// OperationKind is the variant tag of an Operation
type OperationKind string

const (
	OpInstallPackage   OperationKind = "install_package"
	OpRemovePackage    OperationKind = "remove_package"
	OpCreateSymlink    OperationKind = "create_symlink"
	OpRemoveSymlink    OperationKind = "remove_symlink"
	OpBackupAndReplace OperationKind = "backup_and_replace"
	OpEnableService    OperationKind = "enable_service"
	OpDisableService   OperationKind = "disable_service"
	OpStartService     OperationKind = "start_service"
	OpStopService      OperationKind = "stop_service"
)

// Phase groups operation kinds by the backend they touch. Phases execute in
// ascending order.
type Phase int

const (
	PhasePackages Phase = iota
	PhaseFiles
	PhaseServices
)

func (p Phase) String() string {
	switch p {
	case PhasePackages:
		return "packages"
	case PhaseFiles:
		return "files"
	case PhaseServices:
		return "services"
	default:
		return "unknown"
	}
}

// Operation is a single change to the live system. Only the fields relevant
// to Kind are set; use the constructors below.
type Operation struct {
	Kind       OperationKind `json:"kind" yaml:"kind"`
	Name       string        `json:"name,omitempty" yaml:"name,omitempty"`
	Version    string        `json:"version,omitempty" yaml:"version,omitempty"`
	Scope      Scope         `json:"scope,omitempty" yaml:"scope,omitempty"`
	Source     string        `json:"source,omitempty" yaml:"source,omitempty"`
	Target     string        `json:"target,omitempty" yaml:"target,omitempty"`
	BackupPath string        `json:"backup_path,omitempty" yaml:"backup_path,omitempty"`
	Resolution Resolution    `json:"resolution,omitempty" yaml:"resolution,omitempty"`
}

func InstallPackage(name, version string) Operation {
	return Operation{Kind: OpInstallPackage, Name: name, Version: version}
}

func RemovePackage(name string) Operation {
	return Operation{Kind: OpRemovePackage, Name: name}
}

func CreateSymlink(source, target string, res Resolution) Operation {
	return Operation{Kind: OpCreateSymlink, Source: source, Target: target, Resolution: res}
}

func RemoveSymlink(target string) Operation {
	return Operation{Kind: OpRemoveSymlink, Target: target}
}

func BackupAndReplace(source, target, backupPath string, res Resolution) Operation {
	return Operation{Kind: OpBackupAndReplace, Source: source, Target: target, BackupPath: backupPath, Resolution: res}
}

func EnableService(name string, scope Scope) Operation {
	return Operation{Kind: OpEnableService, Name: name, Scope: scope}
}

func DisableService(name string, scope Scope) Operation {
	return Operation{Kind: OpDisableService, Name: name, Scope: scope}
}

func StartService(name string, scope Scope) Operation {
	return Operation{Kind: OpStartService, Name: name, Scope: scope}
}

func StopService(name string, scope Scope) Operation {
	return Operation{Kind: OpStopService, Name: name, Scope: scope}
}

// Phase returns the phase this operation belongs to
func (o Operation) Phase() Phase {
	switch o.Kind {
	case OpInstallPackage, OpRemovePackage:
		return PhasePackages
	case OpCreateSymlink, OpRemoveSymlink, OpBackupAndReplace:
		return PhaseFiles
	default:
		return PhaseServices
	}
}

// Subject is the resource the operation acts on: a package or service name, or a destination path
func (o Operation) Subject() string {
	if o.Phase() == PhaseFiles {
		return o.Target
	}
	return o.Name
}

func (o Operation) String() string {
	switch o.Kind {
	case OpInstallPackage:
		return fmt.Sprintf("InstallPackage(%s, %s)", o.Name, o.Version)
	case OpRemovePackage:
		return fmt.Sprintf("RemovePackage(%s)", o.Name)
	case OpCreateSymlink:
		return fmt.Sprintf("CreateSymlink(%s -> %s, %s)", o.Target, o.Source, o.Resolution)
	case OpRemoveSymlink:
		return fmt.Sprintf("RemoveSymlink(%s)", o.Target)
	case OpBackupAndReplace:
		return fmt.Sprintf("BackupAndReplace(%s -> %s, backup %s, %s)", o.Target, o.Source, o.BackupPath, o.Resolution)
	case OpEnableService:
		return fmt.Sprintf("EnableService(%s, %s)", o.Name, o.Scope)
	case OpDisableService:
		return fmt.Sprintf("DisableService(%s, %s)", o.Name, o.Scope)
	case OpStartService:
		return fmt.Sprintf("StartService(%s, %s)", o.Name, o.Scope)
	case OpStopService:
		return fmt.Sprintf("StopService(%s, %s)", o.Name, o.Scope)
	default:
		return fmt.Sprintf("Unknown(%s)", o.Kind)
	}
}

// StateDiff is the ordered change set converging actual to declared state
type StateDiff struct {
	Packages []Operation `json:"packages" yaml:"packages"`
	Files    []Operation `json:"files" yaml:"files"`
	Services []Operation `json:"services" yaml:"services"`
}

// Operations flattens the diff in execution order: packages, files, services
func (d StateDiff) Operations() []Operation {
	ops := make([]Operation, 0, d.Len())
	ops = append(ops, d.Packages...)
	ops = append(ops, d.Files...)
	ops = append(ops, d.Services...)
	return ops
}

// Len is the total number of operations
func (d StateDiff) Len() int {
	return len(d.Packages) + len(d.Files) + len(d.Services)
}

// IsEmpty reports whether the system already matches the declaration
func (d StateDiff) IsEmpty() bool {
	return d.Len() == 0
}

// RollbackData is whatever an applied operation needs to be undone
type RollbackData struct {
	// PriorVersion is the installed version before a package operation, empty when absent
	PriorVersion string `json:"prior_version,omitempty" yaml:"prior_version,omitempty"`
	// PriorService is the service state before a service operation
	PriorService *ServiceStatus `json:"prior_service,omitempty" yaml:"prior_service,omitempty"`
	// PriorEntry is what lived at a file target before the operation
	PriorEntry *Entry `json:"prior_entry,omitempty" yaml:"prior_entry,omitempty"`
	// BackupPath holds the original content of a replaced destination
	BackupPath string `json:"backup_path,omitempty" yaml:"backup_path,omitempty"`
}

// OperationResult records one attempted operation
type OperationResult struct {
	Operation Operation     `json:"operation" yaml:"operation"`
	Success   bool          `json:"success" yaml:"success"`
	Message   string        `json:"message,omitempty" yaml:"message,omitempty"`
	Error     error         `json:"-" yaml:"-"`
	Rollback  RollbackData  `json:"rollback" yaml:"rollback"`
	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
	// RolledBack is set once a successful operation has been undone
	RolledBack bool `json:"rolled_back,omitempty" yaml:"rolled_back,omitempty"`
}

// ErrorText returns the error message or the empty string
func (r OperationResult) ErrorText() string {
	if r.Error == nil {
		return ""
	}
	return r.Error.Error()
}
