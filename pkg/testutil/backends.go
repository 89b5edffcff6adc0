package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Chrono-byte/flux/pkg/errors"
	"github.com/Chrono-byte/flux/pkg/types"
)

// FakePackages is a stateful in-memory package backend
type FakePackages struct {
	mu sync.Mutex

	Available bool
	Installed map[string]string
	// Latest is the version installed for "latest"; defaults to "1.0"
	Latest map[string]string
	// Conflicts is returned by CheckConflicts per package
	Conflicts map[string][]string
	// FailInstall and FailRemove inject errors per package name
	FailInstall map[string]error
	FailRemove  map[string]error
	// Hang makes Install block until the context is done for these names
	Hang map[string]bool

	Calls []string
}

// NewFakePackages returns an available backend with the given packages installed
func NewFakePackages(installed map[string]string) *FakePackages {
	if installed == nil {
		installed = map[string]string{}
	}
	return &FakePackages{
		Available:   true,
		Installed:   installed,
		Latest:      map[string]string{},
		Conflicts:   map[string][]string{},
		FailInstall: map[string]error{},
		FailRemove:  map[string]error{},
		Hang:        map[string]bool{},
	}
}

func (f *FakePackages) Name() string { return "fake" }

func (f *FakePackages) IsAvailable(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Available
}

func (f *FakePackages) ListInstalled(ctx context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.Installed))
	for k, v := range f.Installed {
		out[k] = v
	}
	return out, nil
}

func (f *FakePackages) Install(ctx context.Context, name, version string) error {
	f.mu.Lock()
	f.Calls = append(f.Calls, fmt.Sprintf("install %s %s", name, version))
	hang := f.Hang[name]
	err := f.FailInstall[name]
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return errors.Wrapf(ctx.Err(), errors.ErrTimeout, "install %s timed out", name)
	}
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if version == types.LatestVersion || version == "" {
		version = f.Latest[name]
		if version == "" {
			version = "1.0"
		}
	}
	f.Installed[name] = version
	return nil
}

func (f *FakePackages) Remove(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "remove "+name)
	if err := f.FailRemove[name]; err != nil {
		return err
	}
	delete(f.Installed, name)
	return nil
}

func (f *FakePackages) CheckConflicts(ctx context.Context, name string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Conflicts[name], nil
}

// Snapshot returns the installed packages as sorted "name=version" strings
func (f *FakePackages) Snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.Installed))
	for k, v := range f.Installed {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// FakeServices is a stateful in-memory service backend
type FakeServices struct {
	mu sync.Mutex

	Available bool
	State     map[types.ServiceKey]types.ServiceStatus
	// Fail injects errors keyed by "verb name", e.g. "start sshd"
	Fail map[string]error
	// Delay is applied to every mutation
	Delay time.Duration

	Calls []string
}

// NewFakeServices returns an available backend with the given state
func NewFakeServices(state map[types.ServiceKey]types.ServiceStatus) *FakeServices {
	if state == nil {
		state = map[types.ServiceKey]types.ServiceStatus{}
	}
	return &FakeServices{Available: true, State: state, Fail: map[string]error{}}
}

func (f *FakeServices) IsAvailable(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Available
}

func (f *FakeServices) Status(ctx context.Context, name string, scope types.Scope) (types.ServiceStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.State[types.ServiceKey{Name: name, Scope: scope}], nil
}

func (f *FakeServices) Enable(ctx context.Context, name string, scope types.Scope) error {
	return f.mutate(ctx, "enable", name, scope, func(s *types.ServiceStatus) { s.Enabled = true })
}

func (f *FakeServices) Disable(ctx context.Context, name string, scope types.Scope) error {
	return f.mutate(ctx, "disable", name, scope, func(s *types.ServiceStatus) { s.Enabled = false })
}

func (f *FakeServices) Start(ctx context.Context, name string, scope types.Scope) error {
	return f.mutate(ctx, "start", name, scope, func(s *types.ServiceStatus) { s.Running = true })
}

func (f *FakeServices) Stop(ctx context.Context, name string, scope types.Scope) error {
	return f.mutate(ctx, "stop", name, scope, func(s *types.ServiceStatus) { s.Running = false })
}

func (f *FakeServices) mutate(ctx context.Context, verb, name string, scope types.Scope, apply func(*types.ServiceStatus)) error {
	f.mu.Lock()
	f.Calls = append(f.Calls, verb+" "+name)
	err := f.Fail[verb+" "+name]
	delay := f.Delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), errors.ErrTimeout, "%s %s timed out", verb, name)
		}
	}
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	key := types.ServiceKey{Name: name, Scope: scope}
	st := f.State[key]
	apply(&st)
	f.State[key] = st
	return nil
}
