package packages

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Chrono-byte/flux/pkg/errors"
	"github.com/Chrono-byte/flux/pkg/logging"
	"github.com/Chrono-byte/flux/pkg/types"
	"github.com/rs/zerolog"
)

// PackageKit enum values used by the broker backend
const (
	pkFilterNone         uint64 = 1 << 1
	pkFilterInstalled    uint64 = 1 << 2
	pkFilterNotInstalled uint64 = 1 << 3

	pkFlagOnlyTrusted    uint64 = 1 << 1
	pkFlagSimulate       uint64 = 1 << 2
	pkFlagAllowDowngrade uint64 = 1 << 6

	pkInfoInstalled  uint32 = 1
	pkInfoAvailable  uint32 = 2
	pkInfoRemoving   uint32 = 13
	pkInfoObsoleting uint32 = 15

	pkExitSuccess uint32 = 1
)

// Signal is a PackageKit transaction signal with the interface prefix removed
type Signal struct {
	Name string
	Body []interface{}
}

// BusTransaction is one PackageKit transaction object
type BusTransaction interface {
	// Call invokes a method on the transaction. Results arrive as signals.
	Call(ctx context.Context, method string, args ...interface{}) error
	Signals() <-chan Signal
	Close()
}

// Bus is the slice of the system bus the broker needs
type Bus interface {
	Ping(ctx context.Context) error
	CreateTransaction(ctx context.Context) (BusTransaction, error)
	Close() error
}

// BrokerManager drives PackageKit jobs and waits for their Finished signal
type BrokerManager struct {
	dial    func() (Bus, error)
	timeout time.Duration
	logger  zerolog.Logger

	mu  sync.Mutex
	bus Bus
}

// NewBroker creates a broker backend. dial defaults to the system bus.
func NewBroker(timeout time.Duration, dial func() (Bus, error)) *BrokerManager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if dial == nil {
		dial = DialSystemBus
	}
	return &BrokerManager{
		dial:    dial,
		timeout: timeout,
		logger:  logging.GetLogger("packages.broker"),
	}
}

func (b *BrokerManager) Name() string { return "broker:packagekit" }

func (b *BrokerManager) connect() (Bus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bus != nil {
		return b.bus, nil
	}
	bus, err := b.dial()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrBackendUnavailable, "cannot connect to the system bus")
	}
	b.bus = bus
	return bus, nil
}

// Close releases the bus connection
func (b *BrokerManager) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bus == nil {
		return nil
	}
	err := b.bus.Close()
	b.bus = nil
	return err
}

func (b *BrokerManager) IsAvailable(ctx context.Context) bool {
	bus, err := b.connect()
	if err != nil {
		b.logger.Debug().Err(err).Msg("PackageKit unavailable")
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := bus.Ping(ctx); err != nil {
		b.logger.Debug().Err(err).Msg("PackageKit did not answer")
		return false
	}
	return true
}

func (b *BrokerManager) ListInstalled(ctx context.Context) (map[string]string, error) {
	res, err := b.runJob(ctx, "GetPackages", pkFilterInstalled)
	if err != nil {
		return nil, err
	}
	installed := make(map[string]string, len(res.packages))
	for _, p := range res.packages {
		installed[p.name] = p.version
	}
	return installed, nil
}

func (b *BrokerManager) Install(ctx context.Context, name, version string) error {
	res, err := b.runJob(ctx, "Resolve", pkFilterNone, []string{name})
	if err != nil {
		return err
	}

	var id string
	for _, p := range res.packages {
		if p.name != name || p.info == pkInfoInstalled {
			continue
		}
		if version == "" || version == types.LatestVersion || p.version == version {
			id = p.id
			break
		}
	}
	if id == "" {
		return errors.Newf(errors.ErrBroker, "PackageKit has no installable %s %s", name, version)
	}

	flags := pkFlagOnlyTrusted
	if version != "" && version != types.LatestVersion {
		flags |= pkFlagAllowDowngrade
	}
	_, err = b.runJob(ctx, "InstallPackages", flags, []string{id})
	return err
}

func (b *BrokerManager) Remove(ctx context.Context, name string) error {
	res, err := b.runJob(ctx, "Resolve", pkFilterInstalled, []string{name})
	if err != nil {
		return err
	}
	ids := res.idsFor(name)
	if len(ids) == 0 {
		return nil
	}
	_, err = b.runJob(ctx, "RemovePackages", uint64(0), ids, false, false)
	return err
}

// CheckConflicts simulates the install and reports the packages PackageKit
// would remove or obsolete.
func (b *BrokerManager) CheckConflicts(ctx context.Context, name string) ([]string, error) {
	res, err := b.runJob(ctx, "Resolve", pkFilterNotInstalled, []string{name})
	if err != nil {
		return nil, err
	}
	ids := res.idsFor(name)
	if len(ids) == 0 {
		return nil, nil
	}

	sim, err := b.runJob(ctx, "InstallPackages", pkFlagOnlyTrusted|pkFlagSimulate, ids[:1])
	if err != nil {
		return nil, err
	}
	var conflicts []string
	for _, p := range sim.packages {
		if p.info == pkInfoRemoving || p.info == pkInfoObsoleting {
			conflicts = append(conflicts, p.name)
		}
	}
	return conflicts, nil
}

type pkPackage struct {
	info    uint32
	id      string
	name    string
	version string
}

type jobResult struct {
	packages []pkPackage
}

func (r jobResult) idsFor(name string) []string {
	var ids []string
	for _, p := range r.packages {
		if p.name == name {
			ids = append(ids, p.id)
		}
	}
	return ids
}

// runJob creates a transaction, invokes method and blocks until Finished,
// an ErrorCode, or the timeout.
func (b *BrokerManager) runJob(ctx context.Context, method string, args ...interface{}) (jobResult, error) {
	var res jobResult

	bus, err := b.connect()
	if err != nil {
		return res, err
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	tx, err := bus.CreateTransaction(ctx)
	if err != nil {
		return res, errors.Wrap(err, errors.ErrBroker, "cannot create PackageKit transaction")
	}
	defer tx.Close()

	b.logger.Debug().Str("method", method).Msg("Starting PackageKit job")
	if err := tx.Call(ctx, method, args...); err != nil {
		return res, errors.Wrapf(err, errors.ErrBroker, "PackageKit %s failed", method)
	}

	var jobErr *errors.FluxError
	for {
		select {
		case <-ctx.Done():
			return res, errors.Wrapf(ctx.Err(), errors.ErrTimeout, "PackageKit %s did not finish within %s", method, b.timeout)
		case sig, ok := <-tx.Signals():
			if !ok {
				return res, errors.Newf(errors.ErrBroker, "PackageKit %s: signal stream closed", method)
			}
			switch sig.Name {
			case "Package":
				if p, ok := parsePackageSignal(sig.Body); ok {
					res.packages = append(res.packages, p)
				}
			case "ErrorCode":
				code, details := parseErrorCodeSignal(sig.Body)
				jobErr = errors.Newf(errors.ErrBroker, "PackageKit %s: %s", method, details).WithDetail("code", code)
			case "Finished":
				exit := finishedExit(sig.Body)
				if jobErr != nil {
					return res, jobErr
				}
				if exit != pkExitSuccess {
					return res, errors.Newf(errors.ErrBroker, "PackageKit %s finished with exit code %d", method, exit)
				}
				return res, nil
			}
		}
	}
}

func parsePackageSignal(body []interface{}) (pkPackage, bool) {
	if len(body) < 2 {
		return pkPackage{}, false
	}
	info, _ := body[0].(uint32)
	id, ok := body[1].(string)
	if !ok {
		return pkPackage{}, false
	}
	name, version := splitPackageID(id)
	return pkPackage{info: info, id: id, name: name, version: version}, true
}

// splitPackageID parses "name;version-release;arch;data" into name and
// upstream version, matching what the direct backend reports.
func splitPackageID(id string) (string, string) {
	parts := strings.Split(id, ";")
	if len(parts) < 2 {
		return id, ""
	}
	version := parts[1]
	if i := strings.LastIndex(version, "-"); i > 0 {
		version = version[:i]
	}
	if i := strings.Index(version, ":"); i >= 0 {
		version = version[i+1:]
	}
	return parts[0], version
}

func parseErrorCodeSignal(body []interface{}) (uint32, string) {
	var code uint32
	var details string
	if len(body) > 0 {
		code, _ = body[0].(uint32)
	}
	if len(body) > 1 {
		details, _ = body[1].(string)
	}
	return code, details
}

func finishedExit(body []interface{}) uint32 {
	if len(body) == 0 {
		return 0
	}
	exit, _ := body[0].(uint32)
	return exit
}
