package transaction

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/Chrono-byte/flux/pkg/diff"
	"github.com/Chrono-byte/flux/pkg/errors"
	"github.com/Chrono-byte/flux/pkg/filesystem"
	"github.com/Chrono-byte/flux/pkg/logging"
	"github.com/Chrono-byte/flux/pkg/metrics"
	"github.com/Chrono-byte/flux/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PlanFileName is written into the staging directory by Prepare
const PlanFileName = "plan.json"

// Options configures a transaction at Begin
type Options struct {
	// ID names the transaction; a random UUID is used when empty
	ID string
	// StagingRoot holds one staging directory per transaction
	StagingRoot string
	// LockPath is the advisory lock guarding managed state; empty disables locking
	LockPath string
	// LockWait is how long Begin waits for a held lock
	LockWait time.Duration

	Backends diff.Backends
	// TolerateMissingBackends skips operations whose backend is unavailable
	// instead of failing validation
	TolerateMissingBackends bool
	// OperationTimeout bounds every backend call; zero means unbounded
	OperationTimeout time.Duration

	Metadata map[string]string
	Recorder metrics.Recorder
	// FS defaults to the real filesystem
	FS types.FS
}

// Transaction executes operations atomically. It is not safe for
// concurrent use.
type Transaction struct {
	id     string
	opts   Options
	fs     types.FS
	rec    metrics.Recorder
	logger zerolog.Logger

	state      State
	validated  bool
	lock       *Lock
	stagingDir string

	operations []types.Operation
	skipped    []types.Operation
	// staged maps an operation index to the staged copy used as its source
	staged  map[int]string
	results []types.OperationResult
	backups []string

	findings       []string
	err            error
	rollbackFailed bool

	startedAt  time.Time
	finishedAt time.Time
	cleaned    bool
}

// Begin acquires the lock and allocates the staging directory. The
// returned transaction is in Started and must be released with Cleanup.
func Begin(ctx context.Context, opts Options) (*Transaction, error) {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.FS == nil {
		opts.FS = filesystem.NewOS()
	}
	if opts.StagingRoot == "" {
		return nil, errors.New(errors.ErrResource, "no staging root configured")
	}

	tx := &Transaction{
		id:        opts.ID,
		opts:      opts,
		fs:        opts.FS,
		rec:       metrics.OrNoop(opts.Recorder),
		logger:    logging.GetLogger("transaction").With().Str("tx", opts.ID).Logger(),
		state:     Started,
		staged:    make(map[int]string),
		startedAt: time.Now(),
	}
	tx.opts.Metadata = make(map[string]string, len(opts.Metadata))
	for k, v := range opts.Metadata {
		tx.opts.Metadata[k] = v
	}

	if opts.LockPath != "" {
		lock, err := AcquireLock(ctx, opts.LockPath, opts.LockWait)
		if err != nil {
			return nil, err
		}
		tx.lock = lock
	}

	tx.stagingDir = filepath.Join(opts.StagingRoot, opts.ID)
	if err := tx.fs.MkdirAll(tx.stagingDir, 0700); err != nil {
		_ = tx.lock.Release()
		return nil, errors.Wrapf(err, errors.ErrResource, "cannot create staging directory %s", tx.stagingDir).
			WithDetail("staging_dir", tx.stagingDir)
	}

	tx.logger.Info().Str("staging", tx.stagingDir).Msg("Transaction started")
	return tx, nil
}

// ID returns the transaction id
func (tx *Transaction) ID() string { return tx.id }

// State returns the current lifecycle state
func (tx *Transaction) State() State { return tx.state }

// StagingDir returns the transaction's staging directory
func (tx *Transaction) StagingDir() string { return tx.stagingDir }

// Metadata returns a copy of the transaction metadata
func (tx *Transaction) Metadata() map[string]string {
	out := make(map[string]string, len(tx.opts.Metadata))
	for k, v := range tx.opts.Metadata {
		out[k] = v
	}
	return out
}

// Operations returns the queued operations
func (tx *Transaction) Operations() []types.Operation {
	return append([]types.Operation(nil), tx.operations...)
}

// Skipped returns operations dropped during validation because their
// backend was unavailable
func (tx *Transaction) Skipped() []types.Operation {
	return append([]types.Operation(nil), tx.skipped...)
}

// Changes returns one result per attempted operation, in attempt order
func (tx *Transaction) Changes() []types.OperationResult {
	return append([]types.OperationResult(nil), tx.results...)
}

// Backups returns the backup paths written during commit
func (tx *Transaction) Backups() []string {
	return append([]string(nil), tx.backups...)
}

// Findings returns the mismatches reported by Verify
func (tx *Transaction) Findings() []string {
	return append([]string(nil), tx.findings...)
}

// Err returns the error that ended the transaction, if any
func (tx *Transaction) Err() error { return tx.err }

// RollbackFailed reports whether an attempted rollback left changes in place
func (tx *Transaction) RollbackFailed() bool { return tx.rollbackFailed }

// StartedAt returns when Begin was called
func (tx *Transaction) StartedAt() time.Time { return tx.startedAt }

// FinishedAt returns when Cleanup ran, or the zero time before that
func (tx *Transaction) FinishedAt() time.Time { return tx.finishedAt }

// AddOperation queues op. Adding after Validate requires validating again.
func (tx *Transaction) AddOperation(op types.Operation) error {
	if tx.state != Started {
		return &StateError{Op: "add_operation", State: tx.state}
	}
	tx.operations = append(tx.operations, op)
	tx.validated = false
	return nil
}

// Prepare stages copies for replace resolution, pre-resolves follow links
// and writes the plan into the staging directory. Live state is not
// touched.
func (tx *Transaction) Prepare(ctx context.Context) error {
	if err := tx.allow("prepare", Prepared); err != nil {
		return err
	}
	if !tx.validated {
		return &StateError{Op: "prepare", State: tx.state}
	}
	files := tx.opts.Backends.Files

	var planned []string
	for i, op := range tx.operations {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.ErrResource, "prepare interrupted")
		}
		switch op.Kind {
		case types.OpCreateSymlink, types.OpBackupAndReplace:
			switch op.Resolution {
			case types.ResolutionReplace:
				staged := filepath.Join(tx.stagingDir, "sources", fmt.Sprintf("%03d-%s", i, filepath.Base(op.Source)))
				if err := files.Stage(op.Source, staged); err != nil {
					return err
				}
				tx.staged[i] = staged
			case types.ResolutionFollow:
				if _, err := files.ResolvePath(op.Source); err != nil {
					return errors.Wrapf(err, errors.ErrResource, "cannot resolve %s", op.Source)
				}
			}
		}
		if op.BackupPath != "" {
			planned = append(planned, op.BackupPath)
		}
	}

	if err := tx.writePlan(planned); err != nil {
		return err
	}
	if err := tx.transition("prepare", Prepared); err != nil {
		return err
	}
	tx.logger.Debug().Int("operations", len(tx.operations)).Int("staged", len(tx.staged)).Msg("Transaction prepared")
	return nil
}

type plan struct {
	ID         string            `json:"id"`
	Metadata   map[string]string `json:"metadata"`
	Operations []types.Operation `json:"operations"`
	Skipped    []types.Operation `json:"skipped,omitempty"`
	Staged     map[int]string    `json:"staged,omitempty"`
	Backups    []string          `json:"backups,omitempty"`
}

// writePlan records what Commit is about to do so a human can recover
// when rollback fails
func (tx *Transaction) writePlan(backups []string) error {
	data, err := json.MarshalIndent(plan{
		ID:         tx.id,
		Metadata:   tx.opts.Metadata,
		Operations: tx.operations,
		Skipped:    tx.skipped,
		Staged:     tx.staged,
		Backups:    backups,
	}, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "cannot encode plan")
	}
	path := filepath.Join(tx.stagingDir, PlanFileName)
	if err := tx.fs.WriteFile(path, data, 0600); err != nil {
		return errors.Wrapf(err, errors.ErrResource, "cannot write %s", path)
	}
	return nil
}

// Cleanup removes the staging directory and releases the lock. The staging
// directory is kept when rollback failed. Cleanup is safe to call more
// than once and from any state.
func (tx *Transaction) Cleanup() error {
	if tx == nil || tx.cleaned {
		return nil
	}
	tx.cleaned = true
	tx.finishedAt = time.Now()

	var errs []error
	if tx.rollbackFailed {
		tx.logger.Warn().Str("staging", tx.stagingDir).Msg("Keeping staging directory for manual recovery")
	} else if err := tx.fs.RemoveAll(tx.stagingDir); err != nil {
		errs = append(errs, errors.Wrapf(err, errors.ErrResource, "cannot remove staging directory %s", tx.stagingDir))
	}
	if err := tx.lock.Release(); err != nil {
		errs = append(errs, errors.Wrap(err, errors.ErrResource, "cannot release transaction lock"))
	}

	tx.rec.IncTransaction(tx.outcome())
	tx.rec.ObserveTransactionDuration(tx.finishedAt.Sub(tx.startedAt))
	tx.logger.Debug().Str("state", tx.state.String()).Msg("Transaction cleaned up")

	return stderrors.Join(errs...)
}

func (tx *Transaction) outcome() metrics.Outcome {
	switch {
	case tx.rollbackFailed:
		return metrics.OutcomeRollbackFailed
	case tx.state == RolledBack:
		return metrics.OutcomeRolledBack
	case tx.state == Verified:
		return metrics.OutcomeVerified
	case tx.state == Committed:
		return metrics.OutcomeCommitted
	default:
		return metrics.OutcomeInvalid
	}
}

// timeout derives the context for one backend call
func (tx *Transaction) timeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if tx.opts.OperationTimeout > 0 {
		return context.WithTimeout(ctx, tx.opts.OperationTimeout)
	}
	return context.WithCancel(ctx)
}
