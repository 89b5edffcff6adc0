// Package journal keeps a history of applied transactions in SQLite so
// that `flux status` can show what was changed, when, and whether it stuck.
package journal

import (
	"context"
	"time"

	"github.com/Chrono-byte/flux/pkg/transaction"
	"github.com/Chrono-byte/flux/pkg/types"
)

// Entry is one recorded transaction
type Entry struct {
	ID          string                  `json:"id" yaml:"id"`
	State       string                  `json:"state" yaml:"state"`
	Description string                  `json:"description,omitempty" yaml:"description,omitempty"`
	Metadata    map[string]string       `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Results     []types.OperationResult `json:"results" yaml:"results"`
	Skipped     []types.Operation       `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Findings    []string                `json:"findings,omitempty" yaml:"findings,omitempty"`
	Error       string                  `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt   time.Time               `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time               `json:"finished_at" yaml:"finished_at"`
}

// Store records and retrieves journal entries
type Store interface {
	Record(ctx context.Context, e Entry) error
	Get(ctx context.Context, id string) (Entry, error)
	// List returns the newest entries first, at most limit of them (all when limit <= 0)
	List(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// EntryFor summarizes a finished transaction
func EntryFor(tx *transaction.Transaction) Entry {
	meta := tx.Metadata()
	e := Entry{
		ID:          tx.ID(),
		State:       tx.State().String(),
		Description: meta["description"],
		Metadata:    meta,
		Results:     tx.Changes(),
		Skipped:     tx.Skipped(),
		Findings:    tx.Findings(),
		StartedAt:   tx.StartedAt(),
		FinishedAt:  tx.FinishedAt(),
	}
	if e.FinishedAt.IsZero() {
		e.FinishedAt = time.Now()
	}
	if err := tx.Err(); err != nil {
		e.Error = err.Error()
	}
	return e
}
