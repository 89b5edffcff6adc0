package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Chrono-byte/flux/pkg/errors"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens the journal at dbPath, creating it and its parent
// directory when missing. Use ":memory:" for an in-memory journal.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, errors.Wrapf(err, errors.ErrResource, "cannot create journal directory for %s", dbPath)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrResource, "cannot open journal %s", dbPath)
	}
	// a single connection keeps ":memory:" databases from splitting per connection
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrResource, "cannot initialize journal schema")
	}
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		description TEXT,
		metadata TEXT,
		results TEXT NOT NULL,
		skipped TEXT,
		findings TEXT,
		error TEXT,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_started_at ON transactions(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record inserts e, replacing an earlier entry with the same id
func (s *SQLiteStore) Record(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "cannot encode metadata")
	}
	results, err := json.Marshal(e.Results)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "cannot encode results")
	}
	skipped, err := json.Marshal(e.Skipped)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "cannot encode skipped operations")
	}
	findings, err := json.Marshal(e.Findings)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "cannot encode findings")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO transactions
		(id, state, description, metadata, results, skipped, findings, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.State, e.Description, string(metadata), string(results), string(skipped), string(findings),
		e.Error, e.StartedAt.UnixNano(), e.FinishedAt.UnixNano(),
	)
	if err != nil {
		return errors.Wrapf(err, errors.ErrResource, "cannot record transaction %s", e.ID)
	}
	return nil
}

const selectColumns = `SELECT id, state, description, metadata, results, skipped, findings, error, started_at, finished_at FROM transactions`

// Get returns the entry with id
func (s *SQLiteStore) Get(ctx context.Context, id string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id)
	e, err := scanEntry(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return Entry{}, errors.Newf(errors.ErrInvalidInput, "no transaction %s in journal", id)
	}
	return e, err
}

// List returns entries newest first
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+" ORDER BY started_at DESC, id LIMIT ?", limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrResource, "cannot query journal")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrResource, "cannot iterate journal")
	}
	return entries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e                                   Entry
		description, errText                sql.NullString
		metadata, results, skipped, finding sql.NullString
		started, finished                   int64
	)
	if err := row.Scan(&e.ID, &e.State, &description, &metadata, &results, &skipped, &finding, &errText, &started, &finished); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, errors.Wrap(err, errors.ErrResource, "cannot read journal entry")
	}
	e.Description = description.String
	e.Error = errText.String
	e.StartedAt = time.Unix(0, started)
	e.FinishedAt = time.Unix(0, finished)

	for _, field := range []struct {
		raw  sql.NullString
		into any
	}{
		{metadata, &e.Metadata},
		{results, &e.Results},
		{skipped, &e.Skipped},
		{finding, &e.Findings},
	} {
		if !field.raw.Valid || field.raw.String == "" || field.raw.String == "null" {
			continue
		}
		if err := json.Unmarshal([]byte(field.raw.String), field.into); err != nil {
			return e, errors.Wrapf(err, errors.ErrInternal, "cannot decode journal entry %s", e.ID)
		}
	}
	return e, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
