// Package journal keeps a local sqlite record of executed calls and oracle
// snapshots so indeterminate outcomes can be followed up later.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"

	"defihub/lifecycle"
	"defihub/oracle"
)

const defaultFilePragmas = "mode=rwc&_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"

var (
	// ErrPathRequired is returned when the backing store path is missing.
	ErrPathRequired = errors.New("journal: path must be configured")
	// ErrNotFound is returned when no entry matches a lookup.
	ErrNotFound = errors.New("journal: entry not found")
)

// Journal wraps the sqlite persistence layer.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// FileDSN converts a filesystem path into an on-disk SQLite DSN.
func FileDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrPathRequired
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("journal: resolve path: %w", err)
	}
	return fmt.Sprintf("file:%s?%s", abs, defaultFilePragmas), nil
}

// Open initialises the journal using a sqlite DSN.
func Open(dsn string) (*Journal, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}
	return &Journal{db: db, now: time.Now}, nil
}

// Close releases database resources.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Entry is a persisted lifecycle result.
type Entry struct {
	ID          string                 `json:"id"`
	Kind        string                 `json:"kind"`
	Method      string                 `json:"method"`
	Source      string                 `json:"source"`
	Status      lifecycle.Status       `json:"status"`
	State       lifecycle.State        `json:"state"`
	Hash        string                 `json:"hash,omitempty"`
	Ledger      uint32                 `json:"ledger,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Transitions []lifecycle.Transition `json:"transitions"`
	StartedAt   time.Time              `json:"startedAt"`
	FinishedAt  time.Time              `json:"finishedAt"`
	ResolvedAt  *time.Time             `json:"resolvedAt,omitempty"`
}

// Unresolved reports whether the ledger outcome was never observed.
func (e Entry) Unresolved() bool {
	return e.Hash != "" && !e.State.Terminal() && e.ResolvedAt == nil
}

// Record implements lifecycle.Recorder. Re-recording an id replaces the row.
func (j *Journal) Record(ctx context.Context, res *lifecycle.Result) error {
	if j == nil {
		return fmt.Errorf("journal: not configured")
	}
	if res == nil || strings.TrimSpace(res.ID) == "" {
		return fmt.Errorf("journal: result id required")
	}
	transitions, err := json.Marshal(res.Transitions)
	if err != nil {
		return fmt.Errorf("journal: encode transitions: %w", err)
	}
	_, err = j.db.ExecContext(ctx, `
        INSERT INTO lifecycle_results(id, kind, method, source, status, state, hash, ledger, error, transitions, started_at, finished_at, recorded_at)
        VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            status = excluded.status,
            state = excluded.state,
            hash = excluded.hash,
            ledger = excluded.ledger,
            error = excluded.error,
            transitions = excluded.transitions,
            finished_at = excluded.finished_at,
            recorded_at = excluded.recorded_at
    `, res.ID, string(res.Kind), res.Method, res.Source, string(res.Status), string(res.State),
		strings.ToLower(res.Hash), res.Ledger, res.Error(), string(transitions),
		res.StartedAt.UTC().UnixMilli(), res.FinishedAt.UTC().UnixMilli(), j.now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("journal: insert result: %w", err)
	}
	return nil
}

// Get returns the entry with the given lifecycle id.
func (j *Journal) Get(ctx context.Context, id string) (Entry, error) {
	return j.one(ctx, `WHERE id = ?`, strings.TrimSpace(id))
}

// ByHash returns the most recent entry for a transaction hash.
func (j *Journal) ByHash(ctx context.Context, hash string) (Entry, error) {
	return j.one(ctx, `WHERE hash = ? ORDER BY finished_at DESC LIMIT 1`, strings.ToLower(strings.TrimSpace(hash)))
}

// List returns the most recent entries, newest first. An empty source lists
// every account.
func (j *Journal) List(ctx context.Context, source string, limit int) ([]Entry, error) {
	if j == nil {
		return nil, fmt.Errorf("journal: not configured")
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := selectEntry
	args := []any{}
	if src := strings.TrimSpace(source); src != "" {
		query += ` WHERE source = ?`
		args = append(args, src)
	}
	query += ` ORDER BY finished_at DESC LIMIT ?`
	args = append(args, limit)
	return j.query(ctx, query, args...)
}

// Unresolved returns entries whose submission outcome is still unknown.
func (j *Journal) Unresolved(ctx context.Context) ([]Entry, error) {
	if j == nil {
		return nil, fmt.Errorf("journal: not configured")
	}
	return j.query(ctx, selectEntry+`
        WHERE hash != '' AND resolved_at IS NULL AND state NOT IN (?, ?)
        ORDER BY finished_at ASC
    `, string(lifecycle.StateConfirmed), string(lifecycle.StateFailed))
}

// Resolve stores an out-of-band ledger observation for hash. Non-terminal
// states are ignored.
func (j *Journal) Resolve(ctx context.Context, status lifecycle.TxStatus) error {
	if j == nil {
		return fmt.Errorf("journal: not configured")
	}
	if !status.State.Terminal() {
		return nil
	}
	outcome := lifecycle.StatusConfirmed
	if status.State == lifecycle.StateFailed {
		outcome = lifecycle.StatusFailed
	}
	res, err := j.db.ExecContext(ctx, `
        UPDATE lifecycle_results
        SET state = ?, status = ?, ledger = ?, resolved_at = ?
        WHERE hash = ? AND resolved_at IS NULL
    `, string(status.State), string(outcome), status.Ledger, j.now().UTC().UnixMilli(), strings.ToLower(status.Hash))
	if err != nil {
		return fmt.Errorf("journal: resolve %s: %w", status.Hash, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordPrice implements oracle.SnapshotRecorder.
func (j *Journal) RecordPrice(ctx context.Context, snap oracle.Snapshot) error {
	if j == nil {
		return fmt.Errorf("journal: not configured")
	}
	_, err := j.db.ExecContext(ctx, `
        INSERT INTO price_snapshots(asset, median, feeders, observed_at, recorded_at)
        VALUES(?, ?, ?, ?, ?)
    `, strings.ToUpper(strings.TrimSpace(snap.Symbol)), snap.Median.String(), strings.Join(snap.Feeders, ","),
		snap.Observed.UTC().Unix(), j.now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("journal: insert snapshot: %w", err)
	}
	return nil
}

// LatestPrice returns the most recent snapshot for symbol.
func (j *Journal) LatestPrice(ctx context.Context, symbol string) (oracle.Snapshot, error) {
	if j == nil {
		return oracle.Snapshot{}, fmt.Errorf("journal: not configured")
	}
	row := j.db.QueryRowContext(ctx, `
        SELECT asset, median, feeders, observed_at
        FROM price_snapshots
        WHERE asset = ?
        ORDER BY id DESC
        LIMIT 1
    `, strings.ToUpper(strings.TrimSpace(symbol)))
	var (
		snap     oracle.Snapshot
		median   string
		feeders  string
		observed int64
	)
	if err := row.Scan(&snap.Symbol, &median, &feeders, &observed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return snap, ErrNotFound
		}
		return snap, fmt.Errorf("journal: query snapshot: %w", err)
	}
	price, err := decimal.NewFromString(median)
	if err != nil {
		return snap, fmt.Errorf("journal: stored median %q: %w", median, err)
	}
	snap.Median = price
	snap.Observed = time.Unix(observed, 0).UTC()
	if feeders != "" {
		snap.Feeders = strings.Split(feeders, ",")
	}
	return snap, nil
}

const selectEntry = `
    SELECT id, kind, method, source, status, state, hash, ledger, error, transitions, started_at, finished_at, resolved_at
    FROM lifecycle_results`

type rowScanner interface {
	Scan(dest ...any) error
}

func (j *Journal) one(ctx context.Context, where string, args ...any) (Entry, error) {
	if j == nil {
		return Entry{}, fmt.Errorf("journal: not configured")
	}
	entry, err := scanEntry(j.db.QueryRowContext(ctx, selectEntry+" "+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return entry, err
}

func (j *Journal) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: query results: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e           Entry
		status      string
		state       string
		transitions string
		started     int64
		finished    int64
		resolved    sql.NullInt64
	)
	if err := row.Scan(&e.ID, &e.Kind, &e.Method, &e.Source, &status, &state, &e.Hash, &e.Ledger, &e.Error,
		&transitions, &started, &finished, &resolved); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("journal: scan result: %w", err)
	}
	e.Status = lifecycle.Status(status)
	e.State = lifecycle.State(state)
	e.StartedAt = time.UnixMilli(started).UTC()
	e.FinishedAt = time.UnixMilli(finished).UTC()
	if resolved.Valid {
		at := time.UnixMilli(resolved.Int64).UTC()
		e.ResolvedAt = &at
	}
	if transitions != "" {
		if err := json.Unmarshal([]byte(transitions), &e.Transitions); err != nil {
			return e, fmt.Errorf("journal: decode transitions: %w", err)
		}
	}
	return e, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS lifecycle_results (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    method TEXT NOT NULL,
    source TEXT NOT NULL,
    status TEXT NOT NULL,
    state TEXT NOT NULL,
    hash TEXT NOT NULL DEFAULT '',
    ledger INTEGER NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT '',
    transitions TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    finished_at INTEGER NOT NULL,
    recorded_at INTEGER NOT NULL,
    resolved_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_lifecycle_results_hash ON lifecycle_results(hash);
CREATE INDEX IF NOT EXISTS idx_lifecycle_results_source ON lifecycle_results(source, finished_at);

CREATE TABLE IF NOT EXISTS price_snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    asset TEXT NOT NULL,
    median TEXT NOT NULL,
    feeders TEXT NOT NULL,
    observed_at INTEGER NOT NULL,
    recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_price_snapshots_asset ON price_snapshots(asset, id);
`
