// Package indexer persists committed ledger events into SQLite so dashboards
// and support tooling can query history without touching the state trie.
package indexer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"jobledger/core/events"
	"jobledger/core/types"
	"jobledger/native/escrow"
)

// ErrEscrowNotIndexed is returned when no locked event was seen for an escrow.
var ErrEscrowNotIndexed = errors.New("indexer: escrow not indexed")

// Record is one stored event.
type Record struct {
	Sequence   int64
	Type       string
	Attributes map[string]string
	IndexedAt  time.Time
}

// EscrowStatus is the projection of an escrow's event stream.
type EscrowStatus struct {
	EscrowID   string
	JobID      uint64
	Client     string
	Worker     string
	Amount     string
	Status     string
	Milestones int
	Completed  int
	Reason     string
	UpdatedAt  time.Time
}

// Indexer manages the event log and escrow projection tables.
type Indexer struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFn   func() time.Time
	dropped atomic.Uint64
}

// Open creates or migrates the SQLite database at path.
func Open(path string, logger *slog.Logger) (*Indexer, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// ":memory:" databases are private to one connection.
	db.SetMaxOpenConns(1)
	if logger == nil {
		logger = slog.Default()
	}
	ix := &Indexer{db: db, logger: logger.With("component", "indexer"), nowFn: time.Now}
	if err := ix.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return ix, nil
}

func (ix *Indexer) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS events (
            sequence INTEGER PRIMARY KEY AUTOINCREMENT,
            type TEXT NOT NULL,
            payload TEXT NOT NULL,
            created_at TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS events_type ON events(type);`,
		`CREATE TABLE IF NOT EXISTS escrow_status (
            escrow_id TEXT PRIMARY KEY,
            job_id INTEGER NOT NULL,
            client TEXT NOT NULL,
            worker TEXT NOT NULL,
            amount TEXT NOT NULL,
            status TEXT NOT NULL,
            milestones INTEGER NOT NULL,
            completed INTEGER NOT NULL DEFAULT 0,
            reason TEXT,
            updated_at TIMESTAMP NOT NULL
        );`,
	}
	for _, stmt := range schema {
		if _, err := ix.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (ix *Indexer) Close() error {
	return ix.db.Close()
}

// Dropped reports how many events failed to persist.
func (ix *Indexer) Dropped() uint64 { return ix.dropped.Load() }

// Emit implements events.Emitter. Failures are logged and counted; the ledger
// has already committed by the time events arrive here.
func (ix *Indexer) Emit(evt events.Event) {
	typed, ok := evt.(*types.Event)
	if !ok || typed == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ix.Record(ctx, typed); err != nil {
		ix.dropped.Add(1)
		ix.logger.Error("index event", "type", typed.Type, "error", err)
	}
}

// Record stores evt and updates the projections it touches in one SQLite
// transaction.
func (ix *Indexer) Record(ctx context.Context, evt *types.Event) error {
	payload, err := json.Marshal(evt.Attributes)
	if err != nil {
		return err
	}
	now := ix.nowFn().UTC()
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO events(type, payload, created_at) VALUES(?, ?, ?)`, evt.Type, string(payload), now); err != nil {
		return err
	}
	if err := project(ctx, tx, evt, now); err != nil {
		return fmt.Errorf("project %s: %w", evt.Type, err)
	}
	return tx.Commit()
}

func project(ctx context.Context, tx *sql.Tx, evt *types.Event, now time.Time) error {
	attrs := evt.Attributes
	id := attrs["escrowId"]
	if id == "" {
		return nil
	}
	switch evt.Type {
	case escrow.EventTypeEscrowLocked:
		jobID, err := strconv.ParseUint(attrs["jobId"], 10, 64)
		if err != nil {
			return fmt.Errorf("jobId: %w", err)
		}
		milestones, _ := strconv.Atoi(attrs["milestones"])
		_, err = tx.ExecContext(ctx, `INSERT INTO escrow_status(escrow_id, job_id, client, worker, amount, status, milestones, updated_at)
            VALUES(?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(escrow_id) DO NOTHING`,
			id, jobID, attrs["client"], attrs["worker"], attrs["amount"], escrow.StatusLocked.String(), milestones, now)
		return err
	case escrow.EventTypeMilestoneCompleted:
		completed, err := strconv.Atoi(attrs["completed"])
		if err != nil {
			return fmt.Errorf("completed: %w", err)
		}
		_, err = tx.ExecContext(ctx, `UPDATE escrow_status SET completed = ?, updated_at = ? WHERE escrow_id = ?`, completed, now, id)
		return err
	case escrow.EventTypeDisputeRaised:
		return setStatus(ctx, tx, id, escrow.StatusDisputed, attrs["reason"], now)
	case escrow.EventTypeEscrowReleased:
		return setStatus(ctx, tx, id, escrow.StatusReleased, attrs["reason"], now)
	case escrow.EventTypeEscrowRefunded:
		return setStatus(ctx, tx, id, escrow.StatusRefunded, attrs["reason"], now)
	}
	return nil
}

func setStatus(ctx context.Context, tx *sql.Tx, id string, status escrow.Status, reason string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE escrow_status SET status = ?, reason = ?, updated_at = ? WHERE escrow_id = ?`, status.String(), reason, now, id)
	return err
}

// Events returns up to limit events with a sequence greater than after.
func (ix *Indexer) Events(ctx context.Context, after int64, limit int) ([]Record, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	rows, err := ix.db.QueryContext(ctx, `SELECT sequence, type, payload, created_at FROM events WHERE sequence > ? ORDER BY sequence ASC LIMIT ?`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec     Record
			payload string
		)
		if err := rows.Scan(&rec.Sequence, &rec.Type, &payload, &rec.IndexedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &rec.Attributes); err != nil {
			return nil, fmt.Errorf("decode event %d: %w", rec.Sequence, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// EscrowStatus returns the projected state of escrow id (hex encoded).
func (ix *Indexer) EscrowStatus(ctx context.Context, id string) (*EscrowStatus, error) {
	const query = `SELECT escrow_id, job_id, client, worker, amount, status, milestones, completed, COALESCE(reason, ''), updated_at
        FROM escrow_status WHERE escrow_id = ?`
	var st EscrowStatus
	err := ix.db.QueryRowContext(ctx, query, id).Scan(&st.EscrowID, &st.JobID, &st.Client, &st.Worker, &st.Amount,
		&st.Status, &st.Milestones, &st.Completed, &st.Reason, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEscrowNotIndexed
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}
