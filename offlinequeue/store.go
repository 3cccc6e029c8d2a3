package offlinequeue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const queueSchema = `
CREATE TABLE IF NOT EXISTS queue_entries (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	idempotency_key TEXT NOT NULL UNIQUE,
	business_id     TEXT NOT NULL,
	shift_id        INTEGER NOT NULL DEFAULT 0,
	payload         TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	attempts        INTEGER NOT NULL DEFAULT 0,
	last_error      TEXT NOT NULL DEFAULT '',
	remove_requested INTEGER NOT NULL DEFAULT 0,
	next_attempt_at TIMESTAMP NOT NULL,
	enqueued_at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_queue_status_next ON queue_entries(status, next_attempt_at);
`

// Store is the durable on-terminal queue. SQLite survives process restarts
// and power loss; a queued sale is never lost short of losing the device.
type Store struct {
	db *sql.DB
}

// Open creates or opens the queue database at path. Idempotent.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect queue db: %w", err)
	}

	// One writer at a time keeps SQLITE_BUSY away.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(queueSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply queue schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Enqueue parks a payload for later submission and returns the stored entry.
// The idempotency key is generated here, once, and rides along on every
// retry of this entry.
func (s *Store) Enqueue(ctx context.Context, businessId string, shiftId int, payload json.RawMessage) (*Entry, error) {
	now := time.Now().UTC()
	entry := &Entry{
		IdempotencyKey: uuid.NewString(),
		BusinessId:     businessId,
		ShiftId:        shiftId,
		Payload:        payload,
		Status:         StatusPending,
		NextAttempt:    now,
		EnqueuedAt:     now,
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO queue_entries (idempotency_key, business_id, shift_id, payload, status, attempts, last_error, next_attempt_at, enqueued_at)
		 VALUES (?, ?, ?, ?, ?, 0, '', ?, ?)`,
		entry.IdempotencyKey, entry.BusinessId, entry.ShiftId, string(entry.Payload), entry.Status, entry.NextAttempt, entry.EnqueuedAt)
	if err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	entry.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// List returns all entries oldest first, every status included.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, idempotency_key, business_id, shift_id, payload, status, attempts, last_error, next_attempt_at, enqueued_at
		 FROM queue_entries ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Remove deletes a not-yet-synced entry, e.g. a sale voided at the terminal.
// An entry mid-sync is never yanked out from under the scheduler: the request
// may already be on the wire, so the entry is flagged instead and removed once
// the in-flight attempt resolves. Removing an unknown entry is a no-op.
func (s *Store) Remove(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE queue_entries SET remove_requested = 1 WHERE id = ? AND status = ?`,
		id, StatusSyncing)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM queue_entries WHERE id = ? AND status <> ?`, id, StatusSyncing); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// consumeRemoveRequest honors a removal that was deferred while the entry was
// mid-attempt. Reports whether the entry is gone.
func (s *Store) consumeRemoveRequest(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM queue_entries WHERE id = ? AND remove_requested = 1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// LeaseNext atomically claims the oldest due entry for a sync pass, flipping
// it pending/failed -> syncing. Returns nil when nothing is due. The flip is
// a single conditional UPDATE, so two overlapping passes can never lease the
// same entry.
func (s *Store) LeaseNext(ctx context.Context, now time.Time) (*Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT id, idempotency_key, business_id, shift_id, payload, status, attempts, last_error, next_attempt_at, enqueued_at
		 FROM queue_entries
		 WHERE status IN (?, ?) AND next_attempt_at <= ?
		 ORDER BY id LIMIT 1`,
		StatusPending, StatusFailed, now.UTC())

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE queue_entries SET status = ? WHERE id = ? AND status IN (?, ?)`,
		StatusSyncing, entry.ID, StatusPending, StatusFailed)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n != 1 {
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	entry.Status = StatusSyncing
	return entry, nil
}

// MarkSynced removes a successfully applied entry. The server holds the
// authoritative record now; keeping a local copy invites double counting.
func (s *Store) MarkSynced(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM queue_entries WHERE id = ?`, id)
	return err
}

// MarkRetry records a retryable failure and schedules the next attempt. A
// removal requested while the attempt was in flight is applied here instead.
func (s *Store) MarkRetry(ctx context.Context, id int64, attempts int, lastError string, nextAttempt time.Time) error {
	if removed, err := s.consumeRemoveRequest(ctx, id); err != nil || removed {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE queue_entries SET status = ?, attempts = ?, last_error = ?, next_attempt_at = ? WHERE id = ?`,
		StatusFailed, attempts, lastError, nextAttempt.UTC(), id)
	return err
}

// MarkPermanentlyFailed parks the entry terminally, unless a removal was
// requested mid-attempt, in which case the entry is dropped.
func (s *Store) MarkPermanentlyFailed(ctx context.Context, id int64, attempts int, lastError string) error {
	if removed, err := s.consumeRemoveRequest(ctx, id); err != nil || removed {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE queue_entries SET status = ?, attempts = ?, last_error = ? WHERE id = ?`,
		StatusPermanentlyFailed, attempts, lastError, id)
	return err
}

// Counts reports queue depth per status.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM queue_entries GROUP BY status`)
	if err != nil {
		return Counts{}, err
	}
	defer rows.Close()

	var c Counts
	for rows.Next() {
		var status EntryStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Counts{}, err
		}
		switch status {
		case StatusPending:
			c.Pending = n
		case StatusSyncing:
			c.Syncing = n
		case StatusFailed:
			c.Failed = n
		case StatusPermanentlyFailed:
			c.PermanentlyFailed = n
		}
	}
	return c, rows.Err()
}

// RequeueStuckSyncing returns syncing entries to pending. Run once at agent
// startup: a syncing row at that point is a leftover from a crash mid-pass,
// and resubmitting is safe because the idempotency key is unchanged. Entries
// whose removal was deferred mid-attempt are dropped, not requeued.
func (s *Store) RequeueStuckSyncing(ctx context.Context) (int, error) {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM queue_entries WHERE status = ? AND remove_requested = 1`,
		StatusSyncing); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_entries SET status = ? WHERE status = ?`,
		StatusPending, StatusSyncing)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *entry)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var payload string
	if err := row.Scan(&e.ID, &e.IdempotencyKey, &e.BusinessId, &e.ShiftId, &payload,
		&e.Status, &e.Attempts, &e.LastError, &e.NextAttempt, &e.EnqueuedAt); err != nil {
		return nil, err
	}
	e.Payload = json.RawMessage(payload)
	return &e, nil
}
