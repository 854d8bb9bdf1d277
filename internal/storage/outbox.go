package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Outbox entry statuses.
const (
	OutboxStatusPending    = "pending"
	OutboxStatusProcessing = "processing"
	OutboxStatusCompleted  = "completed"
	OutboxStatusFailed     = "failed"
)

// OutboxEntry is one durable mutation record awaiting publication. Entries are
// written in the same database as the mutation they describe, so a crash
// between the write and the publish loses nothing.
type OutboxEntry struct {
	ID        string
	UserID    string
	Entity    string
	EntityID  string
	Operation string
	Payload   json.RawMessage
	Status    string
	Attempts  int
	LastError string
	CreatedAt time.Time
}

// OutboxStats summarizes queue depth per status.
type OutboxStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Enqueue records a mutation in the outbox. The payload must already be
// serialized JSON.
func (r *SQLiteRepository) Enqueue(ctx context.Context, userID, entity, entityID, operation string, payload json.RawMessage) error {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO outbox (id, user_id, entity, entity_id, operation, payload)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), userID, entity, entityID, operation, string(payload))
	if err != nil {
		return fmt.Errorf("enqueue outbox entry: %w", classifyErr(err))
	}
	return nil
}

// DequeueBatch claims up to limit pending entries, marking them processing so
// a second processor instance skips them.
func (r *SQLiteRepository) DequeueBatch(ctx context.Context, limit int) ([]OutboxEntry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin dequeue: %w", classifyErr(err))
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, user_id, entity, entity_id, operation, payload, status, attempts, COALESCE(last_error, ''), created_at
		FROM outbox WHERE status = ?
		ORDER BY created_at LIMIT ?`, OutboxStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending outbox entries: %w", classifyErr(err))
	}

	var entries []OutboxEntry
	for rows.Next() {
		var (
			e       OutboxEntry
			payload string
			created string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Entity, &e.EntityID, &e.Operation, &payload, &e.Status, &e.Attempts, &e.LastError, &created); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		if t, err := time.Parse("2006-01-02 15:04:05", created); err == nil {
			e.CreatedAt = t
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range entries {
		if _, err := tx.ExecContext(ctx, `
			UPDATE outbox SET status = ?, updated_at = datetime('now') WHERE id = ?`,
			OutboxStatusProcessing, entries[i].ID); err != nil {
			return nil, fmt.Errorf("claim outbox entry %s: %w", entries[i].ID, classifyErr(err))
		}
		entries[i].Status = OutboxStatusProcessing
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit dequeue: %w", classifyErr(err))
	}
	return entries, nil
}

// MarkCompleted marks an entry successfully published.
func (r *SQLiteRepository) MarkCompleted(ctx context.Context, id string) error {
	return r.setOutboxStatus(ctx, id, OutboxStatusCompleted, "")
}

// MarkFailed marks an entry permanently failed with the final error.
func (r *SQLiteRepository) MarkFailed(ctx context.Context, id, lastError string) error {
	return r.setOutboxStatus(ctx, id, OutboxStatusFailed, lastError)
}

// Requeue returns an entry to pending after a transient failure, recording the
// attempt and its error.
func (r *SQLiteRepository) Requeue(ctx context.Context, id, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outbox
		SET status = ?, attempts = attempts + 1, last_error = ?, updated_at = datetime('now')
		WHERE id = ?`, OutboxStatusPending, lastError, id)
	if err != nil {
		return fmt.Errorf("requeue outbox entry %s: %w", id, classifyErr(err))
	}
	return nil
}

func (r *SQLiteRepository) setOutboxStatus(ctx context.Context, id, status, lastError string) error {
	var errVal any
	if lastError != "" {
		errVal = lastError
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE outbox SET status = ?, last_error = ?, updated_at = datetime('now') WHERE id = ?`,
		status, errVal, id)
	if err != nil {
		return fmt.Errorf("update outbox entry %s: %w", id, classifyErr(err))
	}
	return nil
}

// ResetStaleProcessing returns entries stuck in processing (a crashed
// processor) back to pending.
func (r *SQLiteRepository) ResetStaleProcessing(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format("2006-01-02 15:04:05")
	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox SET status = ?, updated_at = datetime('now')
		WHERE status = ? AND updated_at < ?`,
		OutboxStatusPending, OutboxStatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reset stale outbox entries: %w", classifyErr(err))
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// RetryFailed returns all failed entries to pending with a fresh attempt count.
func (r *SQLiteRepository) RetryFailed(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox SET status = ?, attempts = 0, last_error = NULL, updated_at = datetime('now')
		WHERE status = ?`, OutboxStatusPending, OutboxStatusFailed)
	if err != nil {
		return 0, fmt.Errorf("retry failed outbox entries: %w", classifyErr(err))
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CleanupCompleted deletes completed entries older than the retention window.
func (r *SQLiteRepository) CleanupCompleted(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format("2006-01-02 15:04:05")
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM outbox WHERE status = ? AND updated_at < ?`,
		OutboxStatusCompleted, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup outbox: %w", classifyErr(err))
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Stats returns the queue depth per status.
func (r *SQLiteRepository) Stats(ctx context.Context) (OutboxStats, error) {
	var stats OutboxStats
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM outbox GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("outbox stats: %w", classifyErr(err))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("scan outbox stats: %w", err)
		}
		switch status {
		case OutboxStatusPending:
			stats.Pending = count
		case OutboxStatusProcessing:
			stats.Processing = count
		case OutboxStatusCompleted:
			stats.Completed = count
		case OutboxStatusFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

// PendingCount returns the number of entries awaiting publication.
func (r *SQLiteRepository) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox WHERE status = ?`, OutboxStatusPending).Scan(&n)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("count pending outbox entries: %w", classifyErr(err))
	}
	return n, nil
}
