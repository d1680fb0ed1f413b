package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/GoCodeAlone/agency/store"
	"github.com/GoCodeAlone/agency/task"
)

type state struct {
	lastSend    time.Time
	batchNumber int
}

// loadState reads the singleton batch_state row, creating it with lastSend = now on
// first use.
func loadState(ctx context.Context, q store.Querier, now time.Time) (state, error) {
	_, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO batch_state (id, last_send, batch_number) VALUES (1, ?, 0)`, store.FormatTime(now))
	if err != nil {
		return state{}, fmt.Errorf("init batch state: %w", err)
	}
	var st state
	var lastSend string
	err = q.QueryRowContext(ctx, `SELECT last_send, batch_number FROM batch_state WHERE id = 1`).Scan(&lastSend, &st.batchNumber)
	if err != nil {
		return state{}, fmt.Errorf("read batch state: %w", err)
	}
	if st.lastSend, err = store.ParseTime(lastSend); err != nil {
		return state{}, err
	}
	return st, nil
}

func saveState(ctx context.Context, q store.Querier, st state) error {
	_, err := q.ExecContext(ctx, `UPDATE batch_state SET last_send = ?, batch_number = ? WHERE id = 1`,
		store.FormatTime(st.lastSend), st.batchNumber)
	if err != nil {
		return fmt.Errorf("save batch state: %w", err)
	}
	return nil
}

func insertUpdate(ctx context.Context, q store.Querier, u Update) error {
	metadata, err := store.JSON(u.Metadata)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO batch_updates (id, content, priority, category, metadata, created_at)
		VALUES (?,?,?,?,?,?)`,
		u.ID, u.Content, int(u.Priority), u.Category, metadata, store.FormatTime(u.Timestamp))
	if err != nil {
		return fmt.Errorf("queue update: %w", err)
	}
	return nil
}

func listUpdates(ctx context.Context, q store.Querier) ([]Update, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, content, priority, category, metadata, created_at FROM batch_updates ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list queued updates: %w", err)
	}
	defer rows.Close()

	updates := []Update{}
	for rows.Next() {
		var (
			u                   Update
			priority            int
			metadata, createdAt string
		)
		if err := rows.Scan(&u.ID, &u.Content, &priority, &u.Category, &metadata, &createdAt); err != nil {
			return nil, err
		}
		u.Priority = task.Priority(priority)
		if err := store.FromJSON(metadata, &u.Metadata); err != nil {
			return nil, fmt.Errorf("update %s metadata: %w", u.ID, err)
		}
		if u.Metadata == nil {
			u.Metadata = map[string]any{}
		}
		if u.Timestamp, err = store.ParseTime(createdAt); err != nil {
			return nil, err
		}
		updates = append(updates, u)
	}
	return updates, rows.Err()
}

func deleteUpdates(ctx context.Context, q store.Querier) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM batch_updates`); err != nil {
		return fmt.Errorf("clear queued updates: %w", err)
	}
	return nil
}

func insertArchive(ctx context.Context, q store.Querier, b ArchivedBatch) error {
	updates, err := store.JSON(b.Updates)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO batch_history (batch_number, reason, last_send, sent_at, updates) VALUES (?,?,?,?,?)`,
		b.BatchNumber, string(b.Reason), store.FormatTime(b.LastSend), store.FormatTime(b.SentAt), updates)
	if err != nil {
		return fmt.Errorf("archive batch %d: %w", b.BatchNumber, err)
	}
	return nil
}

// listArchives returns the most recent limit archived batches, newest first. A limit
// of zero returns all of them.
func listArchives(ctx context.Context, q store.Querier, limit int) ([]ArchivedBatch, error) {
	query := `SELECT batch_number, reason, last_send, sent_at, updates FROM batch_history ORDER BY batch_number DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list batch history: %w", err)
	}
	defer rows.Close()

	out := []ArchivedBatch{}
	for rows.Next() {
		var (
			b                        ArchivedBatch
			reason, lastSend, sentAt string
			updates                  string
		)
		if err := rows.Scan(&b.BatchNumber, &reason, &lastSend, &sentAt, &updates); err != nil {
			return nil, err
		}
		b.Reason = FlushReason(reason)
		if b.LastSend, err = store.ParseTime(lastSend); err != nil {
			return nil, err
		}
		if b.SentAt, err = store.ParseTime(sentAt); err != nil {
			return nil, err
		}
		if err := store.FromJSON(updates, &b.Updates); err != nil {
			return nil, fmt.Errorf("batch %d updates: %w", b.BatchNumber, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
