package comms

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/GoCodeAlone/agency/store"
	"github.com/GoCodeAlone/agency/task"
)

const messageColumns = `id, thread_id, from_agent, to_agent, content, priority, status, context, metadata, action_required, expected_response, deadline, read_at, responded_at, status_history, created_at`

func insertMessage(ctx context.Context, q store.Querier, m *Message) error {
	msgCtx, err := store.JSON(m.Context)
	if err != nil {
		return err
	}
	metadata, err := store.JSON(m.Metadata)
	if err != nil {
		return err
	}
	history, err := store.JSON(m.StatusHistory)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.ThreadID, m.FromAgent, m.ToAgent, m.Content, int(m.Priority), string(m.Status),
		msgCtx, metadata, m.ActionRequired, m.ExpectedResponse, store.NullTime(m.Deadline),
		store.NullTime(m.ReadAt), store.NullTime(m.RespondedAt), history, store.FormatTime(m.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func updateMessageStatus(ctx context.Context, q store.Querier, m *Message) error {
	history, err := store.JSON(m.StatusHistory)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		UPDATE messages SET status=?, read_at=?, responded_at=?, status_history=? WHERE id=?`,
		string(m.Status), store.NullTime(m.ReadAt), store.NullTime(m.RespondedAt), history, m.ID,
	)
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	return nil
}

func getMessage(ctx context.Context, q store.Querier, id string) (*Message, error) {
	row := q.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return m, err
}

func queryMessages(ctx context.Context, q store.Querier, where string, args ...any) ([]*Message, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE `+where+` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	msgs := []*Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (*Message, error) {
	var (
		m                       Message
		priority                int
		status                  string
		ctxJSON, metadataJSON   string
		historyJSON, createdAt  string
		deadline, readAt, resAt sql.NullString
	)
	err := s.Scan(
		&m.ID, &m.ThreadID, &m.FromAgent, &m.ToAgent, &m.Content, &priority, &status,
		&ctxJSON, &metadataJSON, &m.ActionRequired, &m.ExpectedResponse, &deadline,
		&readAt, &resAt, &historyJSON, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	m.Priority = task.Priority(priority)
	m.Status = Status(status)
	if err := store.FromJSON(ctxJSON, &m.Context); err != nil {
		return nil, fmt.Errorf("message %s context: %w", m.ID, err)
	}
	if err := store.FromJSON(metadataJSON, &m.Metadata); err != nil {
		return nil, fmt.Errorf("message %s metadata: %w", m.ID, err)
	}
	if err := store.FromJSON(historyJSON, &m.StatusHistory); err != nil {
		return nil, fmt.Errorf("message %s status history: %w", m.ID, err)
	}
	if m.Timestamp, err = store.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if m.Deadline, err = store.ScanNullTime(deadline); err != nil {
		return nil, err
	}
	if m.ReadAt, err = store.ScanNullTime(readAt); err != nil {
		return nil, err
	}
	if m.RespondedAt, err = store.ScanNullTime(resAt); err != nil {
		return nil, err
	}
	normalize(&m)
	return &m, nil
}

// normalize replaces nil collections so JSON output carries [] and {}.
func normalize(m *Message) {
	if m.Context.RelatedMessages == nil {
		m.Context.RelatedMessages = []string{}
	}
	if m.Context.ConversationState == nil {
		m.Context.ConversationState = map[string]any{}
	}
	if m.Context.EnvironmentState == nil {
		m.Context.EnvironmentState = map[string]any{}
	}
	if m.Metadata.Tags == nil {
		m.Metadata.Tags = []string{}
	}
	if m.Metadata.SourceContext == nil {
		m.Metadata.SourceContext = map[string]any{}
	}
}

const threadColumns = `thread_id, participants, message_count, status, summary, created_at, last_updated`

func getThread(ctx context.Context, q store.Querier, threadID string) (*ThreadContext, error) {
	row := q.QueryRowContext(ctx, `SELECT `+threadColumns+` FROM threads WHERE thread_id = ?`, threadID)
	th, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return th, err
}

func insertThread(ctx context.Context, q store.Querier, th *ThreadContext) error {
	participants, err := store.JSON(th.Participants)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO threads (`+threadColumns+`) VALUES (?,?,?,?,?,?,?)`,
		th.ThreadID, participants, th.MessageCount, th.Status, th.Summary,
		store.FormatTime(th.CreatedAt), store.FormatTime(th.LastUpdated),
	)
	if err != nil {
		return fmt.Errorf("insert thread: %w", err)
	}
	return nil
}

func updateThread(ctx context.Context, q store.Querier, th *ThreadContext) error {
	participants, err := store.JSON(th.Participants)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		UPDATE threads SET participants=?, message_count=?, last_updated=? WHERE thread_id=?`,
		participants, th.MessageCount, store.FormatTime(th.LastUpdated), th.ThreadID,
	)
	if err != nil {
		return fmt.Errorf("update thread: %w", err)
	}
	return nil
}

// threadsWithParticipant matches the participant inside the JSON array column.
func threadsWithParticipant(ctx context.Context, q store.Querier, agentID string) ([]*ThreadContext, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+threadColumns+` FROM threads
		WHERE EXISTS (SELECT 1 FROM json_each(threads.participants) WHERE json_each.value = ?)
		ORDER BY last_updated DESC, thread_id ASC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("query threads: %w", err)
	}
	defer rows.Close()

	threads := []*ThreadContext{}
	for rows.Next() {
		th, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, th)
	}
	return threads, rows.Err()
}

func scanThread(s scanner) (*ThreadContext, error) {
	var (
		th                     ThreadContext
		participants           string
		createdAt, lastUpdated string
	)
	err := s.Scan(&th.ThreadID, &participants, &th.MessageCount, &th.Status, &th.Summary, &createdAt, &lastUpdated)
	if err != nil {
		return nil, err
	}
	if err := store.FromJSON(participants, &th.Participants); err != nil {
		return nil, fmt.Errorf("thread %s participants: %w", th.ThreadID, err)
	}
	if th.Participants == nil {
		th.Participants = []string{}
	}
	if th.CreatedAt, err = store.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if th.LastUpdated, err = store.ParseTime(lastUpdated); err != nil {
		return nil, err
	}
	return &th, nil
}

func countUnread(ctx context.Context, q store.Querier, agentID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE to_agent = ? AND status = ?`, agentID, string(StatusUnread)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}
