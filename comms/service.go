package comms

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/GoCodeAlone/agency/store"
	"github.com/GoCodeAlone/agency/task"
)

// Service is the communication subsystem. Each operation commits in one transaction
// or not at all; newly sent messages are then published on the bus.
type Service struct {
	db     *store.DB
	bus    Bus
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithBus publishes every sent message on bus after it is stored.
func WithBus(bus Bus) Option {
	return func(s *Service) { s.bus = bus }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService returns a Service backed by db.
func NewService(db *store.DB, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{db: db, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send stores a new message and upserts its thread context. Without an explicit
// thread id the message heads a new thread named after itself.
func (s *Service) Send(ctx context.Context, req SendRequest) (*Message, error) {
	m, err := s.newMessage(req, s.now())
	if err != nil {
		return nil, err
	}
	err = s.db.Tx(ctx, func(tx *sql.Tx) error {
		return s.persist(ctx, tx, m)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("message sent",
		slog.String("message_id", m.ID),
		slog.String("thread_id", m.ThreadID),
		slog.String("from", m.FromAgent),
		slog.String("to", m.ToAgent),
	)
	s.publish(ctx, m)
	return m, nil
}

// Broadcast sends one message per recipient. All copies share a thread whose id is
// the first copy's id unless the request names a thread. The sender never receives
// its own broadcast.
func (s *Service) Broadcast(ctx context.Context, req BroadcastRequest) ([]*Message, error) {
	var recipients []string
	for _, r := range req.Recipients {
		if r != "" && r != req.FromAgent && !slices.Contains(recipients, r) {
			recipients = append(recipients, r)
		}
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: at least one recipient other than the sender is required", ErrInvalid)
	}

	now := s.now()
	var msgs []*Message
	threadID := req.ThreadID
	for _, to := range recipients {
		r := req.SendRequest
		r.ToAgent = to
		r.ThreadID = threadID
		if r.Metadata.Type == "" {
			r.Metadata.Type = "broadcast"
		}
		m, err := s.newMessage(r, now)
		if err != nil {
			return nil, err
		}
		if threadID == "" {
			threadID = m.ThreadID
		}
		msgs = append(msgs, m)
	}

	err := s.db.Tx(ctx, func(tx *sql.Tx) error {
		for _, m := range msgs {
			if err := s.persist(ctx, tx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("message broadcast",
		slog.String("thread_id", threadID),
		slog.String("from", req.FromAgent),
		slog.Int("recipients", len(msgs)),
	)
	for _, m := range msgs {
		s.publish(ctx, m)
	}
	return msgs, nil
}

// Thread returns a thread's context and its messages.
func (s *Service) Thread(ctx context.Context, threadID string) (*ThreadView, error) {
	if threadID == "" {
		return nil, fmt.Errorf("%w: thread_id is required", ErrInvalid)
	}
	th, err := getThread(ctx, s.db.SQL(), threadID)
	if err != nil {
		return nil, err
	}
	msgs, err := queryMessages(ctx, s.db.SQL(), `thread_id = ?`, threadID)
	if err != nil {
		return nil, err
	}
	return &ThreadView{ThreadID: threadID, Context: th, Messages: msgs, MessageCount: len(msgs)}, nil
}

// UpdateStatus moves a message to status and appends a history entry. The first
// transition to read stamps ReadAt and the first to responded stamps RespondedAt;
// later transitions never clear them.
func (s *Service) UpdateStatus(ctx context.Context, id string, status Status, details string) (*Message, error) {
	if id == "" || status == "" {
		return nil, fmt.Errorf("%w: message_id and new status are required", ErrInvalid)
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalid, status)
	}
	if details == "" {
		details = "Status updated"
	}

	var updated *Message
	err := s.db.Tx(ctx, func(tx *sql.Tx) error {
		m, err := getMessage(ctx, tx, id)
		if err != nil {
			return err
		}
		now := s.now()
		m.Status = status
		m.StatusHistory = append(m.StatusHistory, StatusEntry{Status: status, Timestamp: now, Details: details})
		switch {
		case status == StatusRead && m.ReadAt == nil:
			m.ReadAt = &now
		case status == StatusResponded && m.RespondedAt == nil:
			m.RespondedAt = &now
		}
		if err := updateMessageStatus(ctx, tx, m); err != nil {
			return err
		}
		updated = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("message status updated", slog.String("message_id", id), slog.String("status", string(status)))
	return updated, nil
}

// MarkRead is UpdateStatus(read) with a fixed detail text.
func (s *Service) MarkRead(ctx context.Context, id string) (*Message, error) {
	return s.UpdateStatus(ctx, id, StatusRead, "Marked as read")
}

// Context returns every thread agentID participates in, every message it sent or
// received, and the number of unread messages addressed to it. Computed per call.
func (s *Service) Context(ctx context.Context, agentID string) (*AgentContext, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: agent_id is required", ErrInvalid)
	}
	threads, err := threadsWithParticipant(ctx, s.db.SQL(), agentID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.Messages(ctx, agentID)
	if err != nil {
		return nil, err
	}
	unread, err := countUnread(ctx, s.db.SQL(), agentID)
	if err != nil {
		return nil, err
	}
	return &AgentContext{
		AgentID:        agentID,
		ActiveThreads:  threads,
		RecentMessages: msgs,
		ThreadCount:    len(threads),
		UnreadCount:    unread,
	}, nil
}

// Messages returns every message sent or received by agentID.
func (s *Service) Messages(ctx context.Context, agentID string) ([]*Message, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: agent_id is required", ErrInvalid)
	}
	return queryMessages(ctx, s.db.SQL(), `from_agent = ? OR to_agent = ?`, agentID, agentID)
}

// Unread returns unread messages addressed to agentID.
func (s *Service) Unread(ctx context.Context, agentID string) ([]*Message, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: agent_id is required", ErrInvalid)
	}
	return queryMessages(ctx, s.db.SQL(), `to_agent = ? AND status = ?`, agentID, string(StatusUnread))
}

func (s *Service) newMessage(req SendRequest, now time.Time) (*Message, error) {
	var missing []string
	if req.FromAgent == "" {
		missing = append(missing, "from_agent")
	}
	if req.ToAgent == "" {
		missing = append(missing, "to_agent")
	}
	if strings.TrimSpace(req.Content) == "" {
		missing = append(missing, "content")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s required", ErrInvalid, strings.Join(missing, ", "))
	}
	priority := req.Priority
	if priority == 0 {
		priority = task.PriorityNormal
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: priority %d out of range 1-5", ErrInvalid, priority)
	}

	m := &Message{
		ID:               store.NewID("msg", now),
		ThreadID:         req.ThreadID,
		FromAgent:        req.FromAgent,
		ToAgent:          req.ToAgent,
		Content:          req.Content,
		Priority:         priority,
		Status:           StatusUnread,
		Context:          req.Context,
		Metadata:         req.Metadata,
		ActionRequired:   req.ActionRequired,
		ExpectedResponse: req.ExpectedResponse,
		Deadline:         req.Deadline,
		StatusHistory:    []StatusEntry{{Status: StatusUnread, Timestamp: now, Details: "Message created"}},
		Timestamp:        now,
	}
	if m.ThreadID == "" {
		m.ThreadID = m.ID
	}
	if m.Metadata.Type == "" {
		m.Metadata.Type = "general"
	}
	if m.Metadata.Category == "" {
		m.Metadata.Category = "information"
	}
	if m.Metadata.Importance == "" {
		m.Metadata.Importance = "normal"
	}
	normalize(m)
	return m, nil
}

// persist writes m and creates or extends its thread context.
func (s *Service) persist(ctx context.Context, tx *sql.Tx, m *Message) error {
	if err := insertMessage(ctx, tx, m); err != nil {
		return err
	}
	th, err := getThread(ctx, tx, m.ThreadID)
	if err != nil {
		return err
	}
	if th == nil {
		participants := []string{m.FromAgent}
		if m.ToAgent != m.FromAgent {
			participants = append(participants, m.ToAgent)
		}
		return insertThread(ctx, tx, &ThreadContext{
			ThreadID:     m.ThreadID,
			Participants: participants,
			MessageCount: 1,
			Status:       "active",
			Summary:      "Thread started by " + m.FromAgent,
			CreatedAt:    m.Timestamp,
			LastUpdated:  m.Timestamp,
		})
	}
	th.MessageCount++
	th.LastUpdated = m.Timestamp
	if !slices.Contains(th.Participants, m.ToAgent) {
		th.Participants = append(th.Participants, m.ToAgent)
	}
	return updateThread(ctx, tx, th)
}

func (s *Service) publish(ctx context.Context, m *Message) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, m); err != nil {
		s.logger.Warn("message delivery failed",
			slog.String("message_id", m.ID),
			slog.Any("err", err),
		)
	}
}
