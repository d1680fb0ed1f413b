// Package comms implements agent-to-agent messaging: persisted threaded messages with
// a status lifecycle, per-thread context aggregates and per-agent context queries,
// plus an in-process bus that delivers new messages to running agents.
package comms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/GoCodeAlone/agency/store"
	"github.com/GoCodeAlone/agency/task"
)

var (
	// ErrNotFound is returned when a referenced message does not exist.
	ErrNotFound = errors.New("message not found")
	// ErrInvalid is returned when required input is missing or malformed.
	ErrInvalid = errors.New("invalid message input")
)

// Status is the delivery state of a message.
type Status string

const (
	StatusUnread       Status = "unread"
	StatusRead         Status = "read"
	StatusAcknowledged Status = "acknowledged"
	StatusResponded    Status = "responded"
)

// Statuses lists every valid message status.
var Statuses = []Status{StatusUnread, StatusRead, StatusAcknowledged, StatusResponded}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Context carries execution state propagated between agents.
type Context struct {
	TaskID            string         `json:"task_id,omitempty"`
	RelatedMessages   []string       `json:"related_messages"`
	ConversationState map[string]any `json:"conversation_state"`
	EnvironmentState  map[string]any `json:"environment_state"`
}

// Metadata classifies a message.
type Metadata struct {
	Type          string         `json:"type"`
	Category      string         `json:"category"`
	Tags          []string       `json:"tags"`
	SourceContext map[string]any `json:"source_context"`
	Importance    string         `json:"importance"`
}

// StatusEntry is one append-only record of a status transition.
type StatusEntry struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Details   string    `json:"details"`
}

// Message is a single persisted agent-to-agent message. Content never changes after
// send; only the status fields move.
type Message struct {
	ID               string        `json:"id"`
	ThreadID         string        `json:"thread_id"`
	FromAgent        string        `json:"from_agent"`
	ToAgent          string        `json:"to_agent"`
	Content          string        `json:"content"`
	Priority         task.Priority `json:"priority"`
	Status           Status        `json:"status"`
	Context          Context       `json:"context"`
	Metadata         Metadata      `json:"metadata"`
	ActionRequired   bool          `json:"action_required"`
	ExpectedResponse string        `json:"expected_response,omitempty"`
	Deadline         *time.Time    `json:"deadline,omitempty"`
	ReadAt           *time.Time    `json:"read_timestamp"`
	RespondedAt      *time.Time    `json:"response_timestamp"`
	StatusHistory    []StatusEntry `json:"status_history"`
	Timestamp        time.Time     `json:"timestamp"`
}

// ThreadContext aggregates a thread. Participants only grow; MessageCount only
// increases.
type ThreadContext struct {
	ThreadID     string    `json:"thread_id"`
	Participants []string  `json:"participants"`
	MessageCount int       `json:"message_count"`
	Status       string    `json:"status"`
	Summary      string    `json:"summary"`
	CreatedAt    time.Time `json:"created_at"`
	LastUpdated  time.Time `json:"last_updated"`
}

// ThreadView is a thread context together with its messages in send order. Context is
// nil when the thread does not exist.
type ThreadView struct {
	ThreadID     string         `json:"thread_id"`
	Context      *ThreadContext `json:"context"`
	Messages     []*Message     `json:"messages"`
	MessageCount int            `json:"message_count"`
}

// AgentContext is the read-only projection returned by Service.Context.
type AgentContext struct {
	AgentID        string           `json:"agent_id"`
	ActiveThreads  []*ThreadContext `json:"active_threads"`
	RecentMessages []*Message       `json:"recent_messages"`
	ThreadCount    int              `json:"thread_count"`
	UnreadCount    int              `json:"unread_count"`
}

// SendRequest is the input for Send. Zero values take defaults.
type SendRequest struct {
	ThreadID         string        `json:"thread_id,omitempty"`
	FromAgent        string        `json:"from_agent"`
	ToAgent          string        `json:"to_agent"`
	Content          string        `json:"content"`
	Priority         task.Priority `json:"priority,omitempty"`
	Context          Context       `json:"context"`
	Metadata         Metadata      `json:"metadata"`
	ActionRequired   bool          `json:"action_required,omitempty"`
	ExpectedResponse string        `json:"expected_response,omitempty"`
	Deadline         *time.Time    `json:"deadline,omitempty"`
}

// UnmarshalJSON accepts deadlines in RFC 3339, naive ISO 8601 or date-only form.
func (r *SendRequest) UnmarshalJSON(data []byte) error {
	type alias SendRequest
	aux := struct {
		*alias
		Deadline string `json:"deadline"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Deadline == "" {
		r.Deadline = nil
		return nil
	}
	t, err := store.ParseInputTime(aux.Deadline)
	if err != nil {
		return fmt.Errorf("%w: deadline: %v", ErrInvalid, err)
	}
	r.Deadline = &t
	return nil
}

// BroadcastRequest sends the same content to several agents in one shared thread.
type BroadcastRequest struct {
	SendRequest
	Recipients []string `json:"recipients"`
}

// UnmarshalJSON decodes the embedded request with its deadline handling.
func (b *BroadcastRequest) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &b.SendRequest); err != nil {
		return err
	}
	var aux struct {
		Recipients []string `json:"recipients"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	b.Recipients = aux.Recipients
	return nil
}

// Handler processes a message delivered on the bus.
type Handler func(ctx context.Context, msg *Message) error
