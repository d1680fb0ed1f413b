// Package batch accumulates outbound update notifications and flushes them as a
// single digest when the batching policy says so.
package batch

import (
	"context"
	"errors"
	"time"

	"github.com/GoCodeAlone/agency/task"
)

// ErrInvalid is returned when an update is missing its content or is out of range.
var ErrInvalid = errors.New("invalid update input")

// Update is a queued notification.
type Update struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Priority  task.Priority  `json:"priority"`
	Category  string         `json:"category"`
	Metadata  map[string]any `json:"metadata"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewUpdate is the input for Add. Priority defaults to 3 and Category to "General".
type NewUpdate struct {
	Content  string         `json:"content"`
	Priority task.Priority  `json:"priority,omitempty"`
	Category string         `json:"category,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Policy decides when the current batch is flushed.
type Policy struct {
	// MaxBatchSize flushes once this many updates are queued.
	MaxBatchSize int
	// Timeout flushes once this much time has passed since the last send.
	Timeout time.Duration
	// FlushPriority flushes as soon as any queued update has a priority at or
	// below it (numerically), i.e. is at least this urgent.
	FlushPriority task.Priority
}

// DefaultPolicy returns the stock policy: 5 updates, 150 seconds, priority 3.
func DefaultPolicy() Policy {
	return Policy{MaxBatchSize: 5, Timeout: 150 * time.Second, FlushPriority: task.PriorityNormal}
}

// FlushReason records why a batch was flushed.
type FlushReason string

const (
	ReasonSize     FlushReason = "size"
	ReasonPriority FlushReason = "priority"
	ReasonTimeout  FlushReason = "timeout"
	ReasonForced   FlushReason = "forced"
)

// AddResult describes the outcome of Add. Message is the digest when the batch was
// flushed and an acknowledgement naming the update otherwise.
type AddResult struct {
	Update  Update      `json:"update"`
	Flushed bool        `json:"flushed"`
	Reason  FlushReason `json:"reason,omitempty"`
	Digest  string      `json:"digest,omitempty"`
	Message string      `json:"message"`
}

// ArchivedBatch is a flushed batch as stored in batch history.
type ArchivedBatch struct {
	BatchNumber int         `json:"batch_number"`
	Updates     []Update    `json:"updates"`
	LastSend    time.Time   `json:"last_send"`
	SentAt      time.Time   `json:"sent_at"`
	Reason      FlushReason `json:"reason"`
}

// Notifier receives every flushed batch after it has been archived.
type Notifier interface {
	BatchFlushed(ctx context.Context, b ArchivedBatch, digest string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, b ArchivedBatch, digest string)

// BatchFlushed calls f.
func (f NotifierFunc) BatchFlushed(ctx context.Context, b ArchivedBatch, digest string) {
	f(ctx, b, digest)
}
