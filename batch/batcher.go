package batch

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/GoCodeAlone/agency/store"
	"github.com/GoCodeAlone/agency/task"
)

// Batch is the current, not yet flushed set of updates.
type Batch struct {
	Updates     []Update  `json:"updates"`
	LastSend    time.Time `json:"last_send"`
	BatchNumber int       `json:"batch_number"`
}

// Batcher queues updates in the store and flushes them according to its Policy.
type Batcher struct {
	db        *store.DB
	logger    *slog.Logger
	policy    Policy
	notifiers []Notifier
	now       func() time.Time

	mu sync.Mutex // serializes read-evaluate-flush sequences
}

// Option configures a Batcher.
type Option func(*Batcher)

// WithPolicy replaces the default policy.
func WithPolicy(p Policy) Option {
	return func(b *Batcher) { b.policy = p }
}

// WithNotifier adds a receiver for flushed batches.
func WithNotifier(n Notifier) Option {
	return func(b *Batcher) { b.notifiers = append(b.notifiers, n) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Batcher) { b.now = now }
}

// New returns a Batcher over db.
func New(db *store.DB, logger *slog.Logger, opts ...Option) *Batcher {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Batcher{db: db, logger: logger, policy: DefaultPolicy(), now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Policy returns the batcher's default policy.
func (b *Batcher) Policy() Policy { return b.policy }

// Add queues an update and flushes the batch when the policy (or the per-call
// override) says so. Conditions are checked in order: size, priority, timeout.
func (b *Batcher) Add(ctx context.Context, in NewUpdate, override *Policy) (*AddResult, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, fmt.Errorf("%w: content is required", ErrInvalid)
	}
	priority := in.Priority
	if priority == 0 {
		priority = task.PriorityNormal
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: priority %d out of range 1-5", ErrInvalid, priority)
	}
	policy := b.policy
	if override != nil {
		policy = *override
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	u := Update{
		ID:        store.NewID("upd", now),
		Content:   in.Content,
		Priority:  priority,
		Category:  in.Category,
		Metadata:  in.Metadata,
		Timestamp: now,
	}
	if u.Category == "" {
		u.Category = "General"
	}
	if u.Metadata == nil {
		u.Metadata = map[string]any{}
	}

	res := &AddResult{Update: u, Message: fmt.Sprintf("Update added to batch (ID: %s)", u.ID)}
	var archived *ArchivedBatch
	err := b.db.Tx(ctx, func(tx *sql.Tx) error {
		st, err := loadState(ctx, tx, now)
		if err != nil {
			return err
		}
		if err := insertUpdate(ctx, tx, u); err != nil {
			return err
		}
		queued, err := listUpdates(ctx, tx)
		if err != nil {
			return err
		}
		reason, ok := evaluate(policy, queued, st.lastSend, now)
		if !ok {
			return nil
		}
		archived, err = b.flushTx(ctx, tx, st, queued, reason, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	if archived != nil {
		res.Flushed = true
		res.Reason = archived.Reason
		res.Digest = FormatDigest(archived.Updates)
		res.Message = res.Digest
		b.notify(ctx, *archived, res.Digest)
	}
	return res, nil
}

// evaluate applies the flush conditions in order; the first that holds wins.
func evaluate(p Policy, queued []Update, lastSend, now time.Time) (FlushReason, bool) {
	if len(queued) == 0 {
		return "", false
	}
	if p.MaxBatchSize > 0 && len(queued) >= p.MaxBatchSize {
		return ReasonSize, true
	}
	for _, u := range queued {
		if u.Priority <= p.FlushPriority {
			return ReasonPriority, true
		}
	}
	if now.Sub(lastSend) > p.Timeout {
		return ReasonTimeout, true
	}
	return "", false
}

// Flush sends whatever is queued regardless of policy.
func (b *Batcher) Flush(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	var archived *ArchivedBatch
	err := b.db.Tx(ctx, func(tx *sql.Tx) error {
		st, err := loadState(ctx, tx, now)
		if err != nil {
			return err
		}
		queued, err := listUpdates(ctx, tx)
		if err != nil || len(queued) == 0 {
			return err
		}
		archived, err = b.flushTx(ctx, tx, st, queued, ReasonForced, now)
		return err
	})
	if err != nil {
		return "", err
	}
	if archived == nil {
		return NothingSent, nil
	}
	digest := FormatDigest(archived.Updates)
	b.notify(ctx, *archived, digest)
	return digest, nil
}

// flushTx archives queued under the next batch number, empties the current batch
// and records now as the last send.
func (b *Batcher) flushTx(ctx context.Context, tx *sql.Tx, st state, queued []Update, reason FlushReason, now time.Time) (*ArchivedBatch, error) {
	archived := ArchivedBatch{
		BatchNumber: st.batchNumber + 1,
		Updates:     queued,
		LastSend:    st.lastSend,
		SentAt:      now,
		Reason:      reason,
	}
	if err := insertArchive(ctx, tx, archived); err != nil {
		return nil, err
	}
	if err := deleteUpdates(ctx, tx); err != nil {
		return nil, err
	}
	if err := saveState(ctx, tx, state{lastSend: now, batchNumber: archived.BatchNumber}); err != nil {
		return nil, err
	}
	return &archived, nil
}

// Pending formats the current batch without sending it.
func (b *Batcher) Pending(ctx context.Context) (string, error) {
	queued, err := listUpdates(ctx, b.db.SQL())
	if err != nil {
		return "", err
	}
	return FormatDigest(queued), nil
}

// Current returns the queued updates with the batch counters.
func (b *Batcher) Current(ctx context.Context) (*Batch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var cur Batch
	err := b.db.Tx(ctx, func(tx *sql.Tx) error {
		st, err := loadState(ctx, tx, b.now())
		if err != nil {
			return err
		}
		cur.LastSend, cur.BatchNumber = st.lastSend, st.batchNumber
		cur.Updates, err = listUpdates(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &cur, nil
}

// Clear discards queued updates without archiving them. The batch number is kept and
// the last send time restarts from now.
func (b *Batcher) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	err := b.db.Tx(ctx, func(tx *sql.Tx) error {
		st, err := loadState(ctx, tx, now)
		if err != nil {
			return err
		}
		if err := deleteUpdates(ctx, tx); err != nil {
			return err
		}
		st.lastSend = now
		return saveState(ctx, tx, st)
	})
	if err != nil {
		return err
	}
	b.logger.Info("update batch cleared")
	return nil
}

// History returns up to limit archived batches, newest first.
func (b *Batcher) History(ctx context.Context, limit int) ([]ArchivedBatch, error) {
	return listArchives(ctx, b.db.SQL(), limit)
}

func (b *Batcher) notify(ctx context.Context, archived ArchivedBatch, digest string) {
	b.logger.Info("update batch flushed",
		slog.Int("batch_number", archived.BatchNumber),
		slog.String("reason", string(archived.Reason)),
		slog.Int("updates", len(archived.Updates)),
	)
	for _, n := range b.notifiers {
		n.BatchFlushed(ctx, archived, digest)
	}
}
