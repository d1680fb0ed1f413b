package tools

import (
	"context"
	"errors"
	"time"

	"github.com/GoCodeAlone/agency/batch"
	"github.com/GoCodeAlone/agency/provider"
	"github.com/GoCodeAlone/agency/task"
)

var updateBatcherOps = []string{"add_update", "get_batch", "clear_batch", "force_send"}

// UpdateBatcherTool queues user-facing updates and sends them as digests.
type UpdateBatcherTool struct {
	Batcher *batch.Batcher
	Observe Observer
}

type updateBatcherArgs struct {
	Operation     string           `json:"operation"`
	UpdateData    *batch.NewUpdate `json:"update_data"`
	BatchSettings *batchSettings   `json:"batch_settings"`
}

// batchSettings overrides the batcher policy for one call. The timeout is in seconds.
type batchSettings struct {
	MaxBatchSize *int           `json:"max_batch_size"`
	BatchTimeout *float64       `json:"batch_timeout"`
	MinPriority  *task.Priority `json:"min_priority"`
}

func (s *batchSettings) policy(base batch.Policy) *batch.Policy {
	if s == nil {
		return nil
	}
	p := base
	if s.MaxBatchSize != nil {
		p.MaxBatchSize = *s.MaxBatchSize
	}
	if s.BatchTimeout != nil {
		p.Timeout = time.Duration(*s.BatchTimeout * float64(time.Second))
	}
	if s.MinPriority != nil {
		p.FlushPriority = *s.MinPriority
	}
	return &p
}

func (t *UpdateBatcherTool) Name() string { return "update_batcher" }
func (t *UpdateBatcherTool) Description() string {
	return "Batch user-facing updates and send them together based on size, priority and time"
}
func (t *UpdateBatcherTool) Definition() provider.ToolDef {
	return provider.ToolDef{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: schema(updateBatcherOps, map[string]any{
			"update_data":    prop("object", "Update fields: content, priority (1 most urgent to 5), category, metadata"),
			"batch_settings": prop("object", "Policy overrides: max_batch_size, batch_timeout (seconds), min_priority"),
		}),
	}
}

func (t *UpdateBatcherTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	var a updateBatcherArgs
	if err := decode(args, &a); err != nil {
		return observe(t.Observe, t.Name(), operationOf(args), fail("invalid arguments: %v", err)), nil
	}
	return observe(t.Observe, t.Name(), a.Operation, t.run(ctx, a)), nil
}

func (t *UpdateBatcherTool) run(ctx context.Context, a updateBatcherArgs) Result {
	switch a.Operation {
	case "add_update":
		if a.UpdateData == nil {
			return fail("update_data is required for adding an update")
		}
		res, err := t.Batcher.Add(ctx, *a.UpdateData, a.BatchSettings.policy(t.Batcher.Policy()))
		if err != nil {
			return batchFailure(a.Operation, err)
		}
		return ok(res.Message, res)

	case "get_batch":
		digest, err := t.Batcher.Pending(ctx)
		if err != nil {
			return batchFailure(a.Operation, err)
		}
		return ok(digest, nil)

	case "clear_batch":
		if err := t.Batcher.Clear(ctx); err != nil {
			return batchFailure(a.Operation, err)
		}
		return ok("Current batch cleared", nil)

	case "force_send":
		digest, err := t.Batcher.Flush(ctx)
		if err != nil {
			return batchFailure(a.Operation, err)
		}
		return ok(digest, nil)
	}
	return invalidOperation(updateBatcherOps)
}

func batchFailure(op string, err error) Result {
	if errors.Is(err, batch.ErrInvalid) {
		return fail("%v", err)
	}
	return failDuring(op, err)
}
