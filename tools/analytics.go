package tools

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/GoCodeAlone/agency/analytics"
	"github.com/GoCodeAlone/agency/provider"
	"github.com/GoCodeAlone/agency/store"
)

var (
	messageAnalyticsOps = []string{"analyze_intent", "extract_entities", "analyze_sentiment"}
	taskAnalyticsOps    = []string{"task_metrics", "agent_performance", "workload_analysis", "completion_trends", "error_analysis"}
)

// MessageAnalyticsTool classifies free-form messages by keyword and pattern rules.
type MessageAnalyticsTool struct {
	Classifier *analytics.Classifier
	Observe    Observer
}

type messageAnalyticsArgs struct {
	Operation string `json:"operation"`
	Message   string `json:"message"`
}

func (t *MessageAnalyticsTool) Name() string { return "message_analytics" }
func (t *MessageAnalyticsTool) Description() string {
	return "Analyze a message for intent, entities (agents, task ids, dates, priorities, urls) and sentiment"
}
func (t *MessageAnalyticsTool) Definition() provider.ToolDef {
	return provider.ToolDef{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: schema(messageAnalyticsOps, map[string]any{
			"message": prop("string", "The message to analyze"),
		}, "message"),
	}
}

func (t *MessageAnalyticsTool) Execute(_ context.Context, args map[string]any) (any, error) {
	var a messageAnalyticsArgs
	if err := decode(args, &a); err != nil {
		return observe(t.Observe, t.Name(), operationOf(args), fail("invalid arguments: %v", err)), nil
	}
	return observe(t.Observe, t.Name(), a.Operation, t.run(a)), nil
}

func (t *MessageAnalyticsTool) run(a messageAnalyticsArgs) Result {
	if !slices.Contains(messageAnalyticsOps, a.Operation) {
		return invalidOperation(messageAnalyticsOps)
	}
	if strings.TrimSpace(a.Message) == "" {
		return fail("message is required for %s", a.Operation)
	}
	switch a.Operation {
	case "analyze_intent":
		intents := t.Classifier.AnalyzeIntent(a.Message)
		return ok(fmt.Sprintf("Detected %d intents", len(intents)), map[string]any{"intents": intents})
	case "extract_entities":
		return ok("Entities extracted", t.Classifier.ExtractEntities(a.Message))
	default:
		s := t.Classifier.AnalyzeSentiment(a.Message)
		return ok("Sentiment: "+s.Sentiment, s)
	}
}

// TaskAnalyticsTool reports aggregate metrics over stored tasks.
type TaskAnalyticsTool struct {
	Analytics *analytics.Tasks
	Observe   Observer
}

type taskAnalyticsArgs struct {
	Operation string `json:"operation"`
	Agent     string `json:"agent"`
	TimeRange *struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"time_range"`
}

func (a taskAnalyticsArgs) timeRange() (analytics.TimeRange, error) {
	var tr analytics.TimeRange
	if a.TimeRange == nil {
		return tr, nil
	}
	if a.TimeRange.Start != "" {
		start, err := store.ParseInputTime(a.TimeRange.Start)
		if err != nil {
			return tr, err
		}
		tr.Start = &start
	}
	if a.TimeRange.End != "" {
		end, err := store.ParseInputTime(a.TimeRange.End)
		if err != nil {
			return tr, err
		}
		tr.End = &end
	}
	return tr, nil
}

func (t *TaskAnalyticsTool) Name() string { return "task_analytics" }
func (t *TaskAnalyticsTool) Description() string {
	return "Report task metrics, agent performance, workload, completion trends and error patterns"
}
func (t *TaskAnalyticsTool) Definition() provider.ToolDef {
	return provider.ToolDef{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: schema(taskAnalyticsOps, map[string]any{
			"agent":      prop("string", "Agent name for agent-specific analytics"),
			"time_range": prop("object", "Time range for analysis: {start: ISO datetime, end: ISO datetime}"),
		}),
	}
}

func (t *TaskAnalyticsTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	var a taskAnalyticsArgs
	if err := decode(args, &a); err != nil {
		return observe(t.Observe, t.Name(), operationOf(args), fail("invalid arguments: %v", err)), nil
	}
	return observe(t.Observe, t.Name(), a.Operation, t.run(ctx, a)), nil
}

func (t *TaskAnalyticsTool) run(ctx context.Context, a taskAnalyticsArgs) Result {
	if !slices.Contains(taskAnalyticsOps, a.Operation) {
		return invalidOperation(taskAnalyticsOps)
	}
	tr, err := a.timeRange()
	if err != nil {
		return fail("invalid time_range: %v", err)
	}

	var data any
	switch a.Operation {
	case "task_metrics":
		data, err = t.Analytics.TaskMetrics(ctx, tr)
	case "agent_performance":
		if a.Agent == "" {
			return fail("Agent name required for performance analysis")
		}
		perf, perr := t.Analytics.AgentPerformance(ctx, a.Agent)
		if perr != nil {
			return analyticsFailure(a.Operation, perr)
		}
		if perf.TotalTasks == 0 {
			return ok("No tasks found for agent", perf)
		}
		data = perf
	case "workload_analysis":
		data, err = t.Analytics.Workload(ctx, tr)
	case "completion_trends":
		data, err = t.Analytics.CompletionTrends(ctx, tr)
	case "error_analysis":
		data, err = t.Analytics.ErrorAnalysis(ctx, tr)
	}
	if err != nil {
		return analyticsFailure(a.Operation, err)
	}
	return ok(strings.ReplaceAll(a.Operation, "_", " ")+" report", data)
}

func analyticsFailure(op string, err error) Result {
	if errors.Is(err, analytics.ErrInvalid) {
		return fail("%v", err)
	}
	return failDuring(op, err)
}
