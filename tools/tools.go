// Package tools exposes the task, messaging, batching and analytics operations to
// agents as named-operation tools. Every operation answers with a Result; failures
// are reported in Result.Message rather than as Go errors so the model can read them.
package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/GoCodeAlone/agency/analytics"
	"github.com/GoCodeAlone/agency/batch"
	"github.com/GoCodeAlone/agency/comms"
	"github.com/GoCodeAlone/agency/plugin"
	"github.com/GoCodeAlone/agency/task"
)

// Result is the uniform answer of every tool operation.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func ok(msg string, data any) Result { return Result{Success: true, Message: msg, Data: data} }

func fail(format string, args ...any) Result {
	return Result{Message: "Error: " + fmt.Sprintf(format, args...)}
}

func failDuring(op string, err error) Result {
	return Result{Message: fmt.Sprintf("Error during %s operation: %v", op, err)}
}

func invalidOperation(ops []string) Result {
	quoted := make([]string, len(ops))
	for i, op := range ops {
		quoted[i] = "'" + op + "'"
	}
	return fail("Invalid operation. Must be one of [%s]", strings.Join(quoted, ", "))
}

// Observer is told the outcome of every executed operation.
type Observer func(tool, operation string, success bool)

func observe(o Observer, tool, op string, r Result) Result {
	if o != nil {
		o(tool, op, r.Success)
	}
	return r
}

// decode maps loosely typed tool arguments onto a typed struct by way of JSON, so the
// JSON tags and custom unmarshalers of the domain types apply.
func decode(args map[string]any, v any) error {
	b, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func operationOf(args map[string]any) string {
	op, _ := args["operation"].(string)
	return op
}

func schema(ops []string, props map[string]any, required ...string) map[string]any {
	all := map[string]any{
		"operation": map[string]any{"type": "string", "enum": ops, "description": "Operation to perform"},
	}
	for k, v := range props {
		all[k] = v
	}
	return map[string]any{
		"type":       "object",
		"properties": all,
		"required":   append([]string{"operation"}, required...),
	}
}

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}

// Deps are the components the tools operate on.
type Deps struct {
	Tasks      *task.Manager
	Comms      *comms.Service
	Batcher    *batch.Batcher
	Classifier *analytics.Classifier
	Analytics  *analytics.Tasks
	Observe    Observer
}

// All returns the five tools wired to deps.
func All(deps Deps) []plugin.Tool {
	classifier := deps.Classifier
	if classifier == nil {
		classifier = analytics.NewClassifier()
	}
	return []plugin.Tool{
		&TaskContextTool{Tasks: deps.Tasks, Observe: deps.Observe},
		&CommunicationTool{Comms: deps.Comms, Observe: deps.Observe},
		&UpdateBatcherTool{Batcher: deps.Batcher, Observe: deps.Observe},
		&MessageAnalyticsTool{Classifier: classifier, Observe: deps.Observe},
		&TaskAnalyticsTool{Analytics: deps.Analytics, Observe: deps.Observe},
	}
}
