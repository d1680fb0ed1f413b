package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/GoCodeAlone/agency/provider"
	"github.com/GoCodeAlone/agency/task"
)

var taskContextOps = []string{"create_task", "update_task", "assign_task", "get_agent_tasks", "add_dependency", "get_dependencies"}

// TaskContextTool creates, updates and assigns tasks and manages their dependencies.
type TaskContextTool struct {
	Tasks   *task.Manager
	Observe Observer
}

type taskContextArgs struct {
	Operation      string          `json:"operation"`
	TaskData       json.RawMessage `json:"task_data"`
	TaskID         string          `json:"task_id"`
	AgentID        string          `json:"agent_id"`
	DependencyData *struct {
		TaskID    string   `json:"task_id"`
		DependsOn []string `json:"depends_on"`
	} `json:"dependency_data"`
}

func (t *TaskContextTool) Name() string { return "task_context" }
func (t *TaskContextTool) Description() string {
	return "Manage task context: create and update tasks, assign them to agents, track dependencies"
}
func (t *TaskContextTool) Definition() provider.ToolDef {
	return provider.ToolDef{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: schema(taskContextOps, map[string]any{
			"task_data":       prop("object", "Task fields: description, status, priority (1 most urgent to 5), deadline, type, source, tags, dependencies, metadata, custom_data"),
			"task_id":         prop("string", "Task ID for specific task operations"),
			"agent_id":        prop("string", "Agent ID for assignment and agent task lookups"),
			"dependency_data": prop("object", "Dependencies to add: {task_id, depends_on: [task ids]}"),
		}),
	}
}

func (t *TaskContextTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	var a taskContextArgs
	if err := decode(args, &a); err != nil {
		return observe(t.Observe, t.Name(), operationOf(args), fail("invalid arguments: %v", err)), nil
	}
	return observe(t.Observe, t.Name(), a.Operation, t.run(ctx, a)), nil
}

func (t *TaskContextTool) run(ctx context.Context, a taskContextArgs) Result {
	switch a.Operation {
	case "create_task":
		if !present(a.TaskData) {
			return fail("task_data is required for creating a task")
		}
		var in task.NewTask
		if err := json.Unmarshal(a.TaskData, &in); err != nil {
			return fail("invalid task_data: %v", err)
		}
		created, err := t.Tasks.Create(ctx, in)
		if err != nil {
			return taskFailure(a.Operation, "", err)
		}
		return ok("Task created successfully with ID: "+created.ID, created)

	case "update_task":
		if a.TaskID == "" || !present(a.TaskData) {
			return fail("task_id and task_data are required for updating a task")
		}
		var p task.Patch
		if err := json.Unmarshal(a.TaskData, &p); err != nil {
			return fail("invalid task_data: %v", err)
		}
		updated, err := t.Tasks.Update(ctx, a.TaskID, p)
		if err != nil {
			return taskFailure(a.Operation, a.TaskID, err)
		}
		return ok(fmt.Sprintf("Task %s updated successfully", a.TaskID), updated)

	case "assign_task":
		if a.TaskID == "" || a.AgentID == "" {
			return fail("task_id and agent_id are required for task assignment")
		}
		assigned, err := t.Tasks.Assign(ctx, a.TaskID, a.AgentID)
		if err != nil {
			return taskFailure(a.Operation, a.TaskID, err)
		}
		if !assigned {
			return ok(fmt.Sprintf("Task %s is already assigned to agent %s", a.TaskID, a.AgentID), nil)
		}
		return ok(fmt.Sprintf("Task %s assigned to agent %s", a.TaskID, a.AgentID), nil)

	case "get_agent_tasks":
		if a.AgentID == "" {
			return fail("agent_id is required for getting agent tasks")
		}
		tasks, err := t.Tasks.AgentTasks(ctx, a.AgentID)
		if err != nil {
			return taskFailure(a.Operation, "", err)
		}
		return ok(fmt.Sprintf("%d tasks assigned to agent %s", len(tasks), a.AgentID), tasks)

	case "add_dependency":
		if a.DependencyData == nil {
			return fail("dependency_data is required for adding dependencies")
		}
		if a.DependencyData.TaskID == "" || len(a.DependencyData.DependsOn) == 0 {
			return fail("task_id and depends_on list are required")
		}
		if err := t.Tasks.AddDependency(ctx, a.DependencyData.TaskID, a.DependencyData.DependsOn); err != nil {
			return taskFailure(a.Operation, a.DependencyData.TaskID, err)
		}
		return ok("Dependencies added successfully for task "+a.DependencyData.TaskID, nil)

	case "get_dependencies":
		if a.TaskID == "" {
			return fail("task_id is required for getting dependencies")
		}
		deps, err := t.Tasks.Dependencies(ctx, a.TaskID)
		if err != nil {
			return taskFailure(a.Operation, a.TaskID, err)
		}
		return ok(fmt.Sprintf("Task %s has %d dependencies", a.TaskID, len(deps)), deps)
	}
	return invalidOperation(taskContextOps)
}

func taskFailure(op, id string, err error) Result {
	switch {
	case errors.Is(err, task.ErrNotFound):
		return fail("Task %s not found", id)
	case errors.Is(err, task.ErrInvalid):
		return fail("%v", err)
	}
	return failDuring(op, err)
}

func present(raw json.RawMessage) bool {
	s := string(raw)
	return s != "" && s != "null" && s != "{}"
}
