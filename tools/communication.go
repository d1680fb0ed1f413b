package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/GoCodeAlone/agency/comms"
	"github.com/GoCodeAlone/agency/provider"
)

var communicationOps = []string{"send_message", "broadcast", "get_messages", "mark_read", "get_unread", "get_thread", "update_status", "get_context"}

// CommunicationTool sends and tracks messages between agents.
type CommunicationTool struct {
	Comms   *comms.Service
	Observe Observer
}

type communicationArgs struct {
	Operation   string          `json:"operation"`
	MessageData json.RawMessage `json:"message_data"`
	AgentID     string          `json:"agent_id"`
	MessageID   string          `json:"message_id"`
	ThreadID    string          `json:"thread_id"`
}

type statusChange struct {
	Status        comms.Status `json:"status"`
	StatusDetails string       `json:"status_details"`
}

func (t *CommunicationTool) Name() string { return "communication" }
func (t *CommunicationTool) Description() string {
	return "Send messages between agents, follow threads and track message status"
}
func (t *CommunicationTool) Definition() provider.ToolDef {
	return provider.ToolDef{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: schema(communicationOps, map[string]any{
			"message_data": prop("object", "Message fields: from_agent, to_agent, content, priority (1-5), thread_id, context, metadata, action_required, expected_response, deadline; recipients for broadcast; status and status_details for update_status"),
			"agent_id":     prop("string", "Agent ID for retrieving messages or context"),
			"message_id":   prop("string", "Message ID for operations on specific messages"),
			"thread_id":    prop("string", "Thread ID for thread-related operations"),
		}),
	}
}

func (t *CommunicationTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	var a communicationArgs
	if err := decode(args, &a); err != nil {
		return observe(t.Observe, t.Name(), operationOf(args), fail("invalid arguments: %v", err)), nil
	}
	return observe(t.Observe, t.Name(), a.Operation, t.run(ctx, a)), nil
}

func (t *CommunicationTool) run(ctx context.Context, a communicationArgs) Result {
	switch a.Operation {
	case "send_message":
		if !present(a.MessageData) {
			return fail("message_data is required for sending a message")
		}
		var req comms.SendRequest
		if err := json.Unmarshal(a.MessageData, &req); err != nil {
			return fail("invalid message_data: %v", err)
		}
		msg, err := t.Comms.Send(ctx, req)
		if err != nil {
			return commsFailure(a.Operation, "", err)
		}
		return ok("Message sent successfully", msg)

	case "broadcast":
		if !present(a.MessageData) {
			return fail("message_data is required for broadcasting a message")
		}
		var req comms.BroadcastRequest
		if err := json.Unmarshal(a.MessageData, &req); err != nil {
			return fail("invalid message_data: %v", err)
		}
		msgs, err := t.Comms.Broadcast(ctx, req)
		if err != nil {
			return commsFailure(a.Operation, "", err)
		}
		return ok(fmt.Sprintf("Broadcast sent to %d agents", len(msgs)), msgs)

	case "get_thread":
		if a.ThreadID == "" {
			return fail("thread_id is required for retrieving thread")
		}
		view, err := t.Comms.Thread(ctx, a.ThreadID)
		if err != nil {
			return commsFailure(a.Operation, "", err)
		}
		return ok(fmt.Sprintf("Thread %s has %d messages", a.ThreadID, view.MessageCount), view)

	case "update_status":
		var change statusChange
		if present(a.MessageData) {
			if err := json.Unmarshal(a.MessageData, &change); err != nil {
				return fail("invalid message_data: %v", err)
			}
		}
		if a.MessageID == "" || change.Status == "" {
			return fail("message_id and new status are required")
		}
		msg, err := t.Comms.UpdateStatus(ctx, a.MessageID, change.Status, change.StatusDetails)
		if err != nil {
			return commsFailure(a.Operation, a.MessageID, err)
		}
		return ok(fmt.Sprintf("Message %s status updated to %s", a.MessageID, change.Status), msg)

	case "mark_read":
		if a.MessageID == "" {
			return fail("message_id is required for marking a message as read")
		}
		msg, err := t.Comms.MarkRead(ctx, a.MessageID)
		if err != nil {
			return commsFailure(a.Operation, a.MessageID, err)
		}
		return ok(fmt.Sprintf("Message %s marked as read", a.MessageID), msg)

	case "get_context":
		if a.AgentID == "" {
			return fail("agent_id is required for getting context")
		}
		ac, err := t.Comms.Context(ctx, a.AgentID)
		if err != nil {
			return commsFailure(a.Operation, "", err)
		}
		return ok(fmt.Sprintf("Agent %s has %d threads and %d unread messages", a.AgentID, ac.ThreadCount, ac.UnreadCount), ac)

	case "get_messages", "get_unread":
		if a.AgentID == "" {
			return fail("agent_id is required for retrieving messages")
		}
		fetch := t.Comms.Messages
		if a.Operation == "get_unread" {
			fetch = t.Comms.Unread
		}
		msgs, err := fetch(ctx, a.AgentID)
		if err != nil {
			return commsFailure(a.Operation, "", err)
		}
		return ok(fmt.Sprintf("%d messages for agent %s", len(msgs), a.AgentID), msgs)
	}
	return invalidOperation(communicationOps)
}

func commsFailure(op, id string, err error) Result {
	switch {
	case errors.Is(err, comms.ErrNotFound):
		return fail("Message %s not found", id)
	case errors.Is(err, comms.ErrInvalid):
		return fail("%v", err)
	}
	return failDuring(op, err)
}
