package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/agency/agent"
	"github.com/GoCodeAlone/agency/comms"
	"github.com/GoCodeAlone/agency/internal/version"
	"github.com/GoCodeAlone/agency/orchestrator"
	"github.com/GoCodeAlone/agency/task"
	"github.com/GoCodeAlone/agency/update"
)

// --- login ---

func newLoginCmd(c *Client) *cobra.Command {
	var user, pass string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Exchange admin credentials for a token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp struct {
				Token     string    `json:"token"`
				ExpiresAt time.Time `json:"expires_at"`
			}
			body := map[string]string{"username": user, "password": pass}
			if err := c.post(cmd.Context(), "/api/auth/login", body, &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			success(out, "logged in as %s (expires %s)", user, resp.ExpiresAt.Local().Format(time.RFC1123))
			fmt.Fprintf(out, "export AGENCY_TOKEN=%s\n", resp.Token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "admin", "username")
	cmd.Flags().StringVarP(&pass, "password", "p", "", "password")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

// --- status ---

func newStatusCmd(c *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var result struct {
				Status        string `json:"status"`
				Version       string `json:"version"`
				UptimeSeconds int64  `json:"uptime_seconds"`
				Agents        int    `json:"agents"`
			}
			if err := c.get(cmd.Context(), "/api/status", &result); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "status:  %s\n", green.Sprint(result.Status))
			fmt.Fprintf(out, "version: %s\n", result.Version)
			fmt.Fprintf(out, "uptime:  %s\n", time.Duration(result.UptimeSeconds)*time.Second)
			fmt.Fprintf(out, "agents:  %d\n", result.Agents)
			return nil
		},
	}
}

// --- agents ---

func newAgentsCmd(c *Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var agents []agent.Info
			if err := c.get(cmd.Context(), "/api/agents", &agents); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(agents) == 0 {
				fmt.Fprintln(out, "no agents")
				return nil
			}
			bold.Fprintf(out, "%-20s %-12s %-10s %-6s %s\n", "ID", "STATUS", "TEAM", "LEAD", "DONE/FAILED")
			for _, a := range agents {
				fmt.Fprintf(out, "%-20s %s %-10s %-6t %d/%d\n",
					a.ID, agentStatusColor(a.Status).Sprint(pad(string(a.Status), 12)),
					a.TeamID, a.IsLead, a.TasksCompleted, a.TasksFailed)
			}
			return nil
		},
	}
	for action, done := range map[string]string{"start": "started", "stop": "stopped"} {
		cmd.AddCommand(&cobra.Command{
			Use:   action + " <id>",
			Short: strings.ToUpper(action[:1]) + action[1:] + " an agent",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id := args[0]
				if err := c.post(cmd.Context(), "/api/agents/"+url.PathEscape(id)+"/"+action, nil, nil); err != nil {
					return err
				}
				success(cmd.OutOrStdout(), "agent %s %s", id, done)
				return nil
			},
		})
	}
	return cmd
}

// --- tasks ---

func newTasksCmd(c *Client) *cobra.Command {
	var status, agentID string
	var limit int
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List and manage tasks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if status != "" {
				q.Set("status", status)
			}
			if agentID != "" {
				q.Set("agent_id", agentID)
			}
			if limit > 0 {
				q.Set("limit", fmt.Sprint(limit))
			}
			path := "/api/tasks"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			var tasks []task.Task
			if err := c.get(cmd.Context(), path, &tasks); err != nil {
				return err
			}
			printTasks(cmd, tasks)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&agentID, "agent", "", "filter by assigned agent")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of tasks")

	cmd.AddCommand(newTaskCreateCmd(c), newTaskGetCmd(c), newTaskUpdateCmd(c))
	return cmd
}

func printTasks(cmd *cobra.Command, tasks []task.Task) {
	out := cmd.OutOrStdout()
	if len(tasks) == 0 {
		fmt.Fprintln(out, "no tasks")
		return
	}
	bold.Fprintf(out, "%-40s %-12s %-4s %s\n", "ID", "STATUS", "PRI", "DESCRIPTION")
	for _, t := range tasks {
		fmt.Fprintf(out, "%-40s %s %-4d %s\n",
			t.ID, taskStatusColor(t.Status).Sprint(pad(string(t.Status), 12)), t.Priority, truncate(t.Description, 50))
	}
}

func newTaskCreateCmd(c *Client) *cobra.Command {
	var in task.NewTask
	var priority int
	var deadline string
	cmd := &cobra.Command{
		Use:   "create <description>",
		Short: "Create a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Description = strings.Join(args, " ")
			in.Priority = task.Priority(priority)
			if deadline != "" {
				d, err := time.Parse(time.RFC3339, deadline)
				if err != nil {
					return fmt.Errorf("deadline: %w", err)
				}
				in.Deadline = &d
			}
			var created task.Task
			if err := c.post(cmd.Context(), "/api/tasks", in, &created); err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "created task %s", created.ID)
			return nil
		},
	}
	cmd.Flags().IntVar(&priority, "priority", 0, "priority 1 (urgent) to 5; default 3")
	cmd.Flags().StringVar(&in.Type, "type", "", "task type")
	cmd.Flags().StringSliceVar(&in.Tags, "tag", nil, "tag (repeatable)")
	cmd.Flags().StringSliceVar(&in.Dependencies, "depends-on", nil, "dependency task id (repeatable)")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline in RFC 3339")
	return cmd
}

func newTaskGetCmd(c *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one task with its status history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var t task.Task
			if err := c.get(cmd.Context(), "/api/tasks/"+url.PathEscape(args[0]), &t); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			bold.Fprintln(out, t.ID)
			fmt.Fprintf(out, "description: %s\n", t.Description)
			fmt.Fprintf(out, "status:      %s\n", taskStatusColor(t.Status).Sprint(t.Status))
			fmt.Fprintf(out, "priority:    %d\n", t.Priority)
			if t.Deadline != nil {
				fmt.Fprintf(out, "deadline:    %s\n", t.Deadline.Format(time.RFC3339))
			}
			if len(t.Metadata.Dependencies) > 0 {
				fmt.Fprintf(out, "depends on:  %s\n", strings.Join(t.Metadata.Dependencies, ", "))
			}
			fmt.Fprintln(out, "history:")
			for _, h := range t.StatusHistory {
				fmt.Fprintf(out, "  %s  %-12s %s\n", h.Timestamp.Format(time.DateTime), h.Status, h.Message)
			}
			return nil
		},
	}
}

func newTaskUpdateCmd(c *Client) *cobra.Command {
	var status, message, description string
	var priority int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a task's status, priority or description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := map[string]any{}
			if status != "" {
				patch["status"] = status
			}
			if message != "" {
				patch["status_message"] = message
			}
			if description != "" {
				patch["description"] = description
			}
			if priority != 0 {
				patch["priority"] = priority
			}
			if len(patch) == 0 {
				return errors.New("nothing to update")
			}
			var t task.Task
			if err := c.patch(cmd.Context(), "/api/tasks/"+url.PathEscape(args[0]), patch, &t); err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "task %s is %s", t.ID, t.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().StringVar(&message, "message", "", "status history message")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().IntVar(&priority, "priority", 0, "new priority 1-5")
	return cmd
}

// --- messaging ---

func newSendCmd(c *Client) *cobra.Command {
	var req comms.SendRequest
	var priority int
	cmd := &cobra.Command{
		Use:   "send <to-agent> <message>",
		Short: "Send a message to an agent",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.ToAgent = args[0]
			req.Content = strings.Join(args[1:], " ")
			req.Priority = task.Priority(priority)
			var msg comms.Message
			if err := c.post(cmd.Context(), "/api/messages", req, &msg); err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "sent message %s in thread %s", msg.ID, msg.ThreadID)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.ThreadID, "thread", "", "reply within an existing thread")
	cmd.Flags().StringVar(&req.Context.TaskID, "task", "", "related task id")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority 1 (urgent) to 5")
	cmd.Flags().BoolVar(&req.ActionRequired, "action-required", false, "recipient must act")
	return cmd
}

func newChatCmd(c *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <text>",
		Short: "Send a request to the orchestrator",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var reply orchestrator.Reply
			req := orchestrator.Request{Text: strings.Join(args, " ")}
			if err := c.post(cmd.Context(), "/api/chat", req, &reply); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			cyan.Fprintf(out, "[%s] ", reply.Action)
			fmt.Fprintln(out, reply.Text)
			for _, t := range reply.Tasks {
				fmt.Fprintf(out, "  task %s (%s)\n", t.ID, t.Status)
			}
			return nil
		},
	}
}

func newUpdatesCmd(c *Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "updates",
		Short: "Inspect and flush the update batch",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "flush",
		Short: "Send the pending batch now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp struct {
				Digest  string `json:"digest"`
				Flushed bool   `json:"flushed"`
			}
			if err := c.post(cmd.Context(), "/api/updates/flush", nil, &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !resp.Flushed {
				yellow.Fprintln(out, resp.Digest)
				return nil
			}
			fmt.Fprintln(out, resp.Digest)
			return nil
		},
	})
	return cmd
}

// --- upgrade ---

func newUpgradeCmd() *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Replace this binary with the latest release",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()
			u := update.New(version.Version)
			rel, err := u.CheckForUpdate(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if rel == nil {
				success(out, "agency %s is up to date", version.Version)
				return nil
			}
			if check {
				yellow.Fprintf(out, "agency %s is available (running %s)\n", rel.Version, version.Version)
				return nil
			}
			if err := u.ApplyUpdate(ctx, rel); err != nil {
				return err
			}
			success(out, "upgraded to %s", rel.Version)
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "only report whether an update exists")
	return cmd
}
