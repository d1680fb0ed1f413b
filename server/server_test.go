package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/GoCodeAlone/agency/batch"
	"github.com/GoCodeAlone/agency/comms"
	"github.com/GoCodeAlone/agency/orchestrator"
	"github.com/GoCodeAlone/agency/task"
	"github.com/GoCodeAlone/agency/tools"
)

func TestTaskRoutes(t *testing.T) {
	f := newFixture(t, testConfig(t))

	rec := f.do(t, f.token, http.MethodPost, "/api/tasks", map[string]any{
		"description": "book flights",
		"priority":    2,
		"deadline":    "2026-12-01",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body)
	}
	var created task.Task
	decodeBody(t, rec, &created)
	if created.Metadata.Source != "admin" {
		t.Errorf("source = %q, want admin", created.Metadata.Source)
	}

	rec = f.do(t, f.token, http.MethodPatch, "/api/tasks/"+created.ID, map[string]any{"status": "completed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d, body %s", rec.Code, rec.Body)
	}
	var updated task.Task
	decodeBody(t, rec, &updated)
	if updated.Status != task.StatusCompleted {
		t.Errorf("status = %q, want completed", updated.Status)
	}

	rec = f.do(t, f.token, http.MethodGet, "/api/tasks/"+created.ID+"/history", nil)
	var history []task.FieldChange
	decodeBody(t, rec, &history)
	if len(history) != 1 || history[0].Field != "status" || history[0].ChangedBy != "admin" {
		t.Errorf("history = %+v", history)
	}

	rec = f.do(t, f.token, http.MethodPost, "/api/tasks/"+created.ID+"/assign", map[string]string{"agent_id": "Travel"})
	var assigned map[string]any
	decodeBody(t, rec, &assigned)
	if assigned["assigned"] != true {
		t.Errorf("assign = %v", assigned)
	}

	rec = f.do(t, f.token, http.MethodPost, "/api/tasks/"+created.ID+"/dependencies", map[string]any{"depends_on": []string{"task_a", "task_b", "task_a"}})
	var deps struct {
		Dependencies []string `json:"dependencies"`
	}
	decodeBody(t, rec, &deps)
	if strings.Join(deps.Dependencies, ",") != "task_a,task_b" {
		t.Errorf("dependencies = %v", deps.Dependencies)
	}

	rec = f.do(t, f.token, http.MethodGet, "/api/agents/Travel/tasks", nil)
	var agentTasks []task.Task
	decodeBody(t, rec, &agentTasks)
	if len(agentTasks) != 1 || agentTasks[0].ID != created.ID {
		t.Errorf("agent tasks = %+v", agentTasks)
	}
}

func TestTaskRoutes_Errors(t *testing.T) {
	f := newFixture(t, testConfig(t))
	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown task", http.MethodGet, "/api/tasks/task_20260101_000000", nil, http.StatusNotFound},
		{"empty description", http.MethodPost, "/api/tasks", map[string]any{"description": " "}, http.StatusBadRequest},
		{"bad priority", http.MethodPost, "/api/tasks", map[string]any{"description": "x", "priority": 7}, http.StatusBadRequest},
		{"bad status filter", http.MethodGet, "/api/tasks?status=sleeping", nil, http.StatusBadRequest},
		{"patch unknown", http.MethodPatch, "/api/tasks/nope", map[string]any{"description": "y"}, http.StatusNotFound},
		{"bad time range", http.MethodGet, "/api/analytics/metrics?start=yesterday", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := f.do(t, f.token, tt.method, tt.path, tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestAssignThroughTeam(t *testing.T) {
	f := newFixture(t, testConfig(t))
	created, err := f.tasks.Create(t.Context(), task.NewTask{Description: "research hotels"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	rec := f.do(t, f.token, http.MethodPost, "/api/tasks/"+created.ID+"/assign", map[string]string{})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp map[string]any
	decodeBody(t, rec, &resp)
	if resp["agent_id"] != "Research" {
		t.Errorf("agent_id = %v, want Research", resp["agent_id"])
	}
	if rec := f.do(t, f.token, http.MethodPost, "/api/tasks/"+created.ID+"/assign", map[string]string{"team_id": "nope"}); rec.Code != http.StatusNotFound {
		t.Errorf("unknown team status = %d, want 404", rec.Code)
	}
}

func TestMessageRoutes(t *testing.T) {
	f := newFixture(t, testConfig(t))

	rec := f.do(t, f.token, http.MethodPost, "/api/messages", map[string]any{
		"from_agent": "TaskOrchestrator",
		"to_agent":   "Travel",
		"content":    "Find flights to Lisbon",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("send status = %d, body %s", rec.Code, rec.Body)
	}
	var msg comms.Message
	decodeBody(t, rec, &msg)

	rec = f.do(t, f.token, http.MethodGet, "/api/agents/Travel/unread", nil)
	var unread []comms.Message
	decodeBody(t, rec, &unread)
	if len(unread) != 1 {
		t.Fatalf("unread = %d, want 1", len(unread))
	}

	if rec := f.do(t, f.token, http.MethodPost, "/api/messages/"+msg.ID+"/read", nil); rec.Code != http.StatusOK {
		t.Fatalf("read status = %d", rec.Code)
	}
	rec = f.do(t, f.token, http.MethodGet, "/api/agents/Travel/unread", nil)
	decodeBody(t, rec, &unread)
	if len(unread) != 0 {
		t.Errorf("unread after read = %d, want 0", len(unread))
	}

	rec = f.do(t, f.token, http.MethodGet, "/api/threads/"+msg.ThreadID, nil)
	var view comms.ThreadView
	decodeBody(t, rec, &view)
	if view.MessageCount != 1 || view.Context == nil {
		t.Errorf("thread = %+v", view)
	}
	if rec := f.do(t, f.token, http.MethodGet, "/api/threads/thread_missing", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing thread status = %d, want 404", rec.Code)
	}
	if rec := f.do(t, f.token, http.MethodPost, "/api/messages/msg_missing/status", map[string]string{"status": "read"}); rec.Code != http.StatusNotFound {
		t.Errorf("missing message status = %d, want 404", rec.Code)
	}

	rec = f.do(t, f.token, http.MethodPost, "/api/messages/broadcast", map[string]any{
		"from_agent": "TaskOrchestrator",
		"recipients": []string{"Travel", "Research"},
		"content":    "Standup in five",
	})
	var copies []comms.Message
	decodeBody(t, rec, &copies)
	if len(copies) != 2 || copies[0].ThreadID != copies[1].ThreadID {
		t.Errorf("broadcast = %+v", copies)
	}
}

func TestUpdateRoutes(t *testing.T) {
	f := newFixture(t, testConfig(t))

	rec := f.do(t, f.token, http.MethodPost, "/api/updates", map[string]any{"content": "Low priority note", "priority": 4, "category": "Notes"})
	var res batch.AddResult
	decodeBody(t, rec, &res)
	if res.Flushed {
		t.Fatalf("priority 4 update flushed: %+v", res)
	}

	rec = f.do(t, f.token, http.MethodGet, "/api/updates/batch", nil)
	var cur batch.Batch
	decodeBody(t, rec, &cur)
	if len(cur.Updates) != 1 {
		t.Errorf("current = %+v", cur)
	}

	rec = f.do(t, f.token, http.MethodPost, "/api/updates/flush", nil)
	var flushed map[string]any
	decodeBody(t, rec, &flushed)
	if flushed["flushed"] != true || !strings.Contains(flushed["digest"].(string), "Low priority note") {
		t.Errorf("flush = %v", flushed)
	}
	rec = f.do(t, f.token, http.MethodPost, "/api/updates/flush", nil)
	decodeBody(t, rec, &flushed)
	if flushed["flushed"] != false {
		t.Errorf("second flush = %v", flushed)
	}

	rec = f.do(t, f.token, http.MethodGet, "/api/updates/history", nil)
	var history []batch.ArchivedBatch
	decodeBody(t, rec, &history)
	if len(history) != 1 || history[0].Reason != batch.ReasonForced {
		t.Errorf("history = %+v", history)
	}

	if rec := f.do(t, f.token, http.MethodDelete, "/api/updates/batch", nil); rec.Code != http.StatusNoContent {
		t.Errorf("clear status = %d, want 204", rec.Code)
	}
	if rec := f.do(t, f.token, http.MethodPost, "/api/updates", map[string]any{"content": ""}); rec.Code != http.StatusBadRequest {
		t.Errorf("empty update status = %d, want 400", rec.Code)
	}
}

func TestEventsStreamBatchFlush(t *testing.T) {
	f := newFixture(t, testConfig(t))
	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	if resp, err := http.Get(ts.URL + "/events"); err == nil {
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("unauthenticated events status = %d, want 401", resp.StatusCode)
		}
		resp.Body.Close()
	}

	req, _ := http.NewRequestWithContext(t.Context(), http.MethodGet, ts.URL+"/events?token="+f.token, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect events: %v", err)
	}
	defer resp.Body.Close()
	lines := bufio.NewScanner(resp.Body)
	if !lines.Scan() || !strings.Contains(lines.Text(), "connected") {
		t.Fatalf("first line = %q", lines.Text())
	}

	body, _ := json.Marshal(map[string]any{"content": "Server restarted", "priority": 1, "category": "Ops"})
	post, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/updates", bytes.NewReader(body))
	post.Header.Set("Authorization", "Bearer "+f.token)
	presp, err := http.DefaultClient.Do(post)
	if err != nil {
		t.Fatalf("post update: %v", err)
	}
	io.Copy(io.Discard, presp.Body)
	presp.Body.Close()

	done := make(chan string, 1)
	go func() {
		for lines.Scan() {
			if strings.Contains(lines.Text(), "batch_flushed") {
				done <- lines.Text()
				return
			}
		}
	}()
	select {
	case line := <-done:
		if !strings.Contains(line, `"reason":"priority"`) || !strings.Contains(line, "Server restarted") {
			t.Errorf("event = %s", line)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no batch_flushed event received")
	}
}

func TestChatRoute(t *testing.T) {
	f := newFixture(t, testConfig(t))

	rec := f.do(t, f.token, http.MethodPost, "/api/chat", map[string]string{"text": "Create a new task to book flights"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var reply orchestrator.Reply
	decodeBody(t, rec, &reply)
	if reply.Action != orchestrator.ActionTaskCreation || len(reply.Tasks) != 1 {
		t.Errorf("reply = %+v", reply)
	}
	if reply.Tasks[0].Metadata.Source != "admin" {
		t.Errorf("source = %q, want admin", reply.Tasks[0].Metadata.Source)
	}

	rec = f.do(t, f.token, http.MethodPost, "/api/chat", map[string]string{"text": "Tell me a joke"})
	decodeBody(t, rec, &reply)
	if reply.Action != orchestrator.ActionChat || reply.Text != "Here to help." {
		t.Errorf("chat reply = %+v", reply)
	}

	if rec := f.do(t, f.token, http.MethodPost, "/api/chat", map[string]string{"text": ""}); rec.Code != http.StatusBadRequest {
		t.Errorf("empty chat status = %d, want 400", rec.Code)
	}
}

func TestToolRoutes(t *testing.T) {
	f := newFixture(t, testConfig(t))

	rec := f.do(t, f.token, http.MethodGet, "/api/tools", nil)
	var defs []map[string]any
	decodeBody(t, rec, &defs)
	if len(defs) != 5 {
		t.Errorf("tool defs = %d, want 5", len(defs))
	}

	rec = f.do(t, f.token, http.MethodPost, "/api/tools/task_context", map[string]any{
		"operation": "create_task",
		"task_data": map[string]any{"description": "via tool"},
	})
	var res tools.Result
	decodeBody(t, rec, &res)
	if !res.Success {
		t.Errorf("create via tool = %+v", res)
	}

	rec = f.do(t, f.token, http.MethodPost, "/api/tools/task_context", map[string]any{"operation": "bogus"})
	decodeBody(t, rec, &res)
	if rec.Code != http.StatusOK || res.Success {
		t.Errorf("bogus operation = %d %+v", rec.Code, res)
	}

	if rec := f.do(t, f.token, http.MethodPost, "/api/tools/clipboard", map[string]any{}); rec.Code != http.StatusNotFound {
		t.Errorf("unknown tool status = %d, want 404", rec.Code)
	}
}

func TestAgentRoutes(t *testing.T) {
	f := newFixture(t, testConfig(t))

	rec := f.do(t, f.token, http.MethodGet, "/api/agents", nil)
	var infos []map[string]any
	decodeBody(t, rec, &infos)
	if len(infos) != 1 || infos[0]["id"] != "Research" {
		t.Errorf("agents = %v", infos)
	}

	if rec := f.do(t, f.token, http.MethodPost, "/api/agents/Research/start", nil); rec.Code != http.StatusNoContent {
		t.Errorf("start status = %d", rec.Code)
	}
	if rec := f.do(t, f.token, http.MethodPost, "/api/agents/Research/stop", nil); rec.Code != http.StatusNoContent {
		t.Errorf("stop status = %d", rec.Code)
	}
	rec = f.do(t, f.token, http.MethodGet, "/api/agents/Research", nil)
	var info map[string]any
	decodeBody(t, rec, &info)
	if info["status"] != "stopped" {
		t.Errorf("status = %v, want stopped", info["status"])
	}
	if rec := f.do(t, f.token, http.MethodPost, "/api/agents/Ghost/start", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown agent start = %d, want 404", rec.Code)
	}
	rec = f.do(t, f.token, http.MethodGet, "/api/teams", nil)
	var teams []map[string]any
	decodeBody(t, rec, &teams)
	if len(teams) != 1 || teams[0]["id"] != "default" {
		t.Errorf("teams = %v", teams)
	}
}

func TestBackupRoute(t *testing.T) {
	f := newFixture(t, testConfig(t))
	rec := f.do(t, f.token, http.MethodPost, "/api/admin/backup", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp map[string]string
	decodeBody(t, rec, &resp)
	if !strings.HasSuffix(resp["path"], ".db") {
		t.Errorf("path = %q", resp["path"])
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.RateLimit.RequestsPerMinute = 60
	cfg.Server.RateLimit.Burst = 2
	f := newFixture(t, cfg) // login consumes the login bucket only

	for i := 0; i < 2; i++ {
		if rec := f.do(t, "", http.MethodGet, "/api/status", nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}
	rec := f.do(t, "", http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["error"] != "rate limit exceeded" {
		t.Errorf("error = %q", body["error"])
	}
	// Other endpoints have their own bucket.
	if rec := f.do(t, f.token, http.MethodGet, "/api/tasks", nil); rec.Code != http.StatusOK {
		t.Errorf("tasks status = %d, want 200", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, testConfig(t))
	f.do(t, f.token, http.MethodGet, "/api/tasks", nil)
	f.do(t, f.token, http.MethodPost, "/api/tools/task_context", map[string]any{"operation": "get_dependencies"})

	rec := f.do(t, "", http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	out := rec.Body.String()
	for _, want := range []string{
		`agency_api_requests_total{endpoint="GET /api/tasks"} 1`,
		`agency_api_requests_total{endpoint="POST /api/auth/login"} 1`,
		`agency_tool_calls_total{operation="get_dependencies",outcome="error",tool="task_context"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics missing %s", want)
		}
	}
}
