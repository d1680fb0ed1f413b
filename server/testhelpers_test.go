package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/GoCodeAlone/agency/agent"
	"github.com/GoCodeAlone/agency/analytics"
	"github.com/GoCodeAlone/agency/backup"
	"github.com/GoCodeAlone/agency/batch"
	"github.com/GoCodeAlone/agency/comms"
	"github.com/GoCodeAlone/agency/config"
	"github.com/GoCodeAlone/agency/internal/metrics"
	"github.com/GoCodeAlone/agency/orchestrator"
	"github.com/GoCodeAlone/agency/plugin"
	"github.com/GoCodeAlone/agency/provider/mock"
	"github.com/GoCodeAlone/agency/server/api"
	"github.com/GoCodeAlone/agency/server/ws"
	"github.com/GoCodeAlone/agency/store"
	"github.com/GoCodeAlone/agency/task"
	"github.com/GoCodeAlone/agency/tools"
)

const testPassword = "secret"

// fixture is a server over a real temp-dir store.
type fixture struct {
	srv     *Server
	handler http.Handler
	metrics *metrics.Metrics
	hub     *ws.Hub
	tasks   *task.Manager
	token   string
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	hash, err := HashPassword(testPassword)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	cfg := *config.DefaultConfig()
	cfg.Server.RateLimit.RequestsPerMinute = 0
	cfg.Auth.AdminPass = hash
	cfg.Auth.JWTSecret = "test-secret-key-1234567890"
	return cfg
}

func newFixture(t *testing.T, cfg config.Config) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "agency.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m := metrics.New()
	hub := ws.NewHub(nil)
	bus := comms.NewInMemoryBus()
	tasks := task.NewManager(db, nil)
	msgs := comms.NewService(db, nil, comms.WithBus(bus))
	batcher := batch.New(db, nil, batch.WithNotifier(hub), batch.WithNotifier(m))
	classifier := analytics.NewClassifier("Research")

	registry, err := plugin.NewRegistry(tools.All(tools.Deps{
		Tasks:      tasks,
		Comms:      msgs,
		Batcher:    batcher,
		Classifier: classifier,
		Analytics:  analytics.NewTasks(db),
		Observe:    m.ToolCall,
	})...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	orch := orchestrator.New(orchestrator.Deps{
		Tasks:      tasks,
		Comms:      msgs,
		Batcher:    batcher,
		Classifier: classifier,
		Provider:   mock.New("Here to help."),
	}, nil)

	team := agent.NewTeam("default", "default", tasks)
	team.AddAgent(agent.NewRuntime(agent.Config{
		ID:       "Research",
		Provider: mock.New(),
		Tasks:    tasks,
		Comms:    msgs,
		Bus:      bus,
		Tools:    registry,
		Batcher:  batcher,
	}))
	agents := api.NewAgentManager([]*agent.Team{team}, m.AgentHealth, nil)

	h := &api.Handlers{
		Tasks:        tasks,
		Comms:        msgs,
		Batcher:      batcher,
		Analytics:    analytics.NewTasks(db),
		Orchestrator: orch,
		Tools:        registry,
		Agents:       agents,
		Backup:       backup.New(db, filepath.Join(t.TempDir(), "backups"), 5, nil),
		Version:      "test",
	}
	srv := New(cfg, h, hub, m, nil)
	f := &fixture{srv: srv, handler: srv.Handler(), metrics: m, hub: hub, tasks: tasks}
	t.Cleanup(func() { _ = agents.Stop(context.Background()) })
	f.token = f.login(t, "admin", testPassword)
	return f
}

func (f *fixture) login(t *testing.T, user, pass string) string {
	t.Helper()
	rec := f.do(t, "", http.MethodPost, "/api/auth/login", map[string]string{"username": user, "password": pass})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body)
	}
	var resp loginResponse
	decodeBody(t, rec, &resp)
	return resp.Token
}

// do sends a request with an optional bearer token and JSON body.
func (f *fixture) do(t *testing.T, token, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
}
