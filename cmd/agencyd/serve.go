package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/agency/agent"
	"github.com/GoCodeAlone/agency/analytics"
	"github.com/GoCodeAlone/agency/backup"
	"github.com/GoCodeAlone/agency/batch"
	"github.com/GoCodeAlone/agency/comms"
	"github.com/GoCodeAlone/agency/config"
	"github.com/GoCodeAlone/agency/internal/metrics"
	"github.com/GoCodeAlone/agency/internal/version"
	"github.com/GoCodeAlone/agency/orchestrator"
	"github.com/GoCodeAlone/agency/plugin"
	"github.com/GoCodeAlone/agency/provider"
	"github.com/GoCodeAlone/agency/provider/mock"
	"github.com/GoCodeAlone/agency/server"
	"github.com/GoCodeAlone/agency/server/api"
	"github.com/GoCodeAlone/agency/server/ws"
	"github.com/GoCodeAlone/agency/store"
	"github.com/GoCodeAlone/agency/task"
	"github.com/GoCodeAlone/agency/tools"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and agent teams",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger := cfg.NewLogger(os.Stderr)
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

// app is the fully wired daemon.
type app struct {
	db      *store.DB
	agents  *api.Manager
	backups *backup.Manager
	server  *server.Server
	logger  *slog.Logger
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	hub := ws.NewHub(logger)
	bus := comms.NewInMemoryBus()
	tasks := task.NewManager(db, logger)
	msgs := comms.NewService(db, logger, comms.WithBus(bus))
	batcher := batch.New(db, logger,
		batch.WithPolicy(batch.Policy{
			MaxBatchSize:  cfg.Batch.MaxBatchSize,
			Timeout:       cfg.Batch.Timeout,
			FlushPriority: task.Priority(cfg.Batch.FlushPriority),
		}),
		batch.WithNotifier(hub),
		batch.WithNotifier(m),
	)
	classifier := analytics.NewClassifier(cfg.AgentNames()...)
	taskAnalytics := analytics.NewTasks(db)

	registry, err := plugin.NewRegistry(tools.All(tools.Deps{
		Tasks:      tasks,
		Comms:      msgs,
		Batcher:    batcher,
		Classifier: classifier,
		Analytics:  taskAnalytics,
		Observe:    m.ToolCall,
	})...)
	if err != nil {
		db.Close()
		return nil, err
	}

	llm := newProvider(cfg.Provider, m.ProviderError, logger)
	orchOpts := []orchestrator.Option{
		orchestrator.WithErrorHook(func(err error) {
			logger.Warn("orchestrator request failed", slog.Any("err", err))
		}),
	}
	if cfg.Instructions != "" {
		orchOpts = append(orchOpts, orchestrator.WithInstructions(cfg.Instructions))
	}
	orch := orchestrator.New(orchestrator.Deps{
		Tasks:      tasks,
		Comms:      msgs,
		Batcher:    batcher,
		Classifier: classifier,
		Provider:   llm,
	}, logger, orchOpts...)

	teams := buildTeams(cfg.Agents, func(a config.AgentConfig) *agent.Runtime {
		return agent.NewRuntime(agent.Config{
			ID: a.ID,
			Personality: &agent.Personality{
				Name:         valueOr(a.Name, a.ID),
				Role:         a.Role,
				SystemPrompt: a.SystemPrompt,
			},
			Provider: llm,
			Tasks:    tasks,
			Comms:    msgs,
			Bus:      bus,
			Tools:    registry,
			Batcher:  batcher,
			Logger:   logger,
			TeamID:   valueOr(a.TeamID, defaultTeam),
			IsLead:   a.IsLead,
		})
	}, tasks)
	agents := api.NewAgentManager(teams, m.AgentHealth, logger)
	backups := backup.New(db, cfg.BackupDir(), cfg.Backup.Keep, logger)

	h := &api.Handlers{
		Tasks:        tasks,
		Comms:        msgs,
		Batcher:      batcher,
		Analytics:    taskAnalytics,
		Orchestrator: orch,
		Tools:        registry,
		Agents:       agents,
		Backup:       backups,
		Events:       hub,
		Logger:       logger,
		Version:      version.Version,
	}
	return &app{
		db:      db,
		agents:  agents,
		backups: backups,
		server:  server.New(*cfg, h, hub, m, logger),
		logger:  logger,
	}, nil
}

// newProvider builds the configured chat backend behind the retry wrapper.
func newProvider(cfg config.ProviderConfig, onError func(error), logger *slog.Logger) provider.Provider {
	var p provider.Provider
	switch cfg.Kind {
	case "openai", "azure":
		p = provider.NewOpenAIProvider(provider.OpenAIConfig{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Deployment: cfg.Deployment,
			APIVersion: cfg.APIVersion,
			Timeout:    cfg.Timeout,
		})
	default:
		p = mock.New()
	}
	return provider.NewRetrying(p, provider.RetryConfig{
		MaxAttempts: cfg.MaxRetries,
		OnError:     onError,
	}, logger)
}

const defaultTeam = "default"

// buildTeams groups agents by team id in configuration order.
func buildTeams(agents []config.AgentConfig, newRuntime func(config.AgentConfig) *agent.Runtime, tasks *task.Manager) []*agent.Team {
	var teams []*agent.Team
	byID := map[string]*agent.Team{}
	for _, a := range agents {
		id := valueOr(a.TeamID, defaultTeam)
		team, ok := byID[id]
		if !ok {
			team = agent.NewTeam(id, id, tasks)
			byID[id] = team
			teams = append(teams, team)
		}
		r := newRuntime(a)
		if a.IsLead {
			team.SetLead(r)
		} else {
			team.AddAgent(r)
		}
	}
	return teams
}

func (a *app) start(ctx context.Context, schedule string) error {
	if err := a.agents.Start(ctx); err != nil {
		return fmt.Errorf("start agents: %w", err)
	}
	if schedule != "" {
		if err := a.backups.Start(ctx, schedule); err != nil {
			return fmt.Errorf("start backup schedule: %w", err)
		}
	}
	return nil
}

func (a *app) close(ctx context.Context) {
	if err := a.server.Stop(ctx); err != nil {
		a.logger.Error("server shutdown", slog.Any("err", err))
	}
	a.backups.Stop()
	if err := a.agents.Stop(ctx); err != nil {
		a.logger.Error("agent shutdown", slog.Any("err", err))
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("close store", slog.Any("err", err))
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting agencyd",
		slog.String("version", version.Version),
		slog.String("commit", version.Commit),
		slog.String("data_dir", cfg.DataDir),
	)
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	if err := a.start(ctx, cfg.Backup.Schedule); err != nil {
		a.close(context.Background())
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.server.Start() }()

	select {
	case err = <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.close(shutdownCtx)
	return err
}

func valueOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
