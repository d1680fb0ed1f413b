package backup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// cronLogger adapts slog.Logger to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{slog.Any("err", err)}, keysAndValues...)...)
}

// Start schedules Run with a standard cron spec or descriptor such as "@every 6h".
// Failed runs are logged. Call Stop to end the schedule.
func (m *Manager) Start(ctx context.Context, spec string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cron != nil {
		return fmt.Errorf("backup schedule already running")
	}

	logger := cronLogger{logger: m.logger.With(slog.String("component", "cron"))}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger)),
	)
	ctx = context.WithoutCancel(ctx)
	_, err := c.AddFunc(spec, func() {
		if _, err := m.Run(ctx); err != nil {
			m.logger.Error("scheduled backup failed", slog.Any("err", err))
		}
	})
	if err != nil {
		return fmt.Errorf("parse backup schedule %q: %w", spec, err)
	}
	c.Start()
	m.cron = c
	m.logger.Info("backup schedule started", slog.String("schedule", spec), slog.String("dir", m.dir))
	return nil
}

// Stop ends the schedule and waits for a running backup to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
