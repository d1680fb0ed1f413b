package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig bounds the retry wrapper.
type RetryConfig struct {
	MaxAttempts     int           // total tries including the first; default 3
	InitialInterval time.Duration // default 500ms
	MaxInterval     time.Duration // default 10s
	// OnError, when set, is called for every failed attempt.
	OnError func(err error)
}

// Retrying retries temporary failures of the wrapped provider with exponential
// backoff. Non-temporary errors are returned at once.
type Retrying struct {
	inner  Provider
	cfg    RetryConfig
	logger *slog.Logger
}

// NewRetrying wraps p.
func NewRetrying(p Provider, cfg RetryConfig, logger *slog.Logger) *Retrying {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{inner: p, cfg: cfg, logger: logger}
}

func (r *Retrying) Name() string { return r.inner.Name() }

// Chat calls the wrapped provider up to MaxAttempts times.
func (r *Retrying) Chat(ctx context.Context, messages []Message, tools []ToolDef) (*Response, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.cfg.InitialInterval
	eb.MaxInterval = r.cfg.MaxInterval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(r.cfg.MaxAttempts-1)), ctx)

	var resp *Response
	attempt := 0
	op := func() error {
		attempt++
		var err error
		resp, err = r.inner.Chat(ctx, messages, tools)
		if err == nil {
			return nil
		}
		if r.cfg.OnError != nil {
			r.cfg.OnError(err)
		}
		if !IsTemporary(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Warn("provider call failed, retrying",
			slog.String("provider", r.inner.Name()),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.Any("err", err),
		)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return resp, nil
}
