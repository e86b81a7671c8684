package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

type RetryConfig struct {
	// MaxRetries is the number of extra attempts after the first call. Zero disables retries.
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Logger          *slog.Logger
}

type retryingGateway struct {
	next Gateway
	cfg  RetryConfig
}

// WithRetry retries calls that fail with a Retryable error using exponential backoff.
// Other errors are returned after the first attempt.
func WithRetry(next Gateway, cfg RetryConfig) Gateway {
	if cfg.MaxRetries <= 0 {
		return next
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &retryingGateway{next: next, cfg: cfg}
}

func (g *retryingGateway) Invoke(ctx context.Context, directive, instruction string) (string, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.cfg.InitialInterval
	bo.MaxInterval = g.cfg.MaxInterval

	attempt := 0
	return backoff.Retry(ctx, func() (string, error) {
		attempt++
		out, err := g.next.Invoke(ctx, directive, instruction)
		if err == nil {
			return out, nil
		}
		if !Retryable(err) {
			return "", backoff.Permanent(err)
		}
		return "", err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(g.cfg.MaxRetries+1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			g.cfg.Logger.Warn("model gateway call failed, retrying", "attempt", attempt, "wait", wait, "error", err)
		}),
	)
}
