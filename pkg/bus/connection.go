package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// ConnectionOptions configures broker dialing.
type ConnectionOptions struct {
	URL           string
	RetryAttempts int
	Delay         time.Duration
	Logger        *slog.Logger
}

const maxDialDelay = 30 * time.Second

// DialWithRetry connects to RabbitMQ with exponential backoff, respecting
// context cancellation for graceful shutdown.
func DialWithRetry(ctx context.Context, opts ConnectionOptions) (*amqp091.Connection, error) {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 1
	}
	if opts.Delay <= 0 {
		opts.Delay = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	sleep := opts.Delay
	var lastErr error
	for attempt := 1; attempt <= opts.RetryAttempts; attempt++ {
		conn, err := amqp091.Dial(opts.URL)
		if err == nil {
			if attempt > 1 {
				opts.Logger.Info("Broker connected", "attempt", attempt)
			}
			return conn, nil
		}
		lastErr = err

		if attempt == opts.RetryAttempts {
			break
		}

		opts.Logger.Warn("Broker dial failed", "attempt", attempt, "sleep", sleep, "error", err)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("broker dial cancelled: %w", ctx.Err())
		case <-timer.C:
		}

		sleep *= 2
		if sleep > maxDialDelay {
			sleep = maxDialDelay
		}
	}

	return nil, fmt.Errorf("connect to broker after %d attempts: %w", opts.RetryAttempts, lastErr)
}
