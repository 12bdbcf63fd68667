package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/praekeltfoundation/vumi-telegram/pkg/bus"
	"github.com/praekeltfoundation/vumi-telegram/pkg/config"
	"github.com/praekeltfoundation/vumi-telegram/pkg/logger"
	"github.com/praekeltfoundation/vumi-telegram/pkg/store"
	"github.com/praekeltfoundation/vumi-telegram/pkg/transport"
)

var transportCmd = &cobra.Command{
	Use:   "transport",
	Short: "Run the Telegram transport",
	Long:  "Registers the webhook with Telegram, serves the inbound endpoint, and bridges envelopes to and from the message bus.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.transport")

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		redisClient, err := openRedis(runCtx, cfg)
		if err != nil {
			log.Error("Failed to connect to redis", "error", err)
			return
		}
		defer redisClient.Close()

		conn, err := bus.DialWithRetry(runCtx, bus.ConnectionOptions{
			URL:           cfg.AMQP.URL,
			RetryAttempts: cfg.AMQP.DialAttempts,
			Delay:         time.Second,
			Logger:        log,
		})
		if err != nil {
			log.Error("Failed to connect to broker", "error", err)
			return
		}
		defer conn.Close()

		publisher, err := bus.NewPublisher(conn, cfg.AMQP.Exchange, appLogger)
		if err != nil {
			log.Error("Failed to initialize publisher", "error", err)
			return
		}
		defer publisher.Close()

		consumer := bus.NewConsumer(
			conn,
			cfg.AMQP.Exchange,
			bus.OutboundQueue(cfg.Transport.Name),
			bus.OutboundQueue(cfg.Transport.Name),
			cfg.AMQP.Prefetch,
			cfg.AMQP.Workers,
			appLogger,
		)
		defer consumer.Close()

		redisStore := store.NewRedisStore(redisClient, cfg.DedupTTL())
		client := transport.NewAPIClient(
			transport.APIBaseURL(cfg.Transport.OutboundURL, cfg.Transport.BotToken),
			cfg.RequestTimeout(),
		)

		svc, err := transport.New(cfg, transport.Deps{
			Publisher: publisher,
			Consumer:  consumer,
			Dedup:     redisStore,
			Contexts:  redisStore,
			Client:    client,
		}, appLogger)
		if err != nil {
			log.Error("Failed to initialize transport", "error", err)
			return
		}

		log.Info("Transport started", "name", cfg.Transport.Name, "bot", cfg.Transport.BotUsername)
		if err := svc.Run(runCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("Transport runtime failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(transportCmd)
}

func openRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}
