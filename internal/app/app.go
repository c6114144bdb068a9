package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/mvolkov/roomcast-server/internal/broker"
	"github.com/mvolkov/roomcast-server/internal/config"
	"github.com/mvolkov/roomcast-server/internal/core"
	"github.com/mvolkov/roomcast-server/internal/s3"
	"github.com/mvolkov/roomcast-server/internal/store"
	"github.com/mvolkov/roomcast-server/internal/store/memory"
	"github.com/mvolkov/roomcast-server/internal/store/scylla"
	transporthttp "github.com/mvolkov/roomcast-server/internal/transport/http"
)

// App wires together the broadcast engine, its collaborators, and the
// transport layer.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	store           store.MessageStore
	producer        *broker.Producer
	consumer        *broker.Consumer
	log             *zerolog.Logger
}

// New constructs the application with provided configuration. The registry is
// built here and injected into the transport; nothing holds it as a global.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := newStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("storage", cfg.Storage).Msg("message store initialized")

	registry := core.NewRegistry(cfg.Room.QueueCapacity, logger)

	var storage *s3.Client
	if cfg.S3.Endpoint != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		storage, err = s3.New(ctx, s3.Config{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			UseSSL:    cfg.S3.UseSSL,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init object storage: %w", err)
		}
		logger.Info().Str("endpoint", cfg.S3.Endpoint).Str("bucket", cfg.S3.Bucket).Msg("object storage initialized")
	}

	var producer *broker.Producer
	var consumer *broker.Consumer
	if len(cfg.Kafka.Brokers) > 0 {
		producer = broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		consumer = broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.Topic)
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("broker initialized")
	}

	server := transporthttp.NewServer(registry, st, storage, producer, *cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		store:           st,
		producer:        producer,
		consumer:        consumer,
		log:             logger,
	}, nil
}

func newStore(cfg *config.Config, logger *zerolog.Logger) (store.MessageStore, error) {
	switch cfg.Storage {
	case config.StorageScylla:
		return scylla.New(scylla.Config{
			Hosts:    cfg.Scylla.Hosts,
			Keyspace: cfg.Scylla.Keyspace,
		}, logger)
	case config.StorageMemory, "":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	if a.consumer != nil {
		go a.auditEvents(ctx)
	}

	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// auditEvents consumes attachment lifecycle events and logs them, giving
// operators a trail of what the side channel carried.
func (a *App) auditEvents(ctx context.Context) {
	for {
		ev, err := a.consumer.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.log.Warn().Err(err).Msg("consume attachment event")
			continue
		}
		a.log.Info().
			Str("user_id", ev.UserID).
			Str("action", string(ev.Action)).
			Str("data", ev.Data).
			Msg("attachment event")
	}
}

// cleanup closes the store and broker clients.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close producer")
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close consumer")
		}
	}
}
