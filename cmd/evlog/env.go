package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/trackdechets/eventlog/internal/config"
	"github.com/trackdechets/eventlog/internal/events"
	"github.com/trackdechets/eventlog/internal/store/mongo"
	"github.com/trackdechets/eventlog/internal/store/postgres"
)

// connectTimeout bounds store connection and index setup at startup.
const connectTimeout = 30 * time.Second

// env holds what every store-backed command needs.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	pub    events.Publisher
	hot    *postgres.Store
	cold   *mongo.Store
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openEnv loads configuration and connects both stores and the event
// publisher.
func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, logger: newLogger(cfg.LogLevel)}

	e.hot, err = postgres.New(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	e.cold, err = mongo.New(connectCtx, cfg.MongoURL, cfg.MongoDatabase, cfg.MongoCollection)
	if err != nil {
		e.hot.Close()
		return nil, err
	}

	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			e.close()
			return nil, err
		}
		e.pub = pub
		e.logger.Debug("events enabled", "nats_url", cfg.NATSURL)
	} else {
		e.pub = &events.NoopPublisher{}
		e.logger.Debug("events disabled (EVLOG_NATS_URL not set)")
	}
	return e, nil
}

// ensureIndexed creates the cold store's stream index if it is missing.
func (e *env) ensureIndexed(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := e.cold.EnsureIndexed(ctx); err != nil {
		return err
	}
	e.logger.Debug("cold store indexed", "database", e.cfg.MongoDatabase, "collection", e.cfg.MongoCollection)
	return nil
}

// close releases everything openEnv acquired, publisher first.
func (e *env) close() {
	if e.pub != nil {
		if err := e.pub.Close(); err != nil {
			e.logger.Error("error closing publisher", "err", err)
		}
	}
	if e.cold != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.cold.Close(ctx); err != nil {
			e.logger.Error("error closing cold store", "err", err)
		}
	}
	if e.hot != nil {
		if err := e.hot.Close(); err != nil {
			e.logger.Error("error closing hot store", "err", err)
		}
	}
}
