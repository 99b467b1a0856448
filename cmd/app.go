package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/faceinbox/internal/autotrain"
	"github.com/kozaktomas/faceinbox/internal/config"
	"github.com/kozaktomas/faceinbox/internal/database/postgres"
	"github.com/kozaktomas/faceinbox/internal/embedding"
	"github.com/kozaktomas/faceinbox/internal/gallery"
	"github.com/kozaktomas/faceinbox/internal/history"
	"github.com/kozaktomas/faceinbox/internal/metrics"
	"github.com/kozaktomas/faceinbox/internal/recognition"
	"github.com/kozaktomas/faceinbox/internal/retrain"
	"github.com/kozaktomas/faceinbox/internal/settings"
	"github.com/kozaktomas/faceinbox/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// app holds the services every command shares.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	pool      *postgres.Pool
	providers *embedding.Set
	metrics   *metrics.Metrics
	gallery   *gallery.Service
	history   *history.Service
	settings  *settings.Manager
	engine    *recognition.Engine
	retrain   *retrain.Coordinator
}

// openApp connects to PostgreSQL, applies migrations, loads the persisted
// settings and wires the recognition core. A nil registry disables metrics.
func openApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*app, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}

	var m *metrics.Metrics
	if reg != nil {
		var err error
		if m, err = metrics.New(reg); err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
	}

	files, err := storage.New(cfg.Storage.DataDir)
	if err != nil {
		return nil, err
	}

	pool, applied, err := postgres.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}
	if len(applied) > 0 {
		logger.Info("database migrations applied", zap.Strings("migrations", applied))
	}
	store := postgres.NewStore(pool)

	s := settings.NewManager(settings.FromConfig(cfg), store, logger)
	if err := s.Load(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("loading settings: %w", err)
	}

	providers := embedding.NewHTTPSet(cfg.Embedding.URL, cfg.Embedding.Timeout)
	g := gallery.New(store, files, logger, m)
	h := history.New(store, g, files, cfg.History.Limit, logger)

	return &app{
		cfg:       cfg,
		logger:    logger,
		pool:      pool,
		providers: providers,
		metrics:   m,
		gallery:   g,
		history:   h,
		settings:  s,
		engine:    recognition.New(providers, g, autotrain.New(g, logger), h, s, m, logger),
		retrain:   retrain.New(providers, g, s, m, logger),
	}, nil
}

func (a *app) Close() {
	if err := a.pool.Close(); err != nil {
		a.logger.Warn("failed to close database pool", zap.Error(err))
	}
}
