package main

import (
	"context"

	"github.com/hyperjump/kagami/internal/config"
	"github.com/hyperjump/kagami/internal/embedding"
	"github.com/hyperjump/kagami/internal/metrics"
	"github.com/hyperjump/kagami/internal/resources"
	"github.com/hyperjump/kagami/internal/search"
	"github.com/hyperjump/kagami/pkg/utils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// components are the long-lived pieces shared by every command that runs
// the search service in-process.
type components struct {
	cfg     *config.Config
	logger  *zap.Logger
	encoder *embedding.Adapter
	loader  *resources.Loader
	metrics *metrics.Metrics
	service *search.Service
}

// wire builds the service graph. A failing encoder is logged and left
// unloaded so that embedding search keeps working. m may be nil.
func wire(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *components {
	logger = utils.OrNop(logger)

	enc, err := embedding.NewEncoder(cfg.Encoder)
	if err != nil {
		logger.Warn("encoder unavailable, image and text endpoints disabled",
			zap.String("backend", cfg.Encoder.Backend), zap.Error(err))
	} else {
		info := enc.Info()
		logger.Info("encoder loaded",
			zap.String("model", info.Name), zap.String("backend", info.Backend), zap.Int("dimensions", info.Dimensions))
	}
	adapter := embedding.NewAdapter(enc, cfg.Encoder.Dimensions, cfg.Encoder.CacheSize, logger)

	loader := resources.NewLoader(cfg.Resources,
		resources.WithLogger(logger),
		resources.WithMetrics(m),
		resources.WithDimension(cfg.Encoder.Dimensions),
	)

	return &components{
		cfg:     cfg,
		logger:  logger,
		encoder: adapter,
		loader:  loader,
		metrics: m,
		service: search.NewService(cfg.Search, adapter, loader, m, logger),
	}
}

// warmUp loads the index when configured to and starts the local file
// watcher. Failures are logged; the loader retries lazily on first search.
func (c *components) warmUp(ctx context.Context) {
	if c.cfg.Resources.LoadOnStartupOrDefault() {
		if err := c.loader.Reload(ctx); err != nil {
			c.logger.Warn("startup load failed, will retry on first search", zap.Error(err))
		}
	}
	if err := c.loader.Watch(ctx); err != nil {
		c.logger.Warn("resource watch disabled", zap.Error(err))
	}
}

func (c *components) Close() {
	if err := c.loader.Close(); err != nil {
		c.logger.Warn("loader close failed", zap.Error(err))
	}
	if err := c.encoder.Close(); err != nil {
		c.logger.Warn("encoder close failed", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return utils.NewLogger(cfg.Debug)
}

// newQuietLogger is for one-shot commands: warnings and above unless debugging.
func newQuietLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil || cfg.Debug {
		return logger, err
	}
	return logger.WithOptions(zap.IncreaseLevel(zapcore.WarnLevel)), nil
}
