package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/llmgate/llmgate/internal/ailink"
	"github.com/llmgate/llmgate/internal/config"
	"github.com/llmgate/llmgate/internal/core/engine"
	"github.com/llmgate/llmgate/internal/metrics"
)

// errInvalidConfig marks failures that should exit with the config-invalid code.
var errInvalidConfig = errors.New("invalid configuration")

// gateway is a chain built from configuration plus the resources it owns.
type gateway struct {
	chain *engine.Chain
	redis *redis.Client
}

// Close releases the Redis connection pool when one was opened.
func (g *gateway) Close() error {
	if g == nil || g.redis == nil {
		return nil
	}
	return g.redis.Close()
}

// buildGateway wires drivers, limiters and the failover chain from cfg. A nil
// logger leaves chain logging disabled.
func buildGateway(cfg *config.Config, logger engine.Logger) (*gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidConfig, err)
	}
	mode, err := engine.ParseMode(cfg.Limiter.Mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidConfig, err)
	}

	g := &gateway{}
	if strings.EqualFold(strings.TrimSpace(cfg.Limiter.Backend), config.BackendRedis) {
		g.redis = newRedisClient(cfg.Redis)
	}

	registry := ailink.NewRegistry(cfg.AILink)
	endpoints := make([]*engine.Endpoint, 0, len(cfg.Chain))
	for i, epCfg := range cfg.Chain {
		drv, err := registry.Driver(epCfg.Provider)
		if err != nil {
			_ = g.Close()
			return nil, fmt.Errorf("%w: chain[%d]: %w", errInvalidConfig, i, err)
		}

		limiter, err := g.limiterFor(cfg, epCfg.EndpointID(), epCfg.RPM, mode)
		if err != nil {
			_ = g.Close()
			return nil, fmt.Errorf("chain[%d]: %w", i, err)
		}

		var opts []engine.EndpointOption
		if logger != nil {
			opts = append(opts, engine.WithEndpointLogger(logger))
		}
		if cfg.Limiter.Provider429Backoff > 0 {
			opts = append(opts, engine.WithProvider429Backoff(cfg.Limiter.Provider429Backoff))
		}

		ep, err := engine.NewEndpoint(epCfg, drv, limiter, opts...)
		if err != nil {
			_ = g.Close()
			return nil, fmt.Errorf("%w: chain[%d]: %w", errInvalidConfig, i, err)
		}
		endpoints = append(endpoints, ep)
	}

	chainOpts := []engine.ChainOption{engine.WithObserver(metrics.ChainObserver{})}
	if logger != nil {
		chainOpts = append(chainOpts, engine.WithLogger(logger))
	}
	chain, err := engine.NewChain(endpoints, chainOpts...)
	if err != nil {
		_ = g.Close()
		return nil, err
	}
	g.chain = chain
	return g, nil
}

func (g *gateway) limiterFor(cfg *config.Config, endpointID string, rpm int, mode engine.Mode) (*engine.Limiter, error) {
	if g.redis == nil {
		return engine.NewMemoryLimiter(rpm, engine.WithMode(mode))
	}
	window, err := engine.NewRedisWindow(g.redis, engine.WindowKey(cfg.Redis.KeyPrefix, endpointID), rpm)
	if err != nil {
		return nil, err
	}
	return engine.NewLimiter(window, engine.WithMode(mode)), nil
}

func newRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
}
