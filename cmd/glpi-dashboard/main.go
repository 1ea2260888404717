// Command glpi-dashboard serves GLPI ticket metrics over HTTP and prints them
// from the command line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/internal/config"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/cache"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/logging"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/service"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// rootOptions holds the persistent flags.
type rootOptions struct {
	configPath string
	logLevel   string
	pretty     bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "glpi-dashboard",
		Short:         "GLPI ticket dashboard",
		Long:          `Computes ticket metrics, technician rankings and new-ticket lists from a GLPI instance.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML config file (default $GLPI_DASHBOARD_CONFIG)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().BoolVar(&opts.pretty, "pretty", false, "Human-readable console logs")

	root.AddCommand(
		newServeCmd(opts),
		newMetricsCmd(opts),
		newRankingCmd(opts),
		newTicketsCmd(opts),
		newStatusCmd(opts),
	)
	return root
}

// app is a loaded configuration with the service built from it.
type app struct {
	cfg     *config.Config
	svc     *service.Service
	logger  zerolog.Logger
	cleanup func()
}

// setup loads the configuration, configures logging and builds the service.
// The caller must invoke cleanup.
func setup(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.pretty {
		cfg.Logging.Pretty = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Logging.Level),
		Pretty: cfg.Logging.Pretty,
		Output: os.Stderr,
	})

	backend, closeBackend, err := newCacheBackend(ctx, cfg.Cache, logger)
	if err != nil {
		return nil, err
	}

	svc, err := service.New(serviceConfig(cfg, backend), logger)
	if err != nil {
		closeBackend()
		return nil, err
	}

	return &app{
		cfg:    cfg,
		svc:    svc,
		logger: logger,
		cleanup: func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			svc.Close(ctx)
			closeBackend()
		},
	}, nil
}

// serviceConfig maps the loaded configuration onto the service settings.
// Validate has already rejected an unresolvable level table.
func serviceConfig(cfg *config.Config, backend cache.Backend) service.Config {
	levels, _ := cfg.ServiceLevels()
	return service.Config{
		BaseURL:             cfg.GLPI.URL,
		AppToken:            cfg.GLPI.AppToken,
		UserToken:           cfg.GLPI.UserToken,
		RequestTimeout:      cfg.GLPI.RequestTimeout,
		LoginTimeout:        cfg.GLPI.LoginTimeout,
		SessionTTL:          cfg.GLPI.SessionTTL,
		MaxRetries:          cfg.Retry.MaxRetries,
		RetryBase:           cfg.Retry.Base,
		Levels:              levels,
		TechnicianProfileID: cfg.Ranking.TechnicianProfileID,
		RankingFallbackCap:  cfg.Ranking.FallbackCap,
		Concurrency:         cfg.Ranking.Concurrency,
		CacheBackend:        backend,
		CacheTTLs:           cfg.CacheTTLs(),
	}
}

// newCacheBackend returns nil for the memory backend (the service default)
// or a Redis backend after a successful ping.
func newCacheBackend(ctx context.Context, cfg config.CacheConfig, logger zerolog.Logger) (cache.Backend, func(), error) {
	if cfg.Backend != config.BackendRedis {
		return nil, func() {}, nil
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		// Accept a bare host:port as well.
		redisOpts = &redis.Options{Addr: cfg.RedisURL}
	}
	redisClient := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		redisClient.Close()
		return nil, nil, fmt.Errorf("failed to connect to Redis at %s: %w", redisOpts.Addr, err)
	}
	logger.Info().Str("addr", redisOpts.Addr).Msg("Connected to Redis")

	return cache.NewRedisBackend(redisClient, cfg.KeyPrefix), func() { redisClient.Close() }, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
