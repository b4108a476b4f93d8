package cli

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-mixdb/pkg/config"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/database"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/logging"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/metrics"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/readonly"
)

// app carries what every command needs. Connections are opened lazily so
// commands that do not touch Postgres or Redis never dial them.
type app struct {
	version    string
	configPath string
	logLevel   string
	jsonOutput bool

	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.RunMetrics

	db    *database.DB
	redis *redis.Client
}

// init loads configuration and builds the logger and metrics.
func (a *app) init() error {
	cfg, err := config.LoadFrom(a.configPath, a.version)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.Env)
	if err != nil {
		return err
	}

	m, err := metrics.NewRunMetrics(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	a.cfg = cfg
	a.logger = logger
	a.metrics = m

	logger.Debug("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.Bool("redis", cfg.Redis.Addr() != ""),
		zap.Bool("read_only", cfg.ReadOnly.Enabled))
	return nil
}

// database opens the connection pool on first use.
func (a *app) database(ctx context.Context) (*database.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            a.cfg.Database.ConnectionString(),
		Schema:         a.cfg.Database.Schema,
		MaxConnections: a.cfg.Database.MaxConnections,
	})
	if err != nil {
		a.logger.Error("Failed to connect to database", zap.String("error", logging.SanitizeError(err)))
		return nil, err
	}
	a.db = db
	return db, nil
}

// redisGate returns the Redis read-only gate, or nil when Redis is not configured.
func (a *app) redisGate(ctx context.Context) (*readonly.RedisGate, error) {
	if a.redis == nil {
		client, err := database.NewRedisClient(ctx, &a.cfg.Redis)
		if err != nil {
			return nil, err
		}
		if client == nil {
			return nil, nil
		}
		a.redis = client
	}
	return readonly.NewRedisGate(a.redis, a.cfg.Redis.ReadOnlyKey), nil
}

// gate combines the static switch with the shared Redis flag.
func (a *app) gate(ctx context.Context) (readonly.Gate, error) {
	gates := readonly.AnyGate{readonly.StaticGate(a.cfg.ReadOnly.Enabled)}
	rg, err := a.redisGate(ctx)
	if err != nil {
		return nil, err
	}
	if rg != nil {
		gates = append(gates, rg)
	}
	return gates, nil
}

// writeMetrics writes the textfile when a path is configured. Failures are
// logged: the command itself already succeeded or failed on its own.
func (a *app) writeMetrics() {
	path := a.cfg.Metrics.TextfilePath
	if path == "" {
		return
	}
	if err := a.metrics.WriteTextfile(path); err != nil {
		a.logger.Warn("Failed to write metrics textfile", zap.String("path", path), zap.Error(err))
	}
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("Failed to close Redis client", zap.Error(err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}
