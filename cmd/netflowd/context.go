package main

import (
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/blingmoon/netflow-triage/detector"
	"github.com/blingmoon/netflow-triage/internal/config"
	"github.com/blingmoon/netflow-triage/internal/logging"
	"github.com/blingmoon/netflow-triage/workflow"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type commandContext struct {
	configFlag    *string
	logLevelFlag  *string
	logFormatFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, logLevelFlag, logFormatFlag *string) *commandContext {
	return &commandContext{
		configFlag:    configFlag,
		logLevelFlag:  logLevelFlag,
		logFormatFlag: logFormatFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// logger 命令行参数优先于配置文件
func (c *commandContext) logger(out io.Writer) *slog.Logger {
	level, format := "info", "auto"
	if cfg, err := c.ensureConfig(); err == nil {
		level, format = cfg.Logging.Level, cfg.Logging.Format
	}
	if c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
		level = *c.logLevelFlag
	}
	if c.logFormatFlag != nil && strings.TrimSpace(*c.logFormatFlag) != "" {
		format = *c.logFormatFlag
	}
	return logging.New(level, format, out)
}

func detectorConfig(cfg *config.Config) detector.Config {
	return detector.Config{
		Features:       cfg.Pipeline.Features,
		Mode:           cfg.Pipeline.Mode,
		ClampNegatives: cfg.Pipeline.ClampNegatives,
		BenignLabel:    cfg.Pipeline.BenignLabel,
		AttackLabel:    cfg.Pipeline.AttackLabel,
		MaxConcurrency: cfg.Pipeline.MaxConcurrency,
		BatchLockTTL:   cfg.Pipeline.BatchLockTTL(),
	}
}

func (c *commandContext) newPredictor(logger *slog.Logger, opts ...detector.Option) (*detector.Predictor, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	opts = append([]detector.Option{detector.WithLogger(logger)}, opts...)
	predictor, err := detector.LoadPredictor(detectorConfig(cfg), cfg.Models.BinaryPath(), cfg.Models.MultiPath(), opts...)
	if err != nil {
		return nil, errors.WithMessage(err, "load predictor failed")
	}
	return predictor, nil
}

// batchLock 配置了 redis 就用分布式锁
func batchLock(cfg *config.Config, logger *slog.Logger) (workflow.BatchLock, func() error) {
	if strings.TrimSpace(cfg.Redis.Addr) == "" {
		return workflow.NewLocalBatchLock(logger), func() error { return nil }
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return workflow.NewRedisBatchLock(client, logger), client.Close
}

// openAudit 没有开启审计返回 nil
func openAudit(cfg *config.Config) (detector.Recorder, func() error, error) {
	if !cfg.Audit.Enabled {
		return nil, func() error { return nil }, nil
	}
	db, err := gorm.Open(sqlite.Open(cfg.Audit.DSN), &gorm.Config{})
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "open audit db failed, dsn: %s", cfg.Audit.DSN)
	}
	if err := workflow.AutoMigrate(db); err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, errors.WithMessage(err, "get audit db handle failed")
	}
	return detector.NewRepoRecorder(workflow.NewPredictionRepo(db)), sqlDB.Close, nil
}
