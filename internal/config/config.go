// Package config netflowd 的配置, 读取顺序: 默认值 -> toml 文件 -> .env -> 环境变量
package config

import (
	_ "embed"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/blingmoon/netflow-triage/workflow"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

//go:embed sample_config.toml
var sampleConfig string

// DefaultConfigFile 没有指定配置文件时在当前目录查找
const DefaultConfigFile = "netflow.toml"

// Pipeline 预测流程相关配置
type Pipeline struct {
	Features            []string `toml:"features" validate:"required,min=1,unique,dive,required"`
	Mode                string   `toml:"mode" validate:"oneof=predict proba"`
	ClampNegatives      bool     `toml:"clamp_negatives"`
	BenignLabel         string   `toml:"benign_label" validate:"required"`
	AttackLabel         string   `toml:"attack_label" validate:"required,nefield=BenignLabel"`
	MaxConcurrency      int      `toml:"max_concurrency" validate:"gte=1"`
	BatchLockTTLSeconds int      `toml:"batch_lock_ttl_seconds" validate:"gte=1"`
}

// Models 模型路径, binary_model/multi_model 选择实际使用的模型
type Models struct {
	BinaryLGBM string `toml:"binary_lgbm"`
	BinaryRF   string `toml:"binary_rf"`
	MultiLGBM  string `toml:"multi_lgbm"`
	MultiRF    string `toml:"multi_rf"`
	Binary     string `toml:"binary_model" validate:"oneof=binary_lgbm binary_rf"`
	Multi      string `toml:"multi_model" validate:"oneof=multi_lgbm multi_rf"`
}

type Server struct {
	Bind               string `toml:"bind" validate:"required,hostname_port"`
	ReadTimeoutSeconds int    `toml:"read_timeout_seconds" validate:"gte=1"`
	MaxUploadMB        int64  `toml:"max_upload_mb" validate:"gte=1"`
}

type Logging struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" validate:"oneof=auto text json"`
}

// Audit 预测结果落库, 使用 sqlite
type Audit struct {
	Enabled bool   `toml:"enabled"`
	DSN     string `toml:"dsn" validate:"required_if=Enabled true"`
}

// Redis 配置了地址就使用 redis 批次锁, 否则使用进程内的锁
type Redis struct {
	Addr     string `toml:"addr" validate:"omitempty,hostname_port"`
	Password string `toml:"password"`
	DB       int    `toml:"db" validate:"gte=0"`
}

type Config struct {
	Pipeline Pipeline `toml:"pipeline"`
	Models   Models   `toml:"models"`
	Server   Server   `toml:"server"`
	Logging  Logging  `toml:"logging"`
	Audit    Audit    `toml:"audit"`
	Redis    Redis    `toml:"redis"`
}

type loadOptions struct {
	envFile string
	lookup  func(string) (string, bool)
}

type LoadOption func(*loadOptions)

// WithEnvFile .env 文件路径, 默认当前目录的 .env, 文件不存在会忽略
func WithEnvFile(path string) LoadOption {
	return func(o *loadOptions) {
		o.envFile = path
	}
}

// WithLookupEnv 替换环境变量的读取, 测试使用
func WithLookupEnv(lookup func(string) (string, bool)) LoadOption {
	return func(o *loadOptions) {
		o.lookup = lookup
	}
}

// Load 读取配置, path 为空的时候尝试当前目录的 netflow.toml
// 任何错误都包装成 ErrConfiguration
func Load(path string, opts ...LoadOption) (*Config, error) {
	o := &loadOptions{envFile: ".env", lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(o)
	}
	cfg := Default()

	resolved, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, err
	}
	if exists {
		file, err := os.Open(resolved)
		if err != nil {
			return nil, errors.WithMessagef(workflow.ErrConfiguration, "open config failed, path: %s, err: %v", resolved, err)
		}
		defer file.Close()
		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, errors.WithMessagef(workflow.ErrConfiguration, "parse config failed, path: %s, err: %v", resolved, err)
		}
	}

	if o.envFile != "" {
		// 已经存在的环境变量不会被覆盖
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, errors.WithMessagef(workflow.ErrConfiguration, "load env file failed, path: %s, err: %v", o.envFile, err)
		}
	}
	if err := cfg.applyEnv(o.lookup); err != nil {
		return nil, err
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", false, errors.WithMessagef(workflow.ErrConfiguration, "stat config failed, path: %s, err: %v", path, err)
		}
		return path, true, nil
	}
	projectPath, err := filepath.Abs(DefaultConfigFile)
	if err != nil {
		return "", false, errors.WithMessagef(workflow.ErrConfiguration, "resolve config path failed, err: %v", err)
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return projectPath, false, nil
}

// CreateSample 生成示例配置文件
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.WithMessage(err, "create config directory failed")
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return errors.WithMessage(err, "write sample config failed")
	}
	return nil
}

// Path 按 key 取模型路径, key 是 binary_rf 这种
func (m Models) Path(key string) string {
	switch key {
	case "binary_lgbm":
		return m.BinaryLGBM
	case "binary_rf":
		return m.BinaryRF
	case "multi_lgbm":
		return m.MultiLGBM
	case "multi_rf":
		return m.MultiRF
	}
	return ""
}

func (m Models) BinaryPath() string {
	return m.Path(m.Binary)
}

func (m Models) MultiPath() string {
	return m.Path(m.Multi)
}

func (p Pipeline) BatchLockTTL() time.Duration {
	return time.Duration(p.BatchLockTTLSeconds) * time.Second
}

func (s Server) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSeconds) * time.Second
}
