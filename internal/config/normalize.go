package config

import (
	"runtime"
	"strconv"
	"strings"

	"github.com/blingmoon/netflow-triage/workflow"
	"github.com/pkg/errors"
)

// 环境变量和模型 key 的对应关系
var modelEnvKeys = map[string]func(m *Models) *string{
	"MODEL_BINARY_LGBM": func(m *Models) *string { return &m.BinaryLGBM },
	"MODEL_BINARY_RF":   func(m *Models) *string { return &m.BinaryRF },
	"MODEL_MULTI_LGBM":  func(m *Models) *string { return &m.MultiLGBM },
	"MODEL_MULTI_RF":    func(m *Models) *string { return &m.MultiRF },
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("FEATURE_LIST"); ok && strings.TrimSpace(v) != "" {
		c.Pipeline.Features = ParseFeatureList(v)
	}
	for key, field := range modelEnvKeys {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*field(&c.Models) = strings.TrimSpace(v)
		}
	}
	if v, ok := lookup("PIPELINE_MODE"); ok && strings.TrimSpace(v) != "" {
		c.Pipeline.Mode = v
	}
	if v, ok := lookup("MAX_CONCURRENCY"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return errors.WithMessagef(workflow.ErrConfiguration, "MAX_CONCURRENCY is not a number: %q", v)
		}
		c.Pipeline.MaxConcurrency = n
	}
	if v, ok := lookup("NETFLOW_BIND"); ok && strings.TrimSpace(v) != "" {
		c.Server.Bind = strings.TrimSpace(v)
	}
	if v, ok := lookup("REDIS_ADDR"); ok && strings.TrimSpace(v) != "" {
		c.Redis.Addr = strings.TrimSpace(v)
	}
	return nil
}

// ParseFeatureList 解析特征列表, 兼容 a,b 和 ['a', "b"] 两种写法
func ParseFeatureList(value string) []string {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "[")
	value = strings.TrimSuffix(value, "]")
	features := make([]string, 0)
	for _, item := range strings.Split(value, ",") {
		item = strings.Trim(strings.TrimSpace(item), `"'`)
		item = strings.TrimSpace(item)
		if item != "" {
			features = append(features, item)
		}
	}
	return features
}

func (c *Config) normalize() {
	for i, feature := range c.Pipeline.Features {
		c.Pipeline.Features[i] = strings.TrimSpace(feature)
	}
	c.Pipeline.Mode = strings.ToLower(strings.TrimSpace(c.Pipeline.Mode))
	if c.Pipeline.MaxConcurrency == 0 {
		c.Pipeline.MaxConcurrency = runtime.GOMAXPROCS(0)
	}
	c.Models.Binary = strings.ToLower(strings.TrimSpace(c.Models.Binary))
	c.Models.Multi = strings.ToLower(strings.TrimSpace(c.Models.Multi))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "console" {
		c.Logging.Format = "text"
	}
}
