package config

import (
	"github.com/blingmoon/netflow-triage/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

var validatorUtil = validator.New()

// Validate 检查配置, 选中的模型路径必须存在
func (c *Config) Validate() error {
	if err := validatorUtil.Struct(c); err != nil {
		return errors.WithMessagef(workflow.ErrConfiguration, "invalid config, err: %v", err)
	}
	if c.Models.BinaryPath() == "" {
		return errors.WithMessagef(workflow.ErrConfiguration, "models.%s is empty", c.Models.Binary)
	}
	if c.Models.MultiPath() == "" {
		return errors.WithMessagef(workflow.ErrConfiguration, "models.%s is empty", c.Models.Multi)
	}
	return nil
}
