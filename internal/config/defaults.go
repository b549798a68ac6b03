package config

import "runtime"

const (
	defaultMode                = "predict"
	defaultBenignLabel         = "BENIGN"
	defaultAttackLabel         = "ATTACK"
	defaultBatchLockTTLSeconds = 300
	defaultBinaryModel         = "binary_rf"
	defaultMultiModel          = "multi_rf"
	defaultBind                = "127.0.0.1:8000"
	defaultReadTimeoutSeconds  = 60
	defaultMaxUploadMB         = 64
	defaultLogLevel            = "info"
	defaultLogFormat           = "auto"
	defaultAuditDSN            = "netflow_audit.sqlite3"
)

// Default 默认配置, 特征列表和模型路径没有默认值
func Default() Config {
	return Config{
		Pipeline: Pipeline{
			Mode:                defaultMode,
			ClampNegatives:      true,
			BenignLabel:         defaultBenignLabel,
			AttackLabel:         defaultAttackLabel,
			MaxConcurrency:      runtime.GOMAXPROCS(0),
			BatchLockTTLSeconds: defaultBatchLockTTLSeconds,
		},
		Models: Models{
			Binary: defaultBinaryModel,
			Multi:  defaultMultiModel,
		},
		Server: Server{
			Bind:               defaultBind,
			ReadTimeoutSeconds: defaultReadTimeoutSeconds,
			MaxUploadMB:        defaultMaxUploadMB,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
		Audit: Audit{
			DSN: defaultAuditDSN,
		},
	}
}
