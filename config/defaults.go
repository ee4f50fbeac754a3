package config

import "time"

// DefaultConfig 返回默认配置。
// 对话内容（角色、主题）没有默认值，必须由配置文件提供。
func DefaultConfig() *Config {
	return &Config{
		Dialogue: DialogueConfig{
			Output: OutputConfig{
				Directory: "output",
			},
		},
		ResponseRequirements: ResponseRequirements{
			Length: LengthRange{Min: 20, Max: 200},
		},
		Performance: PerformanceConfig{
			Timeout: 60 * time.Second,
			Retry: RetryConfig{
				MaxAttempts: 5,
				MinWait:     2 * time.Second,
				MaxWait:     8 * time.Second,
				Multiplier:  1.5,
			},
			Monitoring: MonitoringConfig{
				AlertThresholds: AlertThresholds{
					ErrorRate:  0.1,
					AvgLatency: 10 * time.Second,
				},
			},
			Pool: PoolConfig{
				MaxIdleConns:    100,
				IdleConnTimeout: 90 * time.Second,
			},
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stdout"},
		},
	}
}

// DefaultModelConfig 返回默认生成参数，与原服务保持一致。
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		MaxTokens:        500,
		Temperature:      0.7,
		FrequencyPenalty: 0.5,
		PresencePenalty:  0.5,
	}
}
