// =============================================================================
// 📦 kiboserve 默认配置
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Database:  DefaultDatabaseConfig(),
		Redis:     DefaultRedisConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Discovery: DefaultDiscoveryConfig(),
		Evaluator: DefaultEvaluatorConfig(),
		Chat:      DefaultChatConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8000,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    150 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置（内嵌 SQLite）
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Name:            "kiboup_studio.db",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		AutoMigrate:     true,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		TTL:          30 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "kiboserve",
		SampleRate:   0.1,
	}
}

// DefaultDiscoveryConfig 返回默认发现配置
func DefaultDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		CheckInterval:   10 * time.Second,
		ErrorThreshold:  5,
		StaleMultiplier: 3,
	}
}

// DefaultEvaluatorConfig 返回默认评估器配置
func DefaultEvaluatorConfig() EvaluatorConfig {
	return EvaluatorConfig{
		BaseURL: "https://api.openai.com",
		Model:   "gpt-4o-mini",
		Timeout: 60 * time.Second,
	}
}

// DefaultChatConfig 返回默认会话代理配置
func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		Timeout:         120 * time.Second,
		EvalConcurrency: 4,
	}
}
