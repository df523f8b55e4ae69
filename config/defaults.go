package config

import "time"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		LLM:        DefaultLLMConfig(),
		Router:     DefaultRouterConfig(),
		Profiler:   DefaultProfilerConfig(),
		Guardrails: DefaultGuardrailsConfig(),
		Session:    DefaultSessionConfig(),
		Auth:       AuthConfig{},
		RateLimit:  DefaultRateLimitConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the default HTTP surface configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    90 * time.Second, // turns block on model calls
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultLLMConfig returns the default provider configuration.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:   "openai",
		Timeout:    2 * time.Minute,
		MaxRetries: 1,
	}
}

// DefaultRouterConfig returns the intent router's model settings.
func DefaultRouterConfig() ModelConfig {
	return ModelConfig{
		Model:         "gpt-4o-mini",
		MaxTokens:     200,
		Temperature:   0.2,
		Timeout:       15 * time.Second,
		HistoryBudget: 1000,
	}
}

// DefaultProfilerConfig returns the loan profiler's model settings.
func DefaultProfilerConfig() ModelConfig {
	return ModelConfig{
		Model:         "gpt-4.1",
		MaxTokens:     500,
		Temperature:   0.1,
		Timeout:       30 * time.Second,
		HistoryBudget: 2000,
	}
}

// DefaultGuardrailsConfig returns the default gate configuration.
func DefaultGuardrailsConfig() GuardrailsConfig {
	return GuardrailsConfig{
		MaxInputLength:     10000,
		PIIDetection:       true,
		InjectionDetection: true,
		Parallel:           false,
		ClassifierModel:    "gpt-4o-mini",
		ClassifierTimeout:  10 * time.Second,
	}
}

// DefaultSessionConfig returns the default persistence configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Type: "memory",
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "loanflow:session:",
			TTL:       24 * time.Hour,
		},
		Database: DatabaseConfig{
			Driver:  "sqlite",
			Name:    "loanflow.db",
			SSLMode: "disable",
		},
	}
}

// DefaultRateLimitConfig returns the default rate limiting configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled: true,
		RPS:     50,
		Burst:   100,
	}
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}

// DefaultTelemetryConfig returns the default telemetry configuration.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "loanflow",
		SampleRate:   0.1,
	}
}
