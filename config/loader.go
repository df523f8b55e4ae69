// Package config loads the orchestrator configuration from defaults, an
// optional YAML file, and environment variable overrides, in that order.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("loanflow.yaml").
//	    WithEnvPrefix("LOANFLOW").
//	    Load()
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete orchestrator configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" env:"SERVER"`
	LLM        LLMConfig        `yaml:"llm" env:"LLM"`
	Router     ModelConfig      `yaml:"router" env:"ROUTER"`
	Profiler   ModelConfig      `yaml:"profiler" env:"PROFILER"`
	Guardrails GuardrailsConfig `yaml:"guardrails" env:"GUARDRAILS"`
	Session    SessionConfig    `yaml:"session" env:"SESSION"`
	Auth       AuthConfig       `yaml:"auth" env:"AUTH"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" env:"RATE_LIMIT"`
	Log        LogConfig        `yaml:"log" env:"LOG"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// LLMConfig configures the model provider shared by all agents.
type LLMConfig struct {
	Provider   string        `yaml:"provider" env:"PROVIDER"`
	APIKey     string        `yaml:"api_key" env:"API_KEY"`
	BaseURL    string        `yaml:"base_url" env:"BASE_URL"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxRetries int           `yaml:"max_retries" env:"MAX_RETRIES"`
}

// ModelConfig configures one agent's model invocation.
type ModelConfig struct {
	Model         string        `yaml:"model" env:"MODEL"`
	MaxTokens     int           `yaml:"max_tokens" env:"MAX_TOKENS"`
	Temperature   float64       `yaml:"temperature" env:"TEMPERATURE"`
	Timeout       time.Duration `yaml:"timeout" env:"TIMEOUT"`
	HistoryBudget int           `yaml:"history_budget" env:"HISTORY_BUDGET"`
}

// GuardrailsConfig configures the input gate.
type GuardrailsConfig struct {
	MaxInputLength     int           `yaml:"max_input_length" env:"MAX_INPUT_LENGTH"`
	BlockedKeywords    []string      `yaml:"blocked_keywords" env:"BLOCKED_KEYWORDS"`
	PIIDetection       bool          `yaml:"pii_detection" env:"PII_DETECTION"`
	InjectionDetection bool          `yaml:"injection_detection" env:"INJECTION_DETECTION"`
	Parallel           bool          `yaml:"parallel" env:"PARALLEL"`
	ClassifierModel    string        `yaml:"classifier_model" env:"CLASSIFIER_MODEL"`
	ClassifierTimeout  time.Duration `yaml:"classifier_timeout" env:"CLASSIFIER_TIMEOUT"`
}

// SessionConfig configures session persistence.
type SessionConfig struct {
	// Type is one of "memory", "redis", "database".
	Type     string         `yaml:"type" env:"TYPE"`
	Redis    RedisConfig    `yaml:"redis" env:"REDIS"`
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`
}

// RedisConfig configures the redis session backend.
type RedisConfig struct {
	Addr      string        `yaml:"addr" env:"ADDR"`
	Password  string        `yaml:"password" env:"PASSWORD"`
	DB        int           `yaml:"db" env:"DB"`
	PoolSize  int           `yaml:"pool_size" env:"POOL_SIZE"`
	KeyPrefix string        `yaml:"key_prefix" env:"KEY_PREFIX"`
	TTL       time.Duration `yaml:"ttl" env:"TTL"`
}

// DatabaseConfig configures the relational session backend.
type DatabaseConfig struct {
	// Driver is one of "sqlite", "postgres", "mysql".
	Driver   string `yaml:"driver" env:"DRIVER"`
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	Name     string `yaml:"name" env:"NAME"`
	SSLMode  string `yaml:"ssl_mode" env:"SSL_MODE"`
}

// AuthConfig configures bearer token authentication on the turn API.
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	Issuer    string `yaml:"issuer" env:"ISSUER"`
}

// RateLimitConfig configures per-instance request rate limiting.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" env:"ENABLED"`
	RPS     float64 `yaml:"rps" env:"RPS"`
	Burst   int     `yaml:"burst" env:"BURST"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format       string   `yaml:"format" env:"FORMAT"`
	OutputPaths  []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Loader loads configuration with the builder pattern.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "LOANFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds a validation step run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration. Precedence: defaults, then YAML file,
// then environment variables.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads configuration and panics on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Router.Temperature < 0 || c.Router.Temperature > 2 {
		errs = append(errs, "router temperature must be between 0 and 2")
	}
	if c.Profiler.Temperature < 0 || c.Profiler.Temperature > 2 {
		errs = append(errs, "profiler temperature must be between 0 and 2")
	}
	if c.Guardrails.MaxInputLength <= 0 {
		errs = append(errs, "max_input_length must be positive")
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		errs = append(errs, "auth enabled without jwt_secret")
	}
	switch c.Session.Type {
	case "", "memory", "redis", "database":
	default:
		errs = append(errs, fmt.Sprintf("unknown session store type %q", c.Session.Type))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DSN renders the database connection string for the configured driver.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
