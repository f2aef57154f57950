package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/newsgraph/internal/platform/retry"
)

// Duration accepts "5s" style strings or an integer number of seconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	s := strings.TrimSpace(value.Value)
	if s == "" || s == "null" || s == "~" {
		d.Duration = 0
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		d.Duration = time.Duration(n) * time.Second
		return nil
	}
	dd, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration must be like \"5s\" or an integer of seconds: %w", err)
	}
	d.Duration = dd
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

type Config struct {
	Environment string            `yaml:"environment" validate:"oneof=local development production test"`
	Log         LogConfig         `yaml:"log"`
	HTTP        HTTPConfig        `yaml:"http"`
	Neo4j       Neo4jConfig       `yaml:"neo4j"`
	LLM         LLMConfig         `yaml:"llm"`
	Processing  ProcessingConfig  `yaml:"processing"`
	Redis       RedisConfig       `yaml:"redis"`
	DB          DBConfig          `yaml:"db"`
	Otel        OtelConfig        `yaml:"otel"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
}

type LogConfig struct {
	Mode     string `yaml:"mode" validate:"omitempty,oneof=development production prod test"`
	Level    string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	HashSalt string `yaml:"hash_salt"`
}

type HTTPConfig struct {
	Addr              string   `yaml:"addr" validate:"required"`
	APIKey            string   `yaml:"api_key"`
	CORSOrigins       []string `yaml:"cors_origins"`
	ReadHeaderTimeout Duration `yaml:"read_header_timeout"`
	RequestTimeout    Duration `yaml:"request_timeout"`
	ShutdownTimeout   Duration `yaml:"shutdown_timeout"`
	MaxRequestBytes   int64    `yaml:"max_request_bytes" validate:"gt=0"`
}

type RetryConfig struct {
	MaxRetries   int      `yaml:"max_retries" validate:"gte=0"`
	InitialDelay Duration `yaml:"initial_delay"`
	MaxDelay     Duration `yaml:"max_delay"`
	Base         float64  `yaml:"base" validate:"gt=1"`
	Jitter       bool     `yaml:"jitter"`
}

func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxRetries:   r.MaxRetries,
		InitialDelay: r.InitialDelay.Duration,
		MaxDelay:     r.MaxDelay.Duration,
		Base:         r.Base,
		Jitter:       r.Jitter,
	}
}

type Neo4jConfig struct {
	URI      string `yaml:"uri" validate:"required,neo4juri"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`

	MaxPoolSize           int      `yaml:"max_pool_size" validate:"gt=0"`
	MaxConnectionLifetime Duration `yaml:"max_connection_lifetime"`
	AcquisitionTimeout    Duration `yaml:"acquisition_timeout"`
	ConnectTimeout        Duration `yaml:"connect_timeout"`
	ProbeTimeout          Duration `yaml:"probe_timeout"`
	HealthTimeout         Duration `yaml:"health_timeout"`

	ConnectRetry RetryConfig `yaml:"connect_retry"`
	VerifyRetry  RetryConfig `yaml:"verify_retry"`
}

type LLMConfig struct {
	APIKey          string   `yaml:"api_key"`
	BaseURL         string   `yaml:"base_url" validate:"required,url"`
	Model           string   `yaml:"model" validate:"required"`
	Temperature     float64  `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens       int      `yaml:"max_tokens" validate:"gt=0"`
	Timeout         Duration `yaml:"timeout"`
	MaxContentChars int      `yaml:"max_content_chars" validate:"gt=0"`

	Retry RetryConfig `yaml:"retry"`

	BreakerMinRequests  uint32   `yaml:"breaker_min_requests"`
	BreakerFailureRatio float64  `yaml:"breaker_failure_ratio" validate:"gte=0,lte=1"`
	BreakerOpenTimeout  Duration `yaml:"breaker_open_timeout"`
}

type ProcessingConfig struct {
	ConfidenceThreshold float64  `yaml:"confidence_threshold" validate:"gte=0,lte=1"`
	MaxEntities         int      `yaml:"max_entities" validate:"gt=0"`
	AliasMerge          string   `yaml:"alias_merge" validate:"oneof=keep_first union"`
	UpsertConcurrency   int      `yaml:"upsert_concurrency" validate:"gt=0,lte=64"`
	Timeout             Duration `yaml:"timeout"`
	SimilarLimit        int      `yaml:"similar_limit" validate:"gt=0"`
}

type RedisConfig struct {
	Addr         string   `yaml:"addr"`
	Password     string   `yaml:"password"`
	DB           int      `yaml:"db" validate:"gte=0"`
	CacheEnabled bool     `yaml:"cache_enabled"`
	CacheTTL     Duration `yaml:"cache_ttl"`
}

type DBConfig struct {
	Driver string `yaml:"driver" validate:"oneof=postgres sqlite"`
	DSN    string `yaml:"dsn" validate:"required"`
}

type OtelConfig struct {
	Enabled     bool              `yaml:"enabled"`
	ServiceName string            `yaml:"service_name"`
	Endpoint    string            `yaml:"endpoint"`
	Insecure    bool              `yaml:"insecure"`
	Headers     map[string]string `yaml:"headers"`
	SampleRatio float64           `yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

type DiagnosticsConfig struct {
	// ExtraTargets are host:port pairs probed alongside the database.
	ExtraTargets []string `yaml:"extra_targets" validate:"dive,hostname_port"`
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
