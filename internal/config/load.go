package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/yungbote/newsgraph/internal/platform/envutil"
	"github.com/yungbote/newsgraph/internal/platform/neo4jdb"
)

func defaultConfig() *Config {
	return &Config{
		Environment: "local",
		Log:         LogConfig{Mode: "development", Level: "info"},
		HTTP: HTTPConfig{
			Addr:              ":8080",
			CORSOrigins:       []string{"*"},
			ReadHeaderTimeout: Duration{Duration: 10 * time.Second},
			RequestTimeout:    Duration{Duration: 300 * time.Second},
			ShutdownTimeout:   Duration{Duration: 15 * time.Second},
			MaxRequestBytes:   10 << 20,
		},
		Neo4j: Neo4jConfig{
			URI:                   "bolt://localhost:7687",
			User:                  "neo4j",
			Database:              "neo4j",
			MaxPoolSize:           50,
			MaxConnectionLifetime: Duration{Duration: 30 * time.Minute},
			AcquisitionTimeout:    Duration{Duration: 120 * time.Second},
			ConnectTimeout:        Duration{Duration: 60 * time.Second},
			ProbeTimeout:          Duration{Duration: 10 * time.Second},
			HealthTimeout:         Duration{Duration: 10 * time.Second},
			ConnectRetry: RetryConfig{
				MaxRetries:   5,
				InitialDelay: Duration{Duration: 2 * time.Second},
				MaxDelay:     Duration{Duration: 30 * time.Second},
				Base:         2,
				Jitter:       true,
			},
			VerifyRetry: RetryConfig{
				MaxRetries:   3,
				InitialDelay: Duration{Duration: time.Second},
				MaxDelay:     Duration{Duration: 10 * time.Second},
				Base:         2,
				Jitter:       true,
			},
		},
		LLM: LLMConfig{
			BaseURL:         "https://api.openai.com",
			Model:           "gpt-4-turbo",
			Temperature:     0.1,
			MaxTokens:       2000,
			Timeout:         Duration{Duration: 60 * time.Second},
			MaxContentChars: 3000,
			Retry: RetryConfig{
				MaxRetries:   3,
				InitialDelay: Duration{Duration: time.Second},
				MaxDelay:     Duration{Duration: 20 * time.Second},
				Base:         2,
				Jitter:       true,
			},
			BreakerMinRequests:  5,
			BreakerFailureRatio: 0.6,
			BreakerOpenTimeout:  Duration{Duration: 30 * time.Second},
		},
		Processing: ProcessingConfig{
			ConfidenceThreshold: 0.7,
			MaxEntities:         100,
			AliasMerge:          "keep_first",
			UpsertConcurrency:   4,
			Timeout:             Duration{Duration: 300 * time.Second},
			SimilarLimit:        10,
		},
		Redis: RedisConfig{
			CacheEnabled: true,
			CacheTTL:     Duration{Duration: 24 * time.Hour},
		},
		DB: DBConfig{Driver: "sqlite", DSN: "file:newsgraph.db"},
		Otel: OtelConfig{
			ServiceName: "newsgraph",
			SampleRatio: 0.1,
		},
	}
}

// Load reads .env files, an optional YAML file, then environment overrides, and validates the result.
func Load() (*Config, error) {
	loadDotEnv()

	cfg := defaultConfig()
	if path := configPath(); path != "" {
		if err := loadYAML(path, cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)
	normalize(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv never overrides variables already present in the process environment.
func loadDotEnv() {
	env := strings.ToLower(envutil.String("ENVIRONMENT", "local"))
	for _, f := range []string{".env." + env, ".env"} {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
}

func configPath() string {
	if p := envutil.String("NEWSGRAPH_CONFIG_PATH", ""); p != "" {
		return p
	}
	if wd, err := os.Getwd(); err == nil {
		p := filepath.Join(wd, "config", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func loadYAML(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Environment = envutil.String("ENVIRONMENT", cfg.Environment)
	cfg.Log.Mode = envutil.String("LOG_MODE", cfg.Log.Mode)
	cfg.Log.Level = envutil.String("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.HashSalt = envutil.String("LOG_HASH_SALT", cfg.Log.HashSalt)

	if port := envutil.String("PORT", ""); port != "" {
		cfg.HTTP.Addr = ":" + port
	}
	cfg.HTTP.Addr = envutil.String("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.HTTP.APIKey = envutil.String("API_KEY", cfg.HTTP.APIKey)
	cfg.HTTP.CORSOrigins = envutil.List("CORS_ORIGINS", cfg.HTTP.CORSOrigins)
	cfg.HTTP.RequestTimeout.Duration = envutil.Duration("HTTP_REQUEST_TIMEOUT", cfg.HTTP.RequestTimeout.Duration)
	cfg.HTTP.ShutdownTimeout.Duration = envutil.Duration("HTTP_SHUTDOWN_TIMEOUT", cfg.HTTP.ShutdownTimeout.Duration)

	n := &cfg.Neo4j
	n.URI = envutil.String("NEO4J_URI", n.URI)
	n.User = envutil.String("NEO4J_USER", n.User)
	n.Password = envutil.String("NEO4J_PASSWORD", n.Password)
	n.Database = envutil.String("NEO4J_DATABASE", n.Database)
	n.MaxPoolSize = envutil.Int("NEO4J_MAX_POOL_SIZE", n.MaxPoolSize)
	n.MaxConnectionLifetime.Duration = envutil.Duration("NEO4J_MAX_CONNECTION_LIFETIME", n.MaxConnectionLifetime.Duration)
	n.AcquisitionTimeout.Duration = envutil.Duration("NEO4J_ACQUISITION_TIMEOUT", n.AcquisitionTimeout.Duration)
	n.ConnectTimeout.Duration = envutil.Duration("NEO4J_TIMEOUT_SECONDS", n.ConnectTimeout.Duration)
	n.ProbeTimeout.Duration = envutil.Duration("NEO4J_PROBE_TIMEOUT", n.ProbeTimeout.Duration)
	n.ConnectRetry.MaxRetries = envutil.Int("NEO4J_CONNECT_MAX_RETRIES", n.ConnectRetry.MaxRetries)
	n.VerifyRetry.MaxRetries = envutil.Int("NEO4J_VERIFY_MAX_RETRIES", n.VerifyRetry.MaxRetries)

	l := &cfg.LLM
	l.APIKey = envutil.String("OPENAI_API_KEY", l.APIKey)
	l.BaseURL = envutil.String("OPENAI_BASE_URL", l.BaseURL)
	l.Model = envutil.String("LLM_MODEL", l.Model)
	l.Temperature = envutil.Float("LLM_TEMPERATURE", l.Temperature)
	l.MaxTokens = envutil.Int("LLM_MAX_TOKENS", l.MaxTokens)
	l.Timeout.Duration = envutil.Duration("LLM_TIMEOUT", l.Timeout.Duration)
	l.MaxContentChars = envutil.Int("LLM_MAX_CONTENT_CHARS", l.MaxContentChars)

	p := &cfg.Processing
	p.ConfidenceThreshold = envutil.Float("ENTITY_CONFIDENCE_THRESHOLD", p.ConfidenceThreshold)
	p.MaxEntities = envutil.Int("MAX_ENTITIES_PER_NEWSLETTER", p.MaxEntities)
	p.AliasMerge = envutil.String("ALIAS_MERGE_POLICY", p.AliasMerge)
	p.UpsertConcurrency = envutil.Int("UPSERT_CONCURRENCY", p.UpsertConcurrency)
	p.Timeout.Duration = envutil.Duration("PROCESSING_TIMEOUT", p.Timeout.Duration)

	cfg.Redis.Addr = envutil.String("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = envutil.String("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = envutil.Int("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.CacheEnabled = envutil.Bool("ENABLE_ENTITY_CACHING", cfg.Redis.CacheEnabled)
	cfg.Redis.CacheTTL.Duration = envutil.Duration("ENTITY_CACHE_TTL", cfg.Redis.CacheTTL.Duration)

	cfg.DB.Driver = envutil.String("DB_DRIVER", cfg.DB.Driver)
	cfg.DB.DSN = envutil.String("DB_DSN", cfg.DB.DSN)

	cfg.Otel.Enabled = envutil.Bool("OTEL_ENABLED", cfg.Otel.Enabled)
	cfg.Otel.Endpoint = envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Otel.Endpoint)
	cfg.Otel.Insecure = envutil.Bool("OTEL_EXPORTER_OTLP_INSECURE", cfg.Otel.Insecure)
	cfg.Otel.SampleRatio = envutil.Float("OTEL_SAMPLER_RATIO", cfg.Otel.SampleRatio)
	cfg.Otel.ServiceName = envutil.String("OTEL_SERVICE_NAME", cfg.Otel.ServiceName)

	cfg.Diagnostics.ExtraTargets = envutil.List("DIAGNOSTIC_TARGETS", cfg.Diagnostics.ExtraTargets)
}

func normalize(cfg *Config) {
	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Processing.AliasMerge = strings.ToLower(strings.TrimSpace(cfg.Processing.AliasMerge))
	cfg.DB.Driver = strings.ToLower(strings.TrimSpace(cfg.DB.Driver))
	cfg.LLM.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.LLM.BaseURL), "/")
	if cfg.Environment == "test" {
		cfg.Log.Mode = "test"
	}
	if cfg.Environment == "production" && envutil.String("LOG_MODE", "") == "" {
		cfg.Log.Mode = "production"
	}
	// Wildcard CORS is only a convenience outside production.
	if cfg.Environment == "production" && len(cfg.HTTP.CORSOrigins) == 1 && cfg.HTTP.CORSOrigins[0] == "*" &&
		envutil.String("CORS_ORIGINS", "") == "" {
		cfg.HTTP.CORSOrigins = nil
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("neo4juri", func(fl validator.FieldLevel) bool {
		_, err := neo4jdb.ParseTarget(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks field constraints plus rules that span sections.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil")
	}
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	if cfg.IsProduction() && strings.TrimSpace(cfg.HTTP.APIKey) == "" {
		return errors.New("config: API_KEY is required in production")
	}
	for _, r := range []struct {
		name string
		rc   RetryConfig
	}{{"neo4j.connect_retry", cfg.Neo4j.ConnectRetry}, {"neo4j.verify_retry", cfg.Neo4j.VerifyRetry}, {"llm.retry", cfg.LLM.Retry}} {
		if r.rc.MaxDelay.Duration < r.rc.InitialDelay.Duration {
			return fmt.Errorf("config: %s max_delay must be >= initial_delay", r.name)
		}
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, formatFieldError(e))
	}
	return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
}

func formatFieldError(e validator.FieldError) string {
	field := strings.TrimPrefix(e.Namespace(), "Config.")
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "gt", "gte", "lte":
		return fmt.Sprintf("%s must be %s %s", field, e.Tag(), e.Param())
	case "neo4juri":
		return fmt.Sprintf("%s must use one of neo4j, neo4j+s, neo4j+ssc, bolt, bolt+s, bolt+ssc", field)
	case "url":
		return fmt.Sprintf("%s must be a valid url", field)
	default:
		return fmt.Sprintf("%s is invalid (%s)", field, e.Tag())
	}
}

// Neo4jClientConfig maps the neo4j section onto the client's config.
func (c *Config) Neo4jClientConfig() neo4jdb.Config {
	n := c.Neo4j
	return neo4jdb.Config{
		URI:                          n.URI,
		User:                         n.User,
		Password:                     n.Password,
		Database:                     n.Database,
		MaxConnectionPoolSize:        n.MaxPoolSize,
		MaxConnectionLifetime:        n.MaxConnectionLifetime.Duration,
		ConnectionAcquisitionTimeout: n.AcquisitionTimeout.Duration,
		SocketConnectTimeout:         n.ConnectTimeout.Duration,
		ProbeTimeout:                 n.ProbeTimeout.Duration,
		HealthTimeout:                n.HealthTimeout.Duration,
		ConnectRetry:                 n.ConnectRetry.Policy(),
		VerifyRetry:                  n.VerifyRetry.Policy(),
	}
}
