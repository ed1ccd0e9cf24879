package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fabio-bix/json-transcribe/pkg/log"
	"golang.org/x/text/language"
)

// Config holds all application configuration, read from environment
// variables with defaults.
//
// LLM:
// - LLM_PROVIDER: "openai" or "compatible" (default: openai)
// - LLM_API_KEY: API key (required)
// - LLM_API_URL: API endpoint (default: https://api.openai.com/v1)
// - LLM_MODEL: default model (default: gpt-4o-mini)
// - LLM_MAX_TOKENS, LLM_TEMPERATURE, LLM_TIMEOUT (seconds)
// - LLM_SITE_URL, LLM_APP_NAME: optional gateway headers
// - LLM_RATE_LIMIT: requests per second, 0 disables (default: 0)
// - LLM_RATE_BURST (default: 1)
//
// Translate:
// - TARGET_LANGUAGE (default: pt), BATCH_SIZE (50), PARALLEL (3)
// - FAILURE_SENTINEL (default: NEEDS_MANUAL_REVIEW)
// - CHECKPOINT_EVERY (5), OVERSIZE_RATIO (3.0), RETRY_OVERSIZE_RATIO (2.5), SHORT_STRING_MAX (20)
//
// Cache: CACHE_BACKEND (file, sqlite or none), CACHE_DIR (default: $DATA_DIR/cache)
//
// Jobs: JOB_WORKERS (2), JOB_MAX (1000), JOB_RETENTION_HOURS (24), JOB_PRUNE_CRON (@every 10m)
//
// System: HTTP_ADDR (:8080), DATA_DIR (/app/data), OUTPUT_DIR ($DATA_DIR/output),
// PRICING_FILE, LOG_LEVEL, SETTINGS_FILE
type Config struct {
	LLM       LLMConfig       `json:"llm"`
	Translate TranslateConfig `json:"translate"`
	Cache     CacheConfig     `json:"cache"`
	Jobs      JobsConfig      `json:"jobs"`
	HTTP      HTTPConfig      `json:"http"`
	System    SystemConfig    `json:"system"`
}

const (
	ProviderOpenAI     = "openai"
	ProviderCompatible = "compatible"

	CacheFile   = "file"
	CacheSQLite = "sqlite"
	CacheNone   = "none"
)

type LLMConfig struct {
	Provider    string  `json:"provider"`
	APIKey      string  `json:"-"`
	APIURL      string  `json:"api_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Timeout     int     `json:"timeout"`
	SiteURL     string  `json:"site_url"`
	AppName     string  `json:"app_name"`
	RateLimit   float64 `json:"rate_limit"`
	RateBurst   int     `json:"rate_burst"`
}

func (c LLMConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

type TranslateConfig struct {
	TargetLanguage     language.Tag `json:"target_language"`
	BatchSize          int          `json:"batch_size"`
	Parallel           int          `json:"parallel"`
	FailureSentinel    string       `json:"failure_sentinel"`
	CheckpointEvery    int          `json:"checkpoint_every"`
	OversizeRatio      float64      `json:"oversize_ratio"`
	RetryOversizeRatio float64      `json:"retry_oversize_ratio"`
	ShortStringMax     int          `json:"short_string_max"`
}

type CacheConfig struct {
	Backend string `json:"backend"`
	Dir     string `json:"dir"`
}

// DBPath is where the sqlite cache backend keeps its database.
func (c CacheConfig) DBPath() string {
	return filepath.Join(c.Dir, "translation_cache.db")
}

type JobsConfig struct {
	Workers        int    `json:"workers"`
	MaxJobs        int    `json:"max_jobs"`
	RetentionHours int    `json:"retention_hours"`
	PruneCronExpr  string `json:"prune_cron_expr"`
}

func (c JobsConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

type SystemConfig struct {
	DataDir     string `json:"data_dir"`
	OutputDir   string `json:"output_dir"`
	PricingFile string `json:"pricing_file"`
	LogLevel    string `json:"log_level"`
}

type Option func(*Config)

// WithLLMAPIKey overrides the API key, mainly for tests and the CLI.
func WithLLMAPIKey(key string) Option {
	return func(c *Config) {
		c.LLM.APIKey = key
	}
}

// NewFromEnv creates a Config from environment variables and options.
func NewFromEnv(opts ...Option) (*Config, error) {
	dataDir := getEnvString("DATA_DIR", "/app/data")

	config := &Config{
		LLM: LLMConfig{
			Provider:    strings.ToLower(getEnvString("LLM_PROVIDER", ProviderOpenAI)),
			APIKey:      getEnvString("LLM_API_KEY", ""),
			APIURL:      getEnvString("LLM_API_URL", "https://api.openai.com/v1"),
			Model:       getEnvString("LLM_MODEL", "gpt-4o-mini"),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 8000),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0),
			Timeout:     getEnvInt("LLM_TIMEOUT", 120),
			SiteURL:     getEnvString("LLM_SITE_URL", ""),
			AppName:     getEnvString("LLM_APP_NAME", ""),
			RateLimit:   getEnvFloat("LLM_RATE_LIMIT", 0),
			RateBurst:   getEnvInt("LLM_RATE_BURST", 1),
		},
		Translate: TranslateConfig{
			TargetLanguage:     getEnvLanguage("TARGET_LANGUAGE", language.Portuguese),
			BatchSize:          getEnvInt("BATCH_SIZE", 50),
			Parallel:           getEnvInt("PARALLEL", 3),
			FailureSentinel:    getEnvString("FAILURE_SENTINEL", "NEEDS_MANUAL_REVIEW"),
			CheckpointEvery:    getEnvInt("CHECKPOINT_EVERY", 5),
			OversizeRatio:      getEnvFloat("OVERSIZE_RATIO", 3.0),
			RetryOversizeRatio: getEnvFloat("RETRY_OVERSIZE_RATIO", 2.5),
			ShortStringMax:     getEnvInt("SHORT_STRING_MAX", 20),
		},
		Cache: CacheConfig{
			Backend: strings.ToLower(getEnvString("CACHE_BACKEND", CacheFile)),
			Dir:     getEnvString("CACHE_DIR", filepath.Join(dataDir, "cache")),
		},
		Jobs: JobsConfig{
			Workers:        getEnvInt("JOB_WORKERS", 2),
			MaxJobs:        getEnvInt("JOB_MAX", 1000),
			RetentionHours: getEnvInt("JOB_RETENTION_HOURS", 24),
			PruneCronExpr:  getEnvString("JOB_PRUNE_CRON", "@every 10m"),
		},
		HTTP: HTTPConfig{
			Addr: getEnvString("HTTP_ADDR", ":8080"),
		},
		System: SystemConfig{
			DataDir:     dataDir,
			OutputDir:   getEnvString("OUTPUT_DIR", filepath.Join(dataDir, "output")),
			PricingFile: getEnvString("PRICING_FILE", ""),
			LogLevel:    getEnvString("LOG_LEVEL", "info"),
		},
	}

	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Debug("Config: %+v", *config)
	return config, nil
}

func (c *Config) validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderCompatible:
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLM.Provider)
	}
	switch c.Cache.Backend {
	case CacheFile, CacheSQLite, CacheNone:
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q", c.Cache.Backend)
	}
	if c.Translate.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive")
	}
	if c.Translate.Parallel <= 0 {
		return fmt.Errorf("PARALLEL must be positive")
	}
	if strings.TrimSpace(c.Translate.FailureSentinel) == "" {
		return fmt.Errorf("FAILURE_SENTINEL must not be empty")
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvLanguage(key string, defaultValue language.Tag) language.Tag {
	if value := os.Getenv(key); value != "" {
		if tag, err := language.Parse(value); err == nil {
			return tag
		}
		log.Warn("Ignoring invalid %s=%q", key, value)
	}
	return defaultValue
}
