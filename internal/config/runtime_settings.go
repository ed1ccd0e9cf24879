package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
	"golang.org/x/text/language"
)

const DefaultRuntimeSettingsFile = "/app/config/settings.json"

// RuntimeSettings are the defaults that can change without a restart.
type RuntimeSettings struct {
	LLMModel       string `json:"llm_model"`
	TargetLanguage string `json:"target_language"`
	BatchSize      int    `json:"batch_size"`
	Parallel       int    `json:"parallel"`
	PruneCronExpr  string `json:"prune_cron_expr"`
}

func RuntimeSettingsFilePath() string {
	return getEnvString("SETTINGS_FILE", DefaultRuntimeSettingsFile)
}

func (s RuntimeSettings) Validate() error {
	if strings.TrimSpace(s.LLMModel) == "" {
		return fmt.Errorf("llm_model is required")
	}
	if strings.TrimSpace(s.TargetLanguage) == "" {
		return fmt.Errorf("target_language is required")
	}
	if _, err := language.Parse(s.TargetLanguage); err != nil {
		return fmt.Errorf("invalid target_language: %w", err)
	}
	if s.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if s.Parallel <= 0 {
		return fmt.Errorf("parallel must be positive")
	}
	if strings.TrimSpace(s.PruneCronExpr) == "" {
		return fmt.Errorf("prune_cron_expr is required")
	}
	if _, err := cron.ParseStandard(s.PruneCronExpr); err != nil {
		return fmt.Errorf("invalid prune_cron_expr: %w", err)
	}
	return nil
}

func (c *Config) RuntimeSettings() RuntimeSettings {
	return RuntimeSettings{
		LLMModel:       c.LLM.Model,
		TargetLanguage: c.Translate.TargetLanguage.String(),
		BatchSize:      c.Translate.BatchSize,
		Parallel:       c.Translate.Parallel,
		PruneCronExpr:  c.Jobs.PruneCronExpr,
	}
}

// WithRuntimeSettings lets values from the settings file win over env.
func WithRuntimeSettings(settings RuntimeSettings) Option {
	return func(c *Config) {
		c.ApplyRuntimeSettings(settings)
	}
}

// ApplyRuntimeSettings copies every set field of settings into c.
func (c *Config) ApplyRuntimeSettings(settings RuntimeSettings) {
	if strings.TrimSpace(settings.LLMModel) != "" {
		c.LLM.Model = settings.LLMModel
	}
	if tag, err := language.Parse(settings.TargetLanguage); err == nil {
		c.Translate.TargetLanguage = tag
	}
	if settings.BatchSize > 0 {
		c.Translate.BatchSize = settings.BatchSize
	}
	if settings.Parallel > 0 {
		c.Translate.Parallel = settings.Parallel
	}
	if strings.TrimSpace(settings.PruneCronExpr) != "" {
		c.Jobs.PruneCronExpr = settings.PruneCronExpr
	}
}

func LoadRuntimeSettingsFile(path string) (RuntimeSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuntimeSettings{}, err
	}
	var settings RuntimeSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return RuntimeSettings{}, fmt.Errorf("invalid settings file: %w", err)
	}
	return settings, nil
}

func WriteRuntimeSettingsFile(path string, settings RuntimeSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	content, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	content = append(content, '\n')

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, content, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

type RuntimeSettingsStore struct {
	path string

	mu      sync.RWMutex
	current RuntimeSettings
}

func NewRuntimeSettingsStore(path string, initial RuntimeSettings) (*RuntimeSettingsStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("settings file path is required")
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &RuntimeSettingsStore{
		path:    path,
		current: initial,
	}, nil
}

func (s *RuntimeSettingsStore) GetRuntimeSettings() (RuntimeSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, nil
}

func (s *RuntimeSettingsStore) UpdateRuntimeSettings(next RuntimeSettings) (RuntimeSettings, error) {
	if err := next.Validate(); err != nil {
		return RuntimeSettings{}, err
	}
	if err := WriteRuntimeSettingsFile(s.path, next); err != nil {
		return RuntimeSettings{}, err
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	return next, nil
}
