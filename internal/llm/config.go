package llm

import (
	"fmt"
)

const DefaultAPIURL = "https://api.openai.com/v1"

// Config holds the settings of an OpenAI-compatible chat endpoint
// (OpenAI, OpenRouter, a local gateway).
//
// Environment Variables:
// - LLM_API_KEY: API key for the provider (required)
// - LLM_API_URL: base URL (default: https://api.openai.com/v1)
// - LLM_MODEL: model name (default: gpt-4o-mini)
// - LLM_MAX_TOKENS: completion limit (default: 8000)
// - LLM_TEMPERATURE: sampling temperature (default: 0)
// - LLM_TIMEOUT: request timeout in seconds (default: 120)
// - LLM_SITE_URL: HTTP-Referer header (optional)
// - LLM_APP_NAME: X-Title header (optional)
type Config struct {
	APIKey      string  `json:"api_key"`
	APIURL      string  `json:"api_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Timeout     int     `json:"timeout"`
	SiteURL     string  `json:"site_url"`
	AppName     string  `json:"app_name"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	if c.APIURL == "" {
		return fmt.Errorf("API URL is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("max tokens must be greater than 0")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.Timeout < 1 {
		return fmt.Errorf("timeout must be greater than 0")
	}
	return nil
}

// Headers returns the request headers for the endpoint.
func (c *Config) Headers() map[string]string {
	headers := map[string]string{
		"Authorization": "Bearer " + c.APIKey,
		"Content-Type":  "application/json",
	}
	if c.SiteURL != "" {
		headers["HTTP-Referer"] = c.SiteURL
	}
	if c.AppName != "" {
		headers["X-Title"] = c.AppName
	}
	return headers
}
