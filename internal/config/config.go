package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all runtime configuration.
type Config struct {
	// HTTP
	ListenAddr string `koanf:"listen_addr"`

	// Upstream APIs
	AttomAPIKey    string `koanf:"attom_api_key"`
	AIMode         string `koanf:"ai_mode"` // "enabled" | "disabled"
	GeminiAPIKey   string `koanf:"gemini_api_key"`
	AIInstructions string `koanf:"ai_instructions"`

	// Security gate
	EnableCaptcha      bool    `koanf:"enable_captcha"`
	RecaptchaSiteKey   string  `koanf:"recaptcha_site_key"`
	RecaptchaSecretKey string  `koanf:"recaptcha_secret_key"`
	CaptchaThreshold   float64 `koanf:"captcha_threshold"`
	AdvancedProtection bool    `koanf:"enable_advanced_protection"`

	RateLimitMaxMinute int64         `koanf:"rate_limit_max_minute"`
	RateLimitMaxHour   int64         `koanf:"rate_limit_max_hour"`
	RateLimitMaxDay    int64         `koanf:"rate_limit_max_day"`
	MinFormTime        time.Duration `koanf:"min_form_time"`
	MaxFormTime        time.Duration `koanf:"max_form_time"`

	// State
	DataDir   string `koanf:"data_dir"`
	RedisAddr string `koanf:"redis_addr"` // "" = in-process transient store

	// Admin / operational
	AdminAPIKey    string        `koanf:"admin_api_key"`
	EventRetention time.Duration `koanf:"event_retention"`
	LogLevel       string        `koanf:"log_level"`
	LogFormat      string        `koanf:"log_format"`
}

// defaults is the lowest-priority layer.
var defaults = map[string]any{
	"listen_addr":                ":8080",
	"attom_api_key":              "",
	"ai_mode":                    "disabled",
	"gemini_api_key":             "",
	"ai_instructions":            "",
	"enable_captcha":             false,
	"recaptcha_site_key":         "",
	"recaptcha_secret_key":       "",
	"captcha_threshold":          0.5,
	"enable_advanced_protection": true,
	"rate_limit_max_minute":      3,
	"rate_limit_max_hour":        10,
	"rate_limit_max_day":         50,
	"min_form_time":              3 * time.Second,
	"max_form_time":              time.Hour,
	"data_dir":                   "/data",
	"redis_addr":                 "",
	"admin_api_key":              "",
	"event_retention":            30 * 24 * time.Hour,
	"log_level":                  "info",
	"log_format":                 "json",
}

// Load reads configuration from (lowest → highest priority):
//  1. Built-in defaults
//  2. YAML file at CONFIG_FILE env var path (if set)
//  3. Environment variables (always highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults.
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	// Layer 2: optional YAML file.
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %s: %w", cfgFile, err)
		}
	}

	// Layer 3: environment variables.
	// Transform: "ATTOM_API_KEY" → "attom_api_key".
	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	// Normalise string fields.
	cfg.LogLevel = strings.TrimSpace(strings.ToLower(cfg.LogLevel))
	cfg.LogFormat = strings.TrimSpace(strings.ToLower(cfg.LogFormat))
	cfg.AIMode = strings.TrimSpace(strings.ToLower(cfg.AIMode))

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	var errs []string

	if c.AttomAPIKey == "" {
		errs = append(errs, "ATTOM_API_KEY is required (get your key at: https://api.developer.attomdata.com)")
	}
	if c.EnableCaptcha && (c.RecaptchaSiteKey == "" || c.RecaptchaSecretKey == "") {
		errs = append(errs, "RECAPTCHA_SITE_KEY and RECAPTCHA_SECRET_KEY are required when ENABLE_CAPTCHA is true")
	}
	if c.CaptchaThreshold < 0 || c.CaptchaThreshold > 1 {
		errs = append(errs, "CAPTCHA_THRESHOLD must be between 0 and 1")
	}
	if c.AIMode != "enabled" && c.AIMode != "disabled" {
		errs = append(errs, `AI_MODE must be "enabled" or "disabled"`)
	}
	if c.AIMode == "enabled" && c.GeminiAPIKey == "" {
		errs = append(errs, "GEMINI_API_KEY is required when AI_MODE is enabled")
	}
	if c.RateLimitMaxMinute < 1 || c.RateLimitMaxHour < 1 || c.RateLimitMaxDay < 1 {
		errs = append(errs, "RATE_LIMIT_MAX_* values must be at least 1")
	}
	if c.MinFormTime < 0 || c.MaxFormTime <= c.MinFormTime {
		errs = append(errs, "MAX_FORM_TIME must be greater than MIN_FORM_TIME")
	}
	if c.EventRetention < time.Hour {
		errs = append(errs, "EVENT_RETENTION must be at least 1h")
	}

	// DataDir path sanitisation: reject traversal sequences and null bytes.
	if strings.Contains(c.DataDir, "..") {
		errs = append(errs, `DATA_DIR must not contain ".." (directory traversal)`)
	}
	if strings.ContainsRune(c.DataDir, 0) {
		errs = append(errs, "DATA_DIR must not contain null bytes")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%d configuration error(s):\n  - %s", len(errs), strings.Join(errs, "\n  - "))
	}
	return nil
}
