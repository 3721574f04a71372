// Package config provides configuration management for mermaidlive using
// Viper for loading from files, environment variables and command-line
// flags.
//
// Configuration is read from .mermaidlive.yml (or the file named by --config
// or MERMAIDLIVE_CONFIG_FILE) and every key can be overridden through an
// environment variable with the MERMAIDLIVE_ prefix, for example
// MERMAIDLIVE_PREVIEW_DEBOUNCE_INTERVAL=750ms.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conneroisu/mermaidlive/internal/cache"
	"github.com/conneroisu/mermaidlive/internal/logging"
	"github.com/conneroisu/mermaidlive/internal/preview"
	"github.com/conneroisu/mermaidlive/internal/renderer"
	"github.com/conneroisu/mermaidlive/internal/validation"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "MERMAIDLIVE"

// ConfigFileName is the base name of the project config file.
const ConfigFileName = ".mermaidlive"

type Config struct {
	Preview    PreviewConfig  `mapstructure:"preview" yaml:"preview"`
	Cache      CacheConfig    `mapstructure:"cache" yaml:"cache"`
	Renderer   RendererConfig `mapstructure:"renderer" yaml:"renderer"`
	Server     ServerConfig   `mapstructure:"server" yaml:"server"`
	Log        LogConfig      `mapstructure:"log" yaml:"log"`
	SourceFile string         `mapstructure:"-" yaml:"-"` // CLI argument, not from config file
}

type PreviewConfig struct {
	DebounceInterval time.Duration `mapstructure:"debounce_interval" yaml:"debounce_interval"`
	RenderTimeout    time.Duration `mapstructure:"render_timeout" yaml:"render_timeout"`
	ClearOnEmpty     bool          `mapstructure:"clear_on_empty" yaml:"clear_on_empty"`
	Keywords         []string      `mapstructure:"keywords" yaml:"keywords"`
}

type CacheConfig struct {
	Eviction   string `mapstructure:"eviction" yaml:"eviction"`
	MaxEntries int    `mapstructure:"max_entries" yaml:"max_entries"`
	MaxBytes   int64  `mapstructure:"max_bytes" yaml:"max_bytes"`
}

type RendererConfig struct {
	Command         string `mapstructure:"command" yaml:"command"`
	Theme           string `mapstructure:"theme" yaml:"theme"`
	Format          string `mapstructure:"format" yaml:"format"`
	Width           int    `mapstructure:"width" yaml:"width"`
	Height          int    `mapstructure:"height" yaml:"height"`
	Background      string `mapstructure:"background" yaml:"background"`
	PuppeteerConfig string `mapstructure:"puppeteer_config" yaml:"puppeteer_config"`
	WorkDir         string `mapstructure:"work_dir" yaml:"work_dir"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port" yaml:"port"`
	Host           string   `mapstructure:"host" yaml:"host"`
	Open           bool     `mapstructure:"open" yaml:"open"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Defaults lists every key with its default value.
var Defaults = map[string]interface{}{
	"preview.debounce_interval": preview.DefaultDebounceInterval,
	"preview.render_timeout":    15 * time.Second,
	"preview.clear_on_empty":    true,
	"preview.keywords":          preview.DefaultKeywords,
	"cache.eviction":            string(cache.PolicyNone),
	"cache.max_entries":         128,
	"cache.max_bytes":           int64(0),
	"renderer.command":          "",
	"renderer.theme":            "default",
	"renderer.format":           string(renderer.FormatSVG),
	"renderer.width":            0,
	"renderer.height":           0,
	"renderer.background":       "transparent",
	"renderer.puppeteer_config": "",
	"renderer.work_dir":         "",
	"server.port":               8080,
	"server.host":               "localhost",
	"server.open":               true,
	"server.allowed_origins":    []string{},
	"log.level":                 "info",
	"log.format":                "text",
}

// SetDefaults registers Defaults on the global viper instance.
func SetDefaults() {
	for key, value := range Defaults {
		viper.SetDefault(key, value)
	}
}

// BindEnv makes every key overridable through MERMAIDLIVE_ variables.
func BindEnv() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// Load reads the global viper state into a validated Config.
func Load() (*Config, error) {
	config, err := Decode()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// Decode reads the global viper state without validating it, for callers
// such as `doctor` that report problems instead of failing on them.
func Decode() (*Config, error) {
	SetDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Environment lists arrive as "a, b"; drop the padding.
	config.Preview.Keywords = trimList(config.Preview.Keywords)
	config.Server.AllowedOrigins = trimList(config.Server.AllowedOrigins)

	config.Cache.Eviction = strings.ToLower(strings.TrimSpace(config.Cache.Eviction))
	config.Renderer.Format = strings.ToLower(strings.TrimSpace(config.Renderer.Format))

	return &config, nil
}

func trimList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// RenderOptions converts the renderer section into render options.
func (c *Config) RenderOptions() renderer.Options {
	format, _ := renderer.ParseFormat(c.Renderer.Format)
	return renderer.Options{
		Theme:      c.Renderer.Theme,
		Format:     format,
		Width:      c.Renderer.Width,
		Height:     c.Renderer.Height,
		Background: c.Renderer.Background,
	}
}

// PreviewOptions converts the preview section into pipeline options.
func (c *Config) PreviewOptions() preview.Options {
	return preview.Options{
		DebounceInterval: c.Preview.DebounceInterval,
		RenderTimeout:    c.Preview.RenderTimeout,
		ClearOnEmpty:     c.Preview.ClearOnEmpty,
		Keywords:         c.Preview.Keywords,
		Render:           c.RenderOptions(),
	}
}

// CacheOptions converts the cache section into store options.
func (c *Config) CacheOptions() cache.Options {
	policy, _ := cache.ParsePolicy(c.Cache.Eviction)
	return cache.Options{
		Policy:     policy,
		MaxEntries: c.Cache.MaxEntries,
		MaxBytes:   c.Cache.MaxBytes,
	}
}

// MmdcConfig converts the renderer section into mmdc settings.
func (c *Config) MmdcConfig() renderer.MmdcConfig {
	return renderer.MmdcConfig{
		Command:         c.Renderer.Command,
		WorkDir:         c.Renderer.WorkDir,
		PuppeteerConfig: c.Renderer.PuppeteerConfig,
	}
}

// LoggerConfig converts the log section into logger settings.
func (c *Config) LoggerConfig() *logging.LoggerConfig {
	level, _ := logging.ParseLevel(c.Log.Level)
	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.Format = c.Log.Format
	return cfg
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validatePreviewConfig(&config.Preview); err != nil {
		return fmt.Errorf("preview config: %w", err)
	}

	if err := validateCacheConfig(&config.Cache); err != nil {
		return fmt.Errorf("cache config: %w", err)
	}

	if err := validateRendererConfig(&config.Renderer); err != nil {
		return fmt.Errorf("renderer config: %w", err)
	}

	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := validateLogConfig(&config.Log); err != nil {
		return fmt.Errorf("log config: %w", err)
	}

	return nil
}

func validatePreviewConfig(config *PreviewConfig) error {
	if config.DebounceInterval <= 0 {
		return fmt.Errorf("debounce_interval must be positive, got %s", config.DebounceInterval)
	}
	if config.RenderTimeout < 0 {
		return fmt.Errorf("render_timeout must not be negative, got %s", config.RenderTimeout)
	}
	for _, kw := range config.Keywords {
		if strings.TrimSpace(kw) == "" || strings.ContainsAny(kw, " \t\n") {
			return fmt.Errorf("invalid keyword %q", kw)
		}
	}
	return nil
}

func validateCacheConfig(config *CacheConfig) error {
	policy, err := cache.ParsePolicy(config.Eviction)
	if err != nil {
		return err
	}
	if config.MaxEntries < 0 || config.MaxBytes < 0 {
		return fmt.Errorf("max_entries and max_bytes must not be negative")
	}
	if policy == cache.PolicyLRU && config.MaxEntries == 0 && config.MaxBytes == 0 {
		return fmt.Errorf("lru eviction needs max_entries or max_bytes")
	}
	return nil
}

func validateRendererConfig(config *RendererConfig) error {
	opts := renderer.Options{
		Theme:      config.Theme,
		Format:     renderer.Format(config.Format),
		Width:      config.Width,
		Height:     config.Height,
		Background: config.Background,
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	if config.Command != "" {
		if err := validation.ValidatePath(config.Command); err != nil {
			return fmt.Errorf("command: %w", err)
		}
	}
	if config.PuppeteerConfig != "" {
		if err := validation.ValidateArgument(config.PuppeteerConfig); err != nil {
			return fmt.Errorf("puppeteer_config: %w", err)
		}
	}
	if config.WorkDir != "" {
		if err := validation.ValidatePath(config.WorkDir); err != nil {
			return fmt.Errorf("work_dir: %w", err)
		}
	}
	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// Validate port range (allow 0 for system-assigned ports in testing)
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if config.Host != "" {
		if err := validateHostname(config.Host); err != nil {
			return fmt.Errorf("host: %w", err)
		}
	}

	return nil
}

func validateLogConfig(config *LogConfig) error {
	if _, err := logging.ParseLevel(config.Level); err != nil {
		return err
	}
	switch config.Format {
	case "", "text", "json":
		return nil
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", config.Format)
	}
}
