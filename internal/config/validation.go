package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/conneroisu/mermaidlive/internal/cache"
	"github.com/conneroisu/mermaidlive/internal/validation"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string      `yaml:"field"`
	Value       interface{} `yaml:"value,omitempty"`
	Message     string      `yaml:"message"`
	Suggestions []string    `yaml:"suggestions,omitempty"`
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Valid    bool              `yaml:"valid"`
	Errors   []ValidationError `yaml:"errors"`
	Warnings []ValidationError `yaml:"warnings"`
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	write := func(title string, issues []ValidationError) {
		builder.WriteString(title + ":\n")
		for _, issue := range issues {
			builder.WriteString(fmt.Sprintf("  - %s: %s\n", issue.Field, issue.Message))
			for _, suggestion := range issue.Suggestions {
				builder.WriteString(fmt.Sprintf("    hint: %s\n", suggestion))
			}
		}
	}

	if vr.HasErrors() {
		write("Validation errors", vr.Errors)
	}
	if vr.HasWarnings() {
		if vr.HasErrors() {
			builder.WriteString("\n")
		}
		write("Validation warnings", vr.Warnings)
	}

	return builder.String()
}

func (vr *ValidationResult) addError(field string, value interface{}, message string, suggestions ...string) {
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Value: value, Message: message, Suggestions: suggestions})
}

func (vr *ValidationResult) addWarning(field string, value interface{}, message string, suggestions ...string) {
	vr.Warnings = append(vr.Warnings, ValidationError{Field: field, Value: value, Message: message, Suggestions: suggestions})
}

// ValidateConfigWithDetails performs comprehensive validation with detailed
// feedback. Unlike Load it reports every problem and adds warnings for
// settings that are legal but unlikely to be intended.
func ValidateConfigWithDetails(config *Config) *ValidationResult {
	result := &ValidationResult{
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	validatePreviewConfigDetails(&config.Preview, result)
	validateCacheConfigDetails(&config.Cache, result)
	validateRendererConfigDetails(&config.Renderer, result)
	validateServerConfigDetails(&config.Server, result)

	if err := validateLogConfig(&config.Log); err != nil {
		result.addError("log", config.Log, err.Error(),
			"Levels: debug, info, warn, error",
			"Formats: text, json",
		)
	}

	result.Valid = !result.HasErrors()

	return result
}

func validatePreviewConfigDetails(config *PreviewConfig, result *ValidationResult) {
	switch {
	case config.DebounceInterval <= 0:
		result.addError("preview.debounce_interval", config.DebounceInterval.String(),
			"debounce interval must be positive",
			"500ms to 1s keeps typing responsive without rendering every keystroke",
		)
	case config.DebounceInterval < 100*time.Millisecond:
		result.addWarning("preview.debounce_interval", config.DebounceInterval.String(),
			"very short debounce interval renders on almost every keystroke",
			"Try 500ms",
		)
	case config.DebounceInterval > 5*time.Second:
		result.addWarning("preview.debounce_interval", config.DebounceInterval.String(),
			"long debounce interval makes the preview feel unresponsive",
		)
	}

	if config.RenderTimeout < 0 {
		result.addError("preview.render_timeout", config.RenderTimeout.String(),
			"render timeout must not be negative",
			"Use 0 to disable the timeout",
		)
	} else if config.RenderTimeout == 0 {
		result.addWarning("preview.render_timeout", "0",
			"renders are never timed out; a hung mmdc keeps the preview in rendering",
			"15s is a safe bound for large diagrams",
		)
	}

	if len(config.Keywords) == 0 {
		result.addWarning("preview.keywords", nil,
			"no keywords configured; the built-in set is used",
		)
	}
	for _, kw := range config.Keywords {
		if strings.TrimSpace(kw) == "" || strings.ContainsAny(kw, " \t\n") {
			result.addError("preview.keywords", kw, "keywords must be single words")
		}
	}
}

func validateCacheConfigDetails(config *CacheConfig, result *ValidationResult) {
	policy, err := cache.ParsePolicy(config.Eviction)
	if err != nil {
		result.addError("cache.eviction", config.Eviction, err.Error(), "Use none or lru")
		return
	}

	if config.MaxEntries < 0 || config.MaxBytes < 0 {
		result.addError("cache", config, "max_entries and max_bytes must not be negative")
	}

	switch policy {
	case cache.PolicyLRU:
		if config.MaxEntries == 0 && config.MaxBytes == 0 {
			result.addError("cache.eviction", config.Eviction,
				"lru eviction needs a bound",
				"Set cache.max_entries (for example 128) or cache.max_bytes",
			)
		}
	case cache.PolicyNone:
		result.addWarning("cache.eviction", "none",
			"the artifact cache grows for the whole session",
			"Set cache.eviction to lru for long editing sessions",
		)
	}
}

func validateRendererConfigDetails(config *RendererConfig, result *ValidationResult) {
	if err := validateRendererConfig(config); err != nil {
		result.addError("renderer", config, err.Error(),
			"Themes: default, forest, dark, neutral",
			"Formats: svg, png, pdf",
		)
	}

	// A bare command name is resolved through PATH at render time.
	if strings.ContainsRune(config.Command, os.PathSeparator) && !pathExists(config.Command) {
		result.addError("renderer.command", config.Command,
			"mmdc executable does not exist",
			"Install with: npm install -g @mermaid-js/mermaid-cli",
			"Leave renderer.command empty to search the usual install locations",
		)
	}

	if config.PuppeteerConfig != "" && !pathExists(config.PuppeteerConfig) {
		result.addWarning("renderer.puppeteer_config", config.PuppeteerConfig,
			"puppeteer config file does not exist",
		)
	}

	if config.WorkDir != "" {
		if err := validation.ValidatePath(config.WorkDir); err == nil && !pathExists(config.WorkDir) {
			result.addWarning("renderer.work_dir", config.WorkDir,
				"work directory does not exist and will be created",
			)
		}
	}
}

func validateServerConfigDetails(config *ServerConfig, result *ValidationResult) {
	if config.Port < 0 || config.Port > 65535 {
		result.addError("server.port", config.Port,
			fmt.Sprintf("port %d is not in valid range 0-65535", config.Port),
			"Use a port between 1024-65535 for non-privileged access",
			"Port 0 allows system to assign an available port",
		)
	} else if config.Port > 0 && config.Port < 1024 {
		result.addWarning("server.port", config.Port,
			"port below 1024 requires elevated privileges",
		)
	}

	if config.Host != "" {
		if err := validateHostname(config.Host); err != nil {
			result.addError("server.host", config.Host, err.Error(),
				"Use localhost for local development",
			)
		} else if config.Host == "0.0.0.0" || config.Host == "::" {
			result.addWarning("server.host", config.Host,
				"server is reachable from other machines",
				"Add trusted origins to server.allowed_origins",
			)
		}
	}

	for _, origin := range config.AllowedOrigins {
		if strings.Contains(origin, "*") {
			result.addError("server.allowed_origins", origin,
				"wildcard origins are not supported",
				"List each trusted origin explicitly",
			)
		}
	}
}

// Helper validation functions

var hostnameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

func validateHostname(host string) error {
	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
	for _, char := range dangerousChars {
		if strings.Contains(host, char) {
			return fmt.Errorf("contains dangerous character: %s", char)
		}
	}

	if net.ParseIP(host) != nil {
		return nil
	}

	if !hostnameRegex.MatchString(host) {
		return fmt.Errorf("invalid hostname format")
	}

	return nil
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
