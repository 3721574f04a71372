package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/mermaidlive/internal/renderer"
)

// OutputFormat selects how a command prints its report.
type OutputFormat string

const (
	OutputText OutputFormat = "text"
	OutputJSON OutputFormat = "json"
	OutputYAML OutputFormat = "yaml"
)

var _ pflag.Value = (*OutputFormat)(nil)

func (f *OutputFormat) String() string { return string(*f) }

// Set implements pflag.Value.
func (f *OutputFormat) Set(value string) error {
	switch v := OutputFormat(strings.ToLower(value)); v {
	case OutputText, OutputJSON, OutputYAML:
		*f = v
		return nil
	default:
		return fmt.Errorf("invalid output format %q, must be one of: text, json, yaml", value)
	}
}

// Type implements pflag.Value.
func (f *OutputFormat) Type() string { return "format" }

// addOutputFlag registers --output/-o on cmd.
func addOutputFlag(cmd *cobra.Command, target *OutputFormat) {
	*target = OutputText
	cmd.Flags().VarP(target, "output", "o", "Output format (text|json|yaml)")
}

// writeStructured prints v as JSON or YAML.
func writeStructured(w io.Writer, format OutputFormat, v interface{}) error {
	switch format {
	case OutputJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(v)
	case OutputYAML:
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(v); err != nil {
			return err
		}
		return encoder.Close()
	default:
		return fmt.Errorf("unsupported structured format: %s", format)
	}
}

// renderFormatValue is a pflag.Value restricted to the artifact formats mmdc
// can produce.
type renderFormatValue struct {
	format *renderer.Format
}

func newRenderFormatValue(target *renderer.Format, def renderer.Format) *renderFormatValue {
	*target = def
	return &renderFormatValue{format: target}
}

func (v *renderFormatValue) String() string {
	if v.format == nil {
		return ""
	}
	return string(*v.format)
}

func (v *renderFormatValue) Set(value string) error {
	format, err := renderer.ParseFormat(value)
	if err != nil {
		return err
	}
	*v.format = format
	return nil
}

func (v *renderFormatValue) Type() string { return "format" }

// AddFlagValidation wraps a flag so values are validated when parsed.
func AddFlagValidation(cmd *cobra.Command, flagName string, validator func(string) error) {
	flag := cmd.Flags().Lookup(flagName)
	if flag == nil {
		return
	}
	flag.Value = &validatingValue{Value: flag.Value, validator: validator}
}

type validatingValue struct {
	pflag.Value
	validator func(string) error
}

func (v *validatingValue) Set(val string) error {
	if v.validator != nil {
		if err := v.validator(val); err != nil {
			return err
		}
	}
	return v.Value.Set(val)
}

// ValidatePort checks a --port value.
func ValidatePort(portStr string) error {
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port number: %s", portStr)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}
