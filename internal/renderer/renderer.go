// Package renderer provides the boundary between the preview pipeline and
// the diagram rendering engine.
//
// The engine is treated as a black box: it accepts diagram source and a set
// of render options and returns an artifact or a failure reason. The default
// implementation shells out to the Mermaid CLI (mmdc), writing the source on
// stdin and reading the artifact back from a temporary output file.
package renderer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Format is the kind of artifact a render produces.
type Format string

const (
	FormatSVG Format = "svg"
	FormatPNG Format = "png"
	FormatPDF Format = "pdf"
)

// ParseFormat validates a configured format name.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case FormatSVG, FormatPNG, FormatPDF:
		return f, nil
	case "":
		return FormatSVG, nil
	default:
		return "", fmt.Errorf("unsupported format %q (want svg, png or pdf)", name)
	}
}

// MediaType returns the HTTP content type of artifacts in this format.
func (f Format) MediaType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatPDF:
		return "application/pdf"
	default:
		return "image/svg+xml"
	}
}

// Themes understood by mmdc.
var Themes = []string{"default", "forest", "dark", "neutral"}

// Options are the render options passed alongside the diagram source.
type Options struct {
	Theme      string `json:"theme,omitempty" yaml:"theme,omitempty"`
	Format     Format `json:"format" yaml:"format"`
	Width      int    `json:"width,omitempty" yaml:"width,omitempty"`
	Height     int    `json:"height,omitempty" yaml:"height,omitempty"`
	Background string `json:"background,omitempty" yaml:"background,omitempty"`
}

// DefaultOptions returns svg output with mmdc's default theme.
func DefaultOptions() Options {
	return Options{
		Theme:      "default",
		Format:     FormatSVG,
		Background: "transparent",
	}
}

// Validate checks the options before they reach the renderer.
func (o Options) Validate() error {
	if _, err := ParseFormat(string(o.Format)); err != nil {
		return err
	}
	if o.Theme != "" {
		known := false
		for _, t := range Themes {
			if t == o.Theme {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("unknown theme %q", o.Theme)
		}
	}
	if o.Width < 0 || o.Height < 0 {
		return fmt.Errorf("width and height must not be negative")
	}
	if strings.ContainsAny(o.Background, ";&|`$<>") {
		return fmt.Errorf("background contains forbidden characters")
	}
	return nil
}

// Key is a stable encoding of the options, mixed into cache fingerprints so
// an artifact rendered with one theme is never served for another.
func (o Options) Key() string {
	format := o.Format
	if format == "" {
		format = FormatSVG
	}
	return strings.Join([]string{
		"format=" + string(format),
		"theme=" + o.Theme,
		"w=" + strconv.Itoa(o.Width),
		"h=" + strconv.Itoa(o.Height),
		"bg=" + o.Background,
	}, ";")
}

// Artifact is a rendered diagram.
type Artifact struct {
	Format     Format        `json:"format"`
	Data       []byte        `json:"-"`
	Width      string        `json:"width,omitempty"`
	Height     string        `json:"height,omitempty"`
	ViewBox    string        `json:"view_box,omitempty"`
	RenderedAt time.Time     `json:"rendered_at"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Size returns the artifact size in bytes.
func (a *Artifact) Size() int64 {
	if a == nil {
		return 0
	}
	return int64(len(a.Data))
}

// Renderer turns diagram source into an artifact.
//
// Implementations should honour ctx cancellation when they can, but callers
// must not rely on it: a cancelled render may still return a result.
type Renderer interface {
	Render(ctx context.Context, source string, opts Options) (*Artifact, error)
}

// RendererFunc adapts a function to the Renderer interface.
type RendererFunc func(ctx context.Context, source string, opts Options) (*Artifact, error)

// Render calls f.
func (f RendererFunc) Render(ctx context.Context, source string, opts Options) (*Artifact, error) {
	return f(ctx, source, opts)
}
