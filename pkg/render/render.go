// Package render formats diff reports for terminals and machine consumers.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/censys/scandiff/pkg/diff"
)

// Format selects an output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts text, json or yaml (yml); empty means text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "table":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json or yaml)", s)
	}
}

// Renderer writes a report to w.
type Renderer interface {
	Render(w io.Writer, report *diff.DiffReport) error
}

// New returns the renderer for format. noColor only affects text output.
func New(format Format, noColor bool) (Renderer, error) {
	switch format {
	case FormatText, "":
		return &TextRenderer{NoColor: noColor}, nil
	case FormatJSON:
		return JSONRenderer{Indent: "  "}, nil
	case FormatYAML:
		return YAMLRenderer{}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

// JSONRenderer writes the report's JSON form, including has_changes.
type JSONRenderer struct {
	Indent string
}

func (r JSONRenderer) Render(w io.Writer, report *diff.DiffReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", r.Indent)
	return enc.Encode(report)
}

// YAMLRenderer writes the report as YAML with the same field names as JSON.
type YAMLRenderer struct{}

func (YAMLRenderer) Render(w io.Writer, report *diff.DiffReport) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		return err
	}
	return enc.Close()
}

// IsTerminal reports whether w is a file attached to a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// terminalWidth returns the width of f, or fallback when it is not a terminal.
func terminalWidth(w io.Writer, fallback int) int {
	f, ok := w.(*os.File)
	if !ok {
		return fallback
	}
	if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
		return width
	}
	return fallback
}
