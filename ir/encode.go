package ir

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	fc "github.com/gofhir/codegen"
)

// Format is a serialization format for type graphs.
type Format string

// Supported formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts "json", "yaml" and "yml".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json", "":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fc.Errorf(fc.ErrConfig, "unsupported output format %q", s)
}

// ContentType returns the HTTP media type for f.
func (f Format) ContentType() string {
	if f == FormatYAML {
		return "application/yaml"
	}
	return "application/json"
}

// Encode writes v in the given format.
func Encode(w io.Writer, v any, f Format) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fc.Errorf(fc.ErrConfig, "unsupported output format %q", f)
}

// Decode reads a type graph in the given format.
func Decode(r io.Reader, f Format) (*TypeGraph, error) {
	g := &TypeGraph{}
	var err error
	switch f {
	case FormatJSON:
		err = json.NewDecoder(r).Decode(g)
	case FormatYAML:
		err = yaml.NewDecoder(r).Decode(g)
	default:
		return nil, fc.Errorf(fc.ErrConfig, "unsupported output format %q", f)
	}
	if err != nil {
		return nil, fmt.Errorf("decode type graph: %w", err)
	}
	return g, nil
}
