package ir

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fc "github.com/gofhir/codegen"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{"", FormatJSON, false},
		{"YAML", FormatYAML, false},
		{"yml", FormatYAML, false},
		{"toml", "", true},
	}

	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			assert.True(t, errors.Is(err, fc.ErrConfig), tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestFormat_ContentType(t *testing.T) {
	assert.Equal(t, "application/json", FormatJSON.ContentType())
	assert.Equal(t, "application/yaml", FormatYAML.ContentType())
}

func TestEncode_JSONKeyOrder(t *testing.T) {
	g := NewTypeGraph(fc.R4)
	_ = g.AddResource("Patient", ResourceType{Name: "Patient"})
	_ = g.AddResource("Account", ResourceType{Name: "Account"})

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, g, FormatJSON))

	out := buf.String()
	assert.Less(t, strings.Index(out, `"Patient"`), strings.Index(out, `"Account"`))
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode(strings.NewReader("{"), FormatJSON)
	assert.Error(t, err)

	_, err = Decode(strings.NewReader("{}"), Format("xml"))
	assert.True(t, errors.Is(err, fc.ErrConfig))

	assert.Error(t, Encode(&bytes.Buffer{}, NewTypeGraph(fc.R4), Format("xml")))
}
