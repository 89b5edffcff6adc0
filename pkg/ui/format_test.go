package ui_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Chrono-byte/flux/pkg/ui"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatString(t *testing.T) {
	tests := []struct {
		format   ui.Format
		expected string
	}{
		{ui.FormatAuto, "auto"},
		{ui.FormatTerminal, "term"},
		{ui.FormatText, "text"},
		{ui.FormatJSON, "json"},
		{ui.FormatYAML, "yaml"},
		{ui.Format(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.format.String())
		})
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input    string
		expected ui.Format
		wantErr  bool
	}{
		{"", ui.FormatAuto, false},
		{"auto", ui.FormatAuto, false},
		{"term", ui.FormatTerminal, false},
		{"Terminal", ui.FormatTerminal, false},
		{"plain", ui.FormatText, false},
		{"JSON", ui.FormatJSON, false},
		{"yml", ui.FormatYAML, false},
		{"xml", ui.FormatAuto, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ui.ParseFormat(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestStructured(t *testing.T) {
	assert.True(t, ui.FormatJSON.Structured())
	assert.True(t, ui.FormatYAML.Structured())
	assert.False(t, ui.FormatText.Structured())
	assert.False(t, ui.FormatTerminal.Structured())
}

func TestDetectFormatNonTerminal(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.Equal(t, ui.FormatText, ui.DetectFormat(f))
	assert.Equal(t, ui.FormatText, ui.Resolve(ui.FormatAuto, f))
	assert.Equal(t, ui.FormatJSON, ui.Resolve(ui.FormatJSON, f))
	assert.Equal(t, ui.FormatText, ui.Resolve(ui.FormatAuto, nil))
}

func TestDetectFormatNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.Equal(t, ui.FormatText, ui.DetectFormat(os.Stdout))
}
