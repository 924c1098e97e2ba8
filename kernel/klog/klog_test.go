package klog

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitJSON(t *testing.T) {
	defer Init(LevelInfo, FormatText, io.Discard)

	var buf bytes.Buffer
	Init(LevelInfo, FormatJSON, &buf)

	For("ksm").Debug("hidden")
	For("ksm").Info("sweep complete", "scanned", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "sweep complete", rec["msg"])
	require.Equal(t, "ksm", rec["module"])
	require.EqualValues(t, 3, rec["scanned"])
}

func TestInitText(t *testing.T) {
	defer Init(LevelInfo, FormatText, io.Discard)

	var buf bytes.Buffer
	Init(LevelDebug, FormatText, &buf)
	For("vmm").Debug("cow fault", "addr", "0x1000")

	require.Contains(t, buf.String(), "module=vmm")
	require.Contains(t, buf.String(), "msg=\"cow fault\"")
}

func TestParseLevel(t *testing.T) {
	specs := []struct {
		in  string
		exp Level
	}{
		{"debug", LevelDebug},
		{"", LevelInfo},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{"error", LevelError},
	}

	for _, spec := range specs {
		got, err := ParseLevel(spec.in)
		require.NoError(t, err)
		require.Equal(t, spec.exp, got, spec.in)
	}

	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	got, err := ParseFormat("json")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, got)

	got, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatText, got)

	_, err = ParseFormat("xml")
	require.Error(t, err)
}
