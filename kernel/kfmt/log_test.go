package kfmt

import (
	"bytes"
	"testing"
)

func TestLog(t *testing.T) {
	defer func(origLevel Level) {
		outputSink = nil
		logLevel = origLevel
	}(logLevel)

	var buf bytes.Buffer
	SetOutputSink(&buf)

	specs := []struct {
		active    Level
		msgLevel  Level
		expOutput string
	}{
		{LevelError, LevelError, "[pmm] out of memory\n"},
		{LevelError, LevelWarn, ""},
		{LevelWarn, LevelError, "[pmm] out of memory\n"},
		{LevelInfo, LevelDebug, ""},
		{LevelDebug, LevelDebug, "[pmm] out of memory\n"},
		{LevelDebug, LevelInfo, "[pmm] out of memory\n"},
	}

	for specIndex, spec := range specs {
		buf.Reset()
		SetLogLevel(spec.active)
		if got := LogLevel(); got != spec.active {
			t.Errorf("[spec %d] expected active log level to be %d; got %d", specIndex, spec.active, got)
		}

		Log(spec.msgLevel, "[%s] %s\n", "pmm", "out of memory")

		if got := buf.String(); got != spec.expOutput {
			t.Errorf("[spec %d] expected output %q; got %q", specIndex, spec.expOutput, got)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	specs := []struct {
		input    string
		expLevel Level
		expOK    bool
	}{
		{"error", LevelError, true},
		{"warn", LevelWarn, true},
		{"info", LevelInfo, true},
		{"debug", LevelDebug, true},
		{"", 0, false},
		{"DEBUG", 0, false},
		{"verbose", 0, false},
	}

	for specIndex, spec := range specs {
		level, ok := ParseLogLevel(spec.input)
		if level != spec.expLevel || ok != spec.expOK {
			t.Errorf("[spec %d] expected ParseLogLevel(%q) to return (%d, %t); got (%d, %t)", specIndex, spec.input, spec.expLevel, spec.expOK, level, ok)
		}
	}
}
