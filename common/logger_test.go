package common

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestSeverityString(t *testing.T) {
	tests := []struct {
		severity Severity
		expected string
	}{
		{SeverityDebug, "DEBUG"},
		{SeverityInfo, "INFO"},
		{SeverityWarning, "WARNING"},
		{SeverityError, "ERROR"},
		{Severity(42), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			got := tt.severity.String()
			if got != tt.expected {
				t.Errorf("Severity.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestSeverityLevel(t *testing.T) {
	tests := []struct {
		severity Severity
		expected zapcore.Level
	}{
		{SeverityDebug, zapcore.DebugLevel},
		{SeverityInfo, zapcore.InfoLevel},
		{SeverityWarning, zapcore.WarnLevel},
		{SeverityError, zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		if got := tt.severity.Level(); got != tt.expected {
			t.Errorf("%v.Level() = %v, want %v", tt.severity, got, tt.expected)
		}
	}
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in   string
		want Severity
		ok   bool
	}{
		{"debug", SeverityDebug, true},
		{"INFO", SeverityInfo, true},
		{"warn", SeverityWarning, true},
		{"Warning", SeverityWarning, true},
		{"error", SeverityError, true},
		{"loud", SeverityInfo, false},
	}

	for _, tt := range tests {
		got, ok := ParseSeverity(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseSeverity(%q) = %v,%v want %v,%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestLoggerWithWriter(t *testing.T) {
	var out bytes.Buffer
	logger := NewLoggerWithWriter(&out, SeverityDebug)

	tests := []struct {
		name    string
		logFunc func(string, ...zap.Field)
		level   string
		message string
	}{
		{"Debug", logger.Debug, "DEBUG", "debug message"},
		{"Info", logger.Info, "INFO", "info message"},
		{"Warning", logger.Warn, "WARN", "warning message"},
		{"Error", logger.Error, "ERROR", "error message"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out.Reset()
			tt.logFunc(tt.message, zap.Uint32("addr", 0x08000000))

			output := out.String()
			if !strings.Contains(output, tt.message) {
				t.Errorf("Log output should contain %q, got: %s", tt.message, output)
			}
			if !strings.Contains(output, tt.level) {
				t.Errorf("Log output should contain level %q, got: %s", tt.level, output)
			}
		})
	}
}

func TestLoggerMinLevel(t *testing.T) {
	var out bytes.Buffer
	logger := NewLoggerWithWriter(&out, SeverityWarning)

	logger.Debug("debug message")
	logger.Info("info message")
	if out.Len() != 0 {
		t.Errorf("Debug and Info should not be logged when minLevel is Warning, got: %s", out.String())
	}

	logger.Warn("warning message")
	if !strings.Contains(out.String(), "warning message") {
		t.Errorf("Warning should be logged, got: %s", out.String())
	}
}

func TestNoOpLogger(t *testing.T) {
	logger := NewNoOpLogger()
	if logger == nil {
		t.Fatal("NewNoOpLogger() returned nil")
	}

	logger.Info("info")
	logger.Error("error", zap.Error(errors.New("test error")))
}
