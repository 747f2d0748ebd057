package common

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Severity represents log message severity levels
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "DEBUG"
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Level maps the severity onto the zap level it filters at.
func (s Severity) Level() zapcore.Level {
	switch s {
	case SeverityDebug:
		return zapcore.DebugLevel
	case SeverityInfo:
		return zapcore.InfoLevel
	case SeverityWarning:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

// ParseSeverity accepts the names produced by String, case-insensitively, plus
// "warn". Unknown names return SeverityInfo and false.
func ParseSeverity(name string) (Severity, bool) {
	switch strings.ToLower(name) {
	case "debug":
		return SeverityDebug, true
	case "info":
		return SeverityInfo, true
	case "warn", "warning":
		return SeverityWarning, true
	case "error":
		return SeverityError, true
	}
	return SeverityInfo, false
}

// NewLogger creates a console logger writing to stdout at minLevel.
func NewLogger(minLevel Severity) *zap.Logger {
	return NewLoggerWithWriter(os.Stdout, minLevel)
}

// NewLoggerWithWriter creates a console logger with a custom writer. Timestamps
// are omitted so output from the simulator is reproducible.
func NewLoggerWithWriter(w io.Writer, minLevel Severity) *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(w),
		zap.NewAtomicLevelAt(minLevel.Level()),
	)
	return zap.New(core)
}

// NewNoOpLogger returns a logger that discards everything.
func NewNoOpLogger() *zap.Logger {
	return zap.NewNop()
}
