// Package logger implements the leveled scoped logger used across the
// framework. Levels are silent, error, info and debug; output goes through a
// zap console core on stderr.
package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is a log verbosity level.
type Level int

const (
	LevelSilent Level = iota
	LevelError
	LevelInfo
	LevelDebug
)

// ParseLevel maps a level name to a Level. Unknown names (and the empty
// string) default to info.
func ParseLevel(name string) Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "silent":
		return LevelSilent
	case "error":
		return LevelError
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// String returns the canonical level name.
func (l Level) String() string {
	switch l {
	case LevelSilent:
		return "silent"
	case LevelError:
		return "error"
	case LevelDebug:
		return "debug"
	default:
		return "info"
	}
}

// Logger is a leveled logger bound to a scope name.
type Logger struct {
	sugar *zap.SugaredLogger
	level Level
}

// New creates a logger for the given level and scope.
func New(level Level, scope string) *Logger {
	if level == LevelSilent {
		return &Logger{sugar: zap.NewNop().Sugar(), level: level}
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "scope",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		zapLevel(level),
	)
	return &Logger{
		sugar: zap.New(core).Sugar().Named(scope),
		level: level,
	}
}

func zapLevel(level Level) zapcore.Level {
	switch level {
	case LevelError:
		return zapcore.ErrorLevel
	case LevelDebug:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

// Named returns a child logger with an extended scope.
func (l *Logger) Named(scope string) *Logger {
	return &Logger{sugar: l.sugar.Named(scope), level: l.level}
}

// Level returns the logger's configured level.
func (l *Logger) Level() Level {
	return l.level
}

func (l *Logger) Errorf(format string, args ...any) {
	l.sugar.Errorf(format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.sugar.Infof(format, args...)
}

func (l *Logger) Debugf(format string, args ...any) {
	l.sugar.Debugf(format, args...)
}

// Debug logs loosely structured values at debug level.
func (l *Logger) Debug(args ...any) {
	l.sugar.Debug(args...)
}
