// internal/utils/logger.go

package utils

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger defines the interface for logging throughout the application.
type Logger interface {
	Debug(msg string)
	Debugf(format string, args ...interface{})
	Info(msg string)
	Infof(format string, args ...interface{})
	Warn(msg string)
	Warnf(format string, args ...interface{})
	Error(msg string)
	Errorf(format string, args ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}

// LogConfig configures logger construction
type LogConfig struct {
	Level      string `yaml:"level" json:"level" validate:"omitempty,oneof=trace debug info warn error fatal disabled"`
	Format     string `yaml:"format" json:"format" validate:"omitempty,oneof=console json"`
	File       string `yaml:"file,omitempty" json:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty" json:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty" json:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty" json:"max_age_days,omitempty"`
}

// DefaultLogConfig returns console logging at info level
func DefaultLogConfig() LogConfig {
	return LogConfig{Level: "info", Format: "console"}
}

// ZeroLogger adapts zerolog to the Logger interface
type ZeroLogger struct {
	logger zerolog.Logger
}

// NewLogger builds a logger writing to stderr and, when configured, to a
// size-rotated file.
func NewLogger(config LogConfig) (Logger, error) {
	level := zerolog.InfoLevel
	if config.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(config.Level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", config.Level, err)
		}
		level = parsed
	}

	var console io.Writer = os.Stderr
	if config.Format != "json" {
		console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	writers := []io.Writer{console}
	if config.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    valueOr(config.MaxSizeMB, 50),
			MaxBackups: valueOr(config.MaxBackups, 3),
			MaxAge:     valueOr(config.MaxAgeDays, 14),
			Compress:   true,
		})
	}

	return NewLoggerFromWriter(zerolog.MultiLevelWriter(writers...), level), nil
}

// NewLoggerFromWriter builds a JSON logger on an arbitrary writer
func NewLoggerFromWriter(w io.Writer, level zerolog.Level) Logger {
	return &ZeroLogger{logger: zerolog.New(w).Level(level).With().Timestamp().Logger()}
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() Logger {
	return &ZeroLogger{logger: zerolog.Nop()}
}

func (l *ZeroLogger) Debug(msg string) { l.logger.Debug().Msg(msg) }
func (l *ZeroLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}
func (l *ZeroLogger) Info(msg string) { l.logger.Info().Msg(msg) }
func (l *ZeroLogger) Infof(format string, args ...interface{}) {
	l.logger.Info().Msgf(format, args...)
}
func (l *ZeroLogger) Warn(msg string) { l.logger.Warn().Msg(msg) }
func (l *ZeroLogger) Warnf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}
func (l *ZeroLogger) Error(msg string) { l.logger.Error().Msg(msg) }
func (l *ZeroLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

// WithField returns a child logger carrying key
func (l *ZeroLogger) WithField(key string, value interface{}) Logger {
	return &ZeroLogger{logger: l.logger.With().Interface(key, value).Logger()}
}

// WithFields returns a child logger carrying every field
func (l *ZeroLogger) WithFields(fields map[string]interface{}) Logger {
	return &ZeroLogger{logger: l.logger.With().Fields(fields).Logger()}
}

func valueOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
