// Package logger provides the structured JSON logger shared by every binary.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

type Logger interface {
	Info(message string, fields map[string]interface{})
	Error(message string, fields map[string]interface{})
	Warn(message string, fields map[string]interface{})
	Debug(message string, fields map[string]interface{})
	Fatal(message string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
}

type jsonLogger struct {
	zl zerolog.Logger
}

// New returns a JSON logger writing to stdout at info level.
func New(serviceName string) Logger {
	return NewWithLevel(serviceName, "info")
}

// NewWithLevel returns a JSON logger writing to stdout. Unknown levels fall
// back to info.
func NewWithLevel(serviceName, level string) Logger {
	return NewWriter(os.Stdout, serviceName, level)
}

// NewWriter is NewWithLevel with an explicit sink.
func NewWriter(w io.Writer, serviceName, level string) Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zl := zerolog.New(w).Level(lvl).With().
		Timestamp().
		Str("service", serviceName).
		Logger()
	return &jsonLogger{zl: zl}
}

func (l *jsonLogger) Info(message string, fields map[string]interface{}) {
	l.zl.Info().Fields(fields).Msg(message)
}

func (l *jsonLogger) Error(message string, fields map[string]interface{}) {
	l.zl.Error().Fields(fields).Msg(message)
}

func (l *jsonLogger) Warn(message string, fields map[string]interface{}) {
	l.zl.Warn().Fields(fields).Msg(message)
}

func (l *jsonLogger) Debug(message string, fields map[string]interface{}) {
	l.zl.Debug().Fields(fields).Msg(message)
}

// Fatal logs and exits the process with status 1.
func (l *jsonLogger) Fatal(message string, fields map[string]interface{}) {
	l.zl.Fatal().Fields(fields).Msg(message)
}

func (l *jsonLogger) With(fields map[string]interface{}) Logger {
	return &jsonLogger{zl: l.zl.With().Fields(fields).Logger()}
}

func NewNop() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (l *nopLogger) Info(message string, fields map[string]interface{})  {}
func (l *nopLogger) Error(message string, fields map[string]interface{}) {}
func (l *nopLogger) Warn(message string, fields map[string]interface{})  {}
func (l *nopLogger) Debug(message string, fields map[string]interface{}) {}
func (l *nopLogger) Fatal(message string, fields map[string]interface{}) {}
func (l *nopLogger) With(fields map[string]interface{}) Logger          { return l }
