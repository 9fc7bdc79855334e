// Package logging wraps logrus with the JSON/text dual-output logger the
// tapecore CLI uses to record command outcomes.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Level mirrors logrus.Level so callers configuring from a string (e.g.
// config.Logging.Level) don't need to import logrus directly.
type Level = logrus.Level

const (
	LevelDebug = logrus.DebugLevel
	LevelInfo  = logrus.InfoLevel
	LevelWarn  = logrus.WarnLevel
	LevelError = logrus.ErrorLevel
)

// ParseLevel converts a string to a Level, defaulting to info on a bad value.
func ParseLevel(s string) Level {
	lvl, err := logrus.ParseLevel(s)
	if err != nil {
		return LevelInfo
	}
	return lvl
}

// Logger is the CLI's structured logger: each command logs its outcome
// through one of these with field context (device, element address, run
// id) rather than a bare message. The core packages do not log.
type Logger struct {
	entry *logrus.Entry
	file  *os.File
}

// NewLogger builds a Logger writing to stdout, and additionally to
// outputPath when set. format selects logrus's "json" or "text" formatter.
func NewLogger(level string, format string, outputPath string) (*Logger, error) {
	base := logrus.New()
	base.SetLevel(ParseLevel(level))
	if format == "json" {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	l := &Logger{}
	var out io.Writer = os.Stdout

	if outputPath != "" && outputPath != "-" {
		dir := filepath.Dir(outputPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(outputPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = f
		out = io.MultiWriter(os.Stdout, f)
	}

	base.SetOutput(out)
	l.entry = logrus.NewEntry(base)
	return l, nil
}

// Close closes the log file, if one was opened.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) Debug(message string, fields map[string]interface{}) {
	l.entry.WithFields(fields).Debug(message)
}

func (l *Logger) Info(message string, fields map[string]interface{}) {
	l.entry.WithFields(fields).Info(message)
}

func (l *Logger) Warn(message string, fields map[string]interface{}) {
	l.entry.WithFields(fields).Warn(message)
}

func (l *Logger) Error(message string, fields map[string]interface{}) {
	l.entry.WithFields(fields).Error(message)
}

// WithFields returns a child logger with preset fields merged into every
// subsequent call, e.g. a per-handle or per-element-address logger.
func (l *Logger) WithFields(fields map[string]interface{}) *FieldLogger {
	return &FieldLogger{entry: l.entry.WithFields(fields)}
}

// FieldLogger is a Logger with a fixed set of fields already attached.
type FieldLogger struct {
	entry *logrus.Entry
}

func (fl *FieldLogger) Debug(message string, fields map[string]interface{}) {
	fl.entry.WithFields(fields).Debug(message)
}

func (fl *FieldLogger) Info(message string, fields map[string]interface{}) {
	fl.entry.WithFields(fields).Info(message)
}

func (fl *FieldLogger) Warn(message string, fields map[string]interface{}) {
	fl.entry.WithFields(fields).Warn(message)
}

func (fl *FieldLogger) Error(message string, fields map[string]interface{}) {
	fl.entry.WithFields(fields).Error(message)
}
