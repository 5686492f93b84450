// Package logging adapts github.com/sirupsen/logrus to
// orchestrator.Logger, the structured key/value logging interface wired
// through the conversation pipeline.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// LogrusLogger implements orchestrator.Logger over a *logrus.Logger. args
// passed to Debug/Info/Warn/Error are treated as alternating key/value
// pairs, matching the call style already used throughout pkg/orchestrator.
type LogrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger returns a LogrusLogger writing JSON lines to stdout at
// the given level ("debug", "info", "warn", "error"); an unrecognized
// level falls back to info.
func NewLogrusLogger(level string) *LogrusLogger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.JSONFormatter{})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)

	return &LogrusLogger{entry: logrus.NewEntry(log)}
}

// With returns a LogrusLogger with persistent fields attached, useful for
// tagging every log line in a session with its session/turn ID.
func (l *LogrusLogger) With(args ...interface{}) *LogrusLogger {
	return &LogrusLogger{entry: l.entry.WithFields(fieldsFrom(args))}
}

func (l *LogrusLogger) Debug(msg string, args ...interface{}) {
	l.entry.WithFields(fieldsFrom(args)).Debug(msg)
}

func (l *LogrusLogger) Info(msg string, args ...interface{}) {
	l.entry.WithFields(fieldsFrom(args)).Info(msg)
}

func (l *LogrusLogger) Warn(msg string, args ...interface{}) {
	l.entry.WithFields(fieldsFrom(args)).Warn(msg)
}

func (l *LogrusLogger) Error(msg string, args ...interface{}) {
	l.entry.WithFields(fieldsFrom(args)).Error(msg)
}

func fieldsFrom(args []interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		fields[key] = args[i+1]
	}
	return fields
}
