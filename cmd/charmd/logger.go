// logger.go - Structured logging for the attestation daemon
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logging bundles the daemon logger with its audit sink. The main log
// goes to console and optionally a file; the audit sink is a separate
// append-only JSON stream for lifecycle mutations.
type Logging struct {
	Log   zerolog.Logger
	audit zerolog.Logger
	files []*os.File
}

// NewLogging creates the daemon's loggers from config.
func NewLogging(level, logFile, auditFile string) (*Logging, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	writers := []io.Writer{console}

	l := &Logging{audit: zerolog.Nop()}

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.files = append(l.files, f)
		writers = append(writers, f)
	}

	l.Log = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(lvl).
		With().Timestamp().Str("service", "charmd").Logger()

	if auditFile != "" {
		f, err := os.OpenFile(auditFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("failed to open audit file: %w", err)
		}
		l.files = append(l.files, f)
		l.audit = zerolog.New(f).With().Timestamp().Logger()
	}

	return l, nil
}

// Audit records a lifecycle mutation in the audit stream.
func (l *Logging) Audit(event string, fields map[string]interface{}) {
	l.audit.Info().Fields(fields).Str("event", event).Msg("audit")
}

// Close closes the log files.
func (l *Logging) Close() error {
	var firstErr error
	for _, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
