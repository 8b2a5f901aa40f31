// Package logger provides structured logging for branchfs
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog with branchfs-specific functionality
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // pretty-print for development
	Output     io.Writer
	WithCaller bool
}

// NewLogger creates a new structured logger
func NewLogger(cfg Config) *Logger {
	// Set global log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure output
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	// Pretty printing for development
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	// Create logger
	zlog := zerolog.New(output).
		With().
		Timestamp().
		Str("service", "branchfs").
		Logger()

	// Add caller information if requested
	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// GetZerolog returns the underlying zerolog logger
func (l *Logger) GetZerolog() *zerolog.Logger {
	return &l.zlog
}

// Info logs an info message
func (l *Logger) Info(msg string) *zerolog.Event {
	return l.zlog.Info().Str("msg", msg)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) *zerolog.Event {
	return l.zlog.Debug().Str("msg", msg)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) *zerolog.Event {
	return l.zlog.Warn().Str("msg", msg)
}

// Error logs an error message
func (l *Logger) Error(msg string) *zerolog.Event {
	return l.zlog.Error().Str("msg", msg)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(msg string) *zerolog.Event {
	return l.zlog.Fatal().Str("msg", msg)
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zlog.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zlog: ctx.Logger()}
}

// TrailLogger returns a logger for trail-runtime operations
func (l *Logger) TrailLogger(operation string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "trail").
			Str("operation", operation).
			Logger(),
	}
}

// MergeLogger returns a logger for merge and commit operations
func (l *Logger) MergeLogger(txnID string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "merge").
			Str("txn", txnID).
			Logger(),
	}
}

// KvLogger returns a logger for KV-engine operations
func (l *Logger) KvLogger(operation string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "kv").
			Str("operation", operation).
			Logger(),
	}
}

// LogTrail logs one trail execution with structured fields
func (l *Logger) LogTrail(operation string, attempts int, duration time.Duration, err error) {
	event := l.zlog.Debug().
		Str("component", "trail").
		Str("operation", operation).
		Int("attempts", attempts).
		Dur("duration_ms", duration)

	if err != nil {
		event = l.zlog.Error().
			Str("component", "trail").
			Str("operation", operation).
			Int("attempts", attempts).
			Dur("duration_ms", duration).
			Err(err)
	}

	event.Msg("Trail completed")
}

// LogTxnBegin logs the opening of a transaction
func (l *Logger) LogTxnBegin(txnID string, baseRev int64) {
	l.zlog.Info().
		Str("event", "txn_begin").
		Str("txn", txnID).
		Int64("base_revision", baseRev).
		Msg("Transaction opened")
}

// LogTxnAbort logs the abort of a transaction
func (l *Logger) LogTxnAbort(txnID string) {
	l.zlog.Info().
		Str("event", "txn_abort").
		Str("txn", txnID).
		Msg("Transaction aborted")
}

// LogCommit logs a successful commit with structured fields
func (l *Logger) LogCommit(txnID string, revision int64, duration time.Duration) {
	l.zlog.Info().
		Str("event", "commit").
		Str("txn", txnID).
		Int64("revision", revision).
		Dur("duration_ms", duration).
		Msg("Transaction committed")
}

// LogMergeConflict logs a commit-time merge conflict
func (l *Logger) LogMergeConflict(txnID string, path string) {
	l.zlog.Warn().
		Str("event", "merge_conflict").
		Str("txn", txnID).
		Str("path", path).
		Msg("Commit merge conflict")
}

// LogStoreOpen logs filesystem startup
func (l *Logger) LogStoreOpen(dbPath string) {
	l.zlog.Info().
		Str("event", "store_open").
		Str("database", dbPath).
		Msg("branchfs store opened")
}

// LogStoreClose logs filesystem shutdown
func (l *Logger) LogStoreClose(dbPath string) {
	l.zlog.Info().
		Str("event", "store_close").
		Str("database", dbPath).
		Msg("branchfs store closed")
}

// Global logger instance
var globalLogger *Logger

// InitGlobalLogger initializes the global logger
func InitGlobalLogger(cfg Config) {
	globalLogger = NewLogger(cfg)
	log.Logger = *globalLogger.GetZerolog()
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		// Initialize with defaults if not set
		InitGlobalLogger(Config{
			Level:  "info",
			Pretty: true,
		})
	}
	return globalLogger
}
