// Package logging provides structured logging for nestkv.
//
// # Overview
//
// The logging package provides a structured logging interface with support for:
//
//   - Multiple log levels (debug, info, warn, error)
//   - Text and JSON output formats
//   - Request ID tracking per transaction and CLI session
//   - Field-based contextual logging
//
// # Creating a Logger
//
// Create a logger with configuration:
//
//	logger := logging.New(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "/var/log/nestkv/nestkv.log",
//	})
//	defer logging.Close(logger)
//
// Or use defaults:
//
//	logger := logging.NewDefault() // Info level, text format, stderr
//
// For testing, use a no-op logger or write into a buffer:
//
//	logger := logging.NewNop()
//	logger := logging.New(logging.Config{Level: "debug", Writer: &buf})
//
// # Structured Logging
//
// Add key-value pairs to log entries. Error values are logged as their
// message:
//
//	logger.Info("checkpoint complete",
//	    "lsn", result.LSN,
//	    "wal_bytes", result.WALBytes,
//	    "duration", result.Duration,
//	)
//	logger.Error("commit failed", "error", err)
//
// # Request IDs
//
//	reqLogger := logger.WithRequestID(logging.GenerateRequestID())
//	reqLogger.Debug("transaction started") // Includes request_id field
//
// # Output Formats
//
// Text format (human-readable, fields in key order):
//
//	2026-02-18T10:30:00Z [info] checkpoint complete duration=3ms lsn=42 wal_bytes=8192
//
// JSON format (machine-parseable):
//
//	{"ts":"2026-02-18T10:30:00Z","level":"info","msg":"checkpoint complete",...}
package logging
