// Package logger provides structured logging functionality for the application.
//
// It utilizes Go's standard library log/slog package to implement structured JSON logging
// with configurable log levels, context-scoped loggers, and a handler that stamps
// pipeline attributes (task, student, stage) carried in the context onto every record.
package logger
