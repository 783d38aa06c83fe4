// Package logger provides structured logging functionality for the application.
//
// It utilizes Go's standard library log/slog package to implement structured JSON logging
// with configurable log levels, context-carried request loggers, and a capturing
// handler for tests.
package logger
