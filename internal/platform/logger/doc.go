// Package logger provides structured logging for the application.
//
// It builds JSON log/slog loggers with configurable levels and carries
// request-scoped loggers through context.Context.
package logger
