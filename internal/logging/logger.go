package logging

import (
	"go.uber.org/zap"
)

// NewLogger builds a production ready structured logger.
func NewLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	return cfg.Build()
}

// WithOperation enriches the logger with operation and record identifiers.
func WithOperation(logger *zap.Logger, operation, recordID string) *zap.Logger {
	fields := []zap.Field{zap.String("operation", operation)}
	if recordID != "" {
		fields = append(fields, zap.String("record_id", recordID))
	}
	return logger.With(fields...)
}
