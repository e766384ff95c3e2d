package logging

import (
	"os"

	"go.uber.org/zap"
)

// NewLogger builds a production ready structured logger. Setting
// LOG_MODE=development switches to the human-readable console encoder.
func NewLogger() (*zap.Logger, error) {
	if os.Getenv("LOG_MODE") == "development" {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	return cfg.Build()
}

// WithOperation enriches the logger with operation and diagnosis identifiers.
func WithOperation(logger *zap.Logger, operation, diagnosisID string) *zap.Logger {
	fields := []zap.Field{zap.String("operation", operation)}
	if diagnosisID != "" {
		fields = append(fields, zap.String("diagnosis_id", diagnosisID))
	}
	return logger.With(fields...)
}
