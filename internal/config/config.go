package config

import (
	"fmt"
	"os"
	"strconv"
)

// Delivery modes for the final diagnosis message. Reply answers inside the
// webhook request; AckPush sends a placeholder reply immediately and pushes
// the result once inference finishes.
const (
	DeliveryReply   = "reply"
	DeliveryAckPush = "ack_push"
)

// Model modes. Mock is an explicit runtime mode returning canned results;
// it is never substituted silently when the real model is missing.
const (
	ModelONNX = "onnx"
	ModelMock = "mock"
)

// Config carries all externally supplied settings.
type Config struct {
	Port string

	LineChannelSecret string
	LineChannelToken  string

	ModelMode         string
	ModelPath         string
	ModelMetadataPath string
	ConfThreshold     float64

	DeliveryMode string

	SpreadsheetID   string
	SheetRange      string
	CredentialsFile string

	RedisAddr   string
	DatabaseDSN string

	JWTSecret   string
	JWTAudience string
}

// Load reads the configuration from the environment. Missing messaging
// credentials are a hard error: the webhook must fail closed rather than
// accept unverifiable traffic.
func Load() (*Config, error) {
	cfg := &Config{
		Port: getEnv("PORT", "8080"),

		LineChannelSecret: os.Getenv("LINE_CHANNEL_SECRET"),
		LineChannelToken:  os.Getenv("LINE_CHANNEL_ACCESS_TOKEN"),

		ModelMode:         getEnv("MODEL_MODE", ModelONNX),
		ModelPath:         getEnv("MODEL_PATH", "models/tomato_mobilenetv2.onnx"),
		ModelMetadataPath: getEnv("MODEL_METADATA_PATH", "models/tomato_mobilenetv2.json"),

		DeliveryMode: getEnv("DELIVERY_MODE", DeliveryAckPush),

		SpreadsheetID:   os.Getenv("SHEETS_SPREADSHEET_ID"),
		SheetRange:      getEnv("SHEETS_RANGE", "Dashboard"),
		CredentialsFile: getEnv("GOOGLE_CREDENTIALS_FILE", "service-account.json"),

		RedisAddr:   os.Getenv("REDIS_ADDR"),
		DatabaseDSN: os.Getenv("DATABASE_DSN"),

		JWTSecret:   getEnv("JWT_SECRET", "dev-secret"),
		JWTAudience: os.Getenv("JWT_AUDIENCE"),
	}

	if cfg.LineChannelSecret == "" {
		return nil, fmt.Errorf("missing required env LINE_CHANNEL_SECRET")
	}
	if cfg.LineChannelToken == "" {
		return nil, fmt.Errorf("missing required env LINE_CHANNEL_ACCESS_TOKEN")
	}

	switch cfg.ModelMode {
	case ModelONNX, ModelMock:
	default:
		return nil, fmt.Errorf("invalid MODEL_MODE %q (want %q or %q)", cfg.ModelMode, ModelONNX, ModelMock)
	}

	switch cfg.DeliveryMode {
	case DeliveryReply, DeliveryAckPush:
	default:
		return nil, fmt.Errorf("invalid DELIVERY_MODE %q (want %q or %q)", cfg.DeliveryMode, DeliveryReply, DeliveryAckPush)
	}

	threshold, err := parseFloat(getEnv("CONF_THRESHOLD", "85"))
	if err != nil {
		return nil, fmt.Errorf("invalid CONF_THRESHOLD: %w", err)
	}
	if threshold < 0 || threshold > 100 {
		return nil, fmt.Errorf("CONF_THRESHOLD %v out of range [0,100]", threshold)
	}
	cfg.ConfThreshold = threshold

	return cfg, nil
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func parseFloat(v string) (float64, error) {
	return strconv.ParseFloat(v, 64)
}
