package config

import (
	"context"
	"io"
	"log/slog"

	"gopkg.in/yaml.v3"
)

const masked = "****"

// NewLogger creates the process logger described by the settings.
func NewLogger(s *Settings, w io.Writer) *slog.Logger {
	var level slog.Level
	switch s.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if s.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Log logs the resolved settings in a granular way, skipping irrelevant ones
func Log(s *Settings) {
	LogWithLogger(s, slog.Default())
}

// LogWithLogger logs the resolved settings using the provided logger
func LogWithLogger(s *Settings, logger *slog.Logger) {
	ctx := context.Background()
	logger.InfoContext(ctx, "Config: log_level", "value", s.LogLevel)
	logger.InfoContext(ctx, "Config: workers", "value", s.Workers)

	logger.InfoContext(ctx, "Config: relations.driver", "value", s.Relations.Driver)
	if s.Relations.DSN != "" {
		logger.InfoContext(ctx, "Config: relations.dsn", "value", maskDSN(s.Relations))
		logger.InfoContext(ctx, "Config: relations.row_limit", "value", s.Relations.RowLimit)
	}

	logger.InfoContext(ctx, "Config: index.base_dir", "value", s.Index.BaseDir)
	logger.InfoContext(ctx, "Config: index.batch_size", "value", s.Index.BatchSize)
	logger.InfoContext(ctx, "Config: index.max_retries", "value", s.Index.MaxRetries)
	logger.InfoContext(ctx, "Config: index.request_timeout", "value", s.Index.RequestTimeout)
}

// LogServer logs the settings relevant to the MCP server.
func LogServer(s *Settings, logger *slog.Logger) {
	ctx := context.Background()
	logger.InfoContext(ctx, "Config: transport", "value", s.Server.Transport)
	if s.Server.Transport == "sse" {
		logger.InfoContext(ctx, "Config: host", "value", s.Server.Host)
		logger.InfoContext(ctx, "Config: port", "value", s.Server.Port)
	}

	logger.InfoContext(ctx, "Config: auth.type", "value", s.Server.Auth.Type)
	switch s.Server.Auth.Type {
	case AuthTypeBasic:
		logger.InfoContext(ctx, "Config: auth.basic.username", "value", s.Server.Auth.Basic.Username)
		logger.InfoContext(ctx, "Config: auth.basic.password", "value", masked)
	case AuthTypeAPIKey:
		logger.InfoContext(ctx, "Config: auth.api_keys", "count", len(s.Server.Auth.APIKeys))
	}
}

// maskDSN hides credentials in server DSNs; file paths are shown as is.
func maskDSN(r RelationsSettings) string {
	if r.Driver == DriverPostgres {
		return masked
	}
	return r.DSN
}

// Masked returns a copy of s with secrets replaced.
func Masked(s Settings) Settings {
	out := s
	if out.Server.Auth.Basic.Password != "" {
		out.Server.Auth.Basic.Password = masked
	}
	keys := make([]string, len(s.Server.Auth.APIKeys))
	for i := range keys {
		keys[i] = masked
	}
	out.Server.Auth.APIKeys = keys
	if out.Relations.DSN != "" {
		out.Relations.DSN = maskDSN(s.Relations)
	}
	return out
}

// WriteYAML writes the masked settings as YAML.
func WriteYAML(s *Settings, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(Masked(*s)); err != nil {
		return err
	}
	return enc.Close()
}

// AuthSettingsLogValue returns a slog.Value for AuthSettings with masked data
func AuthSettingsLogValue(s AuthSettings) slog.Value {
	keys := make([]string, len(s.APIKeys))
	for i := range s.APIKeys {
		keys[i] = masked
	}
	return slog.GroupValue(
		slog.String("type", s.Type),
		slog.Any("basic", BasicAuthSettingsLogValue(s.Basic)),
		slog.Any("api_keys", keys),
	)
}

// BasicAuthSettingsLogValue returns a slog.Value for BasicAuthSettings with masked data
func BasicAuthSettingsLogValue(s BasicAuthSettings) slog.Value {
	return slog.GroupValue(
		slog.String("username", s.Username),
		slog.String("password", masked),
	)
}
