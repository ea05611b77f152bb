package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by the settings loader.
const EnvPrefix = "DDBJ_SEARCH"

// Auth type constants
const (
	AuthTypeNone   = "none"
	AuthTypeBasic  = "basic"
	AuthTypeAPIKey = "apikey"
)

// Relation store drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// AuthSettings configuration for authentication
type AuthSettings struct {
	Type    string            `mapstructure:"type" yaml:"type"` // AuthTypeNone, AuthTypeBasic, or AuthTypeAPIKey
	Basic   BasicAuthSettings `mapstructure:"basic" yaml:"basic"`
	APIKeys []string          `mapstructure:"api_keys" yaml:"api_keys"`
}

// BasicAuthSettings configuration for basic auth
type BasicAuthSettings struct {
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

// RelationsSettings configures the relation store used for cross-references.
type RelationsSettings struct {
	Driver      string        `mapstructure:"driver" yaml:"driver"`
	DSN         string        `mapstructure:"dsn" yaml:"dsn"`
	RowLimit    int           `mapstructure:"row_limit" yaml:"row_limit"`
	LockTimeout time.Duration `mapstructure:"lock_timeout" yaml:"lock_timeout"`
}

// ConvertSettings configures XML conversion.
type ConvertSettings struct {
	BatchSize          int    `mapstructure:"batch_size" yaml:"batch_size"`
	MaxCollectionItems int    `mapstructure:"max_collection_items" yaml:"max_collection_items"`
	Recover            bool   `mapstructure:"recover" yaml:"recover"`
	Center             string `mapstructure:"center" yaml:"center"`
}

// IndexSettings configures the search index and bulk synchronization.
type IndexSettings struct {
	BaseDir         string        `mapstructure:"base_dir" yaml:"base_dir"`
	BatchSize       int           `mapstructure:"batch_size" yaml:"batch_size"`
	MaxRetries      int           `mapstructure:"max_retries" yaml:"max_retries"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	RefreshInterval string        `mapstructure:"refresh_interval" yaml:"refresh_interval"`
	MaxErrors       int           `mapstructure:"max_errors" yaml:"max_errors"`
}

// ServerSettings configures the MCP server.
type ServerSettings struct {
	Transport  string       `mapstructure:"transport" yaml:"transport"`
	Host       string       `mapstructure:"host" yaml:"host"`
	Port       int          `mapstructure:"port" yaml:"port"`
	MaxResults int          `mapstructure:"max_results" yaml:"max_results"`
	Auth       AuthSettings `mapstructure:"auth" yaml:"auth"`
}

// Settings application settings
type Settings struct {
	LogLevel  string            `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string            `mapstructure:"log_format" yaml:"log_format"`
	Workers   int               `mapstructure:"workers" yaml:"workers"`
	Relations RelationsSettings `mapstructure:"relations" yaml:"relations"`
	Convert   ConvertSettings   `mapstructure:"convert" yaml:"convert"`
	Index     IndexSettings     `mapstructure:"index" yaml:"index"`
	Server    ServerSettings    `mapstructure:"server" yaml:"server"`
}

// flagBindings maps setting keys to the CLI flags that override them.
// Flags absent from a command's flag set are skipped.
var flagBindings = map[string]string{
	"log_level":                    "log-level",
	"log_format":                   "log-format",
	"workers":                      "workers",
	"relations.driver":             "relations-driver",
	"relations.dsn":                "relations-dsn",
	"relations.row_limit":          "row-limit",
	"relations.lock_timeout":       "lock-timeout",
	"convert.batch_size":           "batch-size",
	"convert.max_collection_items": "max-collection-items",
	"convert.recover":              "recover",
	"convert.center":               "center",
	"index.base_dir":               "index-dir",
	"index.batch_size":             "batch-size",
	"index.max_retries":            "max-retries",
	"index.request_timeout":        "request-timeout",
	"index.refresh_interval":       "refresh-interval",
	"index.max_errors":             "max-errors",
	"server.transport":             "transport",
	"server.host":                  "host",
	"server.port":                  "port",
	"server.max_results":           "max-results",
	"server.auth.type":             "auth-type",
	"server.auth.basic.username":   "auth-basic-username",
	"server.auth.basic.password":   "auth-basic-password",
	"server.auth.api_keys":         "auth-api-keys",
}

// LoadSettings loads settings from environment variables and optional .env file
func LoadSettings() (*Settings, error) {
	return LoadSettingsWithFlags(nil)
}

// LoadSettingsWithFlags loads settings with optional CLI flag overrides.
// Priority: CLI flags > environment variables > .env file > config file > defaults.
// If flags is nil, only env vars and defaults are used.
func LoadSettingsWithFlags(flags *pflag.FlagSet) (*Settings, error) {
	// .env never overrides variables already set in the environment
	_ = godotenv.Load()

	v := viper.New()

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("workers", 4)

	v.SetDefault("relations.driver", DriverSQLite)
	v.SetDefault("relations.dsn", "")
	v.SetDefault("relations.row_limit", 10000)
	v.SetDefault("relations.lock_timeout", 5*time.Minute)

	v.SetDefault("convert.batch_size", 10000)
	v.SetDefault("convert.max_collection_items", 256)
	v.SetDefault("convert.recover", false)
	v.SetDefault("convert.center", "")

	v.SetDefault("index.base_dir", defaultBaseDir())
	v.SetDefault("index.batch_size", 5000)
	v.SetDefault("index.max_retries", 3)
	v.SetDefault("index.request_timeout", 600*time.Second)
	v.SetDefault("index.refresh_interval", "1s")
	v.SetDefault("index.max_errors", 100)

	v.SetDefault("server.transport", "stdio")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_results", 20)
	v.SetDefault("server.auth.type", AuthTypeNone)

	// Environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Nested keys need explicit bindings for Unmarshal to see them
	for key := range flagBindings {
		_ = v.BindEnv(key, envName(key))
	}

	if flags != nil {
		for key, name := range flagBindings {
			if f := flags.Lookup(name); f != nil {
				_ = v.BindPFlag(key, f)
			}
		}

		if f := flags.Lookup("config"); f != nil && f.Value.String() != "" {
			v.SetConfigFile(expandHomeDir(f.Value.String()))
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, err
	}

	// Handle explicit parsing of API keys if provided via env var as comma-separated string
	apiKeysEnv := os.Getenv(envName("server.auth.api_keys"))
	if apiKeysEnv != "" {
		if len(settings.Server.Auth.APIKeys) == 0 || (len(settings.Server.Auth.APIKeys) == 1 && strings.Contains(settings.Server.Auth.APIKeys[0], ",")) {
			settings.Server.Auth.APIKeys = strings.Split(apiKeysEnv, ",")
		}
	}
	for i := range settings.Server.Auth.APIKeys {
		settings.Server.Auth.APIKeys[i] = strings.TrimSpace(settings.Server.Auth.APIKeys[i])
	}
	settings.Server.Auth.APIKeys = filterEmptyStrings(settings.Server.Auth.APIKeys)

	settings.Index.BaseDir = expandHomeDir(settings.Index.BaseDir)
	if settings.Relations.Driver == DriverSQLite {
		settings.Relations.DSN = expandHomeDir(settings.Relations.DSN)
	}
	settings.LogLevel = strings.ToLower(settings.LogLevel)
	settings.LogFormat = strings.ToLower(settings.LogFormat)

	return &settings, nil
}

// envName returns the environment variable for a settings key.
func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// defaultBaseDir returns the default base directory for index data
func defaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ddbj-search"
	}
	return filepath.Join(home, ".ddbj-search")
}

// expandHomeDir expands ~ to the user's home directory
func expandHomeDir(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}
	return path
}

// filterEmptyStrings removes empty strings from a slice
func filterEmptyStrings(s []string) []string {
	var result []string
	for _, str := range s {
		if str != "" {
			result = append(result, str)
		}
	}
	return result
}

// ValidateSettings checks for conflicting configurations.
func ValidateSettings(s *Settings) error {
	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("log-level must be one of debug, info, warn, error, got: " + s.LogLevel)
	}
	switch s.LogFormat {
	case "text", "json":
	default:
		return errors.New("log-format must be 'text' or 'json', got: " + s.LogFormat)
	}
	if s.Workers <= 0 {
		return errors.New("workers must be positive")
	}

	if err := validateRelationsSettings(&s.Relations); err != nil {
		return err
	}
	if err := validateConvertSettings(&s.Convert); err != nil {
		return err
	}
	if err := validateIndexSettings(&s.Index); err != nil {
		return err
	}
	return validateServerSettings(&s.Server)
}

func validateRelationsSettings(r *RelationsSettings) error {
	switch r.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return errors.New("relations-driver must be 'sqlite' or 'postgres', got: " + r.Driver)
	}
	if r.RowLimit <= 0 {
		return errors.New("row-limit must be positive")
	}
	if r.LockTimeout < 0 {
		return errors.New("lock-timeout cannot be negative")
	}
	return nil
}

func validateConvertSettings(c *ConvertSettings) error {
	if c.BatchSize <= 0 {
		return errors.New("convert batch-size must be positive")
	}
	if c.MaxCollectionItems <= 0 {
		return errors.New("max-collection-items must be positive")
	}
	switch strings.ToUpper(c.Center) {
	case "", "DDBJ", "NCBI", "EBI":
	default:
		return errors.New("center must be DDBJ, NCBI or EBI, got: " + c.Center)
	}
	return nil
}

func validateIndexSettings(i *IndexSettings) error {
	if i.BaseDir == "" {
		return errors.New("index-dir cannot be empty")
	}
	if i.BatchSize <= 0 {
		return errors.New("index batch-size must be positive")
	}
	if i.MaxRetries < 0 {
		return errors.New("max-retries cannot be negative")
	}
	if i.RequestTimeout <= 0 {
		return errors.New("request-timeout must be positive")
	}
	if i.MaxErrors <= 0 {
		return errors.New("max-errors must be positive")
	}
	if i.RefreshInterval == "" || i.RefreshInterval == "-1" {
		return errors.New("refresh-interval must be a positive interval")
	}
	if _, err := time.ParseDuration(i.RefreshInterval); err != nil {
		return fmt.Errorf("invalid refresh-interval: %w", err)
	}
	return nil
}

// validateServerSettings rejects mutually exclusive or incomplete auth config.
func validateServerSettings(s *ServerSettings) error {
	switch s.Transport {
	case "stdio", "sse":
		// valid
	default:
		return errors.New("transport must be 'stdio' or 'sse', got: " + s.Transport)
	}
	if s.MaxResults <= 0 {
		return errors.New("max-results must be positive")
	}

	hasBasicCreds := s.Auth.Basic.Username != "" || s.Auth.Basic.Password != ""
	hasAPIKeys := len(s.Auth.APIKeys) > 0

	switch s.Auth.Type {
	case AuthTypeNone, "":
		if hasBasicCreds || hasAPIKeys {
			return errors.New("auth-type 'none' is incompatible with auth credentials")
		}
	case AuthTypeBasic:
		if hasAPIKeys {
			return errors.New("auth-type 'basic' is mutually exclusive with auth-api-keys")
		}
		if s.Auth.Basic.Username == "" || s.Auth.Basic.Password == "" {
			return errors.New("auth-type 'basic' requires both username and password")
		}
	case AuthTypeAPIKey:
		if hasBasicCreds {
			return errors.New("auth-type 'apikey' is mutually exclusive with basic auth credentials")
		}
		if !hasAPIKeys {
			return errors.New("auth-type 'apikey' requires at least one API key")
		}
	default:
		return errors.New("unknown auth-type: " + s.Auth.Type)
	}
	return nil
}
