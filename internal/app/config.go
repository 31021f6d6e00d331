package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/florianilch/ticketbridge/internal/atlassian"
	"github.com/florianilch/ticketbridge/internal/fields"
	"github.com/florianilch/ticketbridge/internal/observability"
	"github.com/florianilch/ticketbridge/internal/toolchannel"
	"github.com/florianilch/ticketbridge/internal/usage"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// CredentialStorageType represents the different storage types supported for credentials.
type CredentialStorageType string

const (
	CredentialStorageTypeFile    CredentialStorageType = "file"
	CredentialStorageTypeEnv     CredentialStorageType = "env"
	CredentialStorageTypeKeyring CredentialStorageType = "keyring"
	CredentialStorageTypeSQLite  CredentialStorageType = "sqlite"
)

// appDirName is the directory below the user config dir holding local state.
const appDirName = "ticketbridge"

// Default configuration values
const (
	DefaultConfigLogFormat               = LogFormatText
	DefaultConfigServerHost              = "127.0.0.1"
	DefaultConfigServerPort              = 4000
	DefaultConfigShutdownTimeout         = 5 * time.Second
	DefaultConfigAuthPrincipal           = "system"
	DefaultConfigAuthStorage             = CredentialStorageTypeFile
	DefaultConfigAuthKeyringService      = "ticketbridge-credentials"
	DefaultConfigAtlassianAuthBaseURL    = atlassian.DefaultAuthBaseURL
	DefaultConfigAtlassianAPIBaseURL     = atlassian.DefaultAPIBaseURL
	DefaultConfigAtlassianRequestTimeout = 30 * time.Second
	DefaultConfigRetryMaxAttempts        = 1
	DefaultConfigRetryInitialInterval    = 500 * time.Millisecond
	DefaultConfigRetryMaxInterval        = 10 * time.Second
	DefaultConfigMetricInterval          = time.Minute
	DefaultConfigSearchMaxResults        = 50
)

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// TelemetryConfig selects log, trace and metric exporters.
type TelemetryConfig struct {
	LogExporter    string        `json:"log_exporter" validate:"omitempty,oneof=stdout otlp-http otlp-grpc"`
	OTLPEndpoint   string        `json:"otlp_endpoint" validate:"omitempty,url"`
	Traces         bool          `json:"traces"`
	Metrics        bool          `json:"metrics"`
	MetricInterval time.Duration `json:"metric_interval"`
}

// Options converts the telemetry settings into observability options.
func (t TelemetryConfig) Options() []observability.Option {
	return []observability.Option{
		observability.WithLogExporter(t.LogExporter, t.OTLPEndpoint),
		observability.WithTraces(t.Traces),
		observability.WithMetrics(t.Metrics, t.MetricInterval),
	}
}

// AtlassianConfig describes the OAuth client and the site it addresses.
type AtlassianConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectURL  string `json:"redirect_url" validate:"omitempty,url"`

	AuthBaseURL string `json:"auth_base_url" validate:"required,url"`
	APIBaseURL  string `json:"api_base_url" validate:"required,url"`

	// CloudID pins the tenant. Without it the tenant is discovered, matching
	// SiteURL when set.
	CloudID string `json:"cloud_id"`
	SiteURL string `json:"site_url" validate:"omitempty,url"`

	// RequestTimeout bounds each REST call on top of the caller's context.
	RequestTimeout time.Duration `json:"request_timeout"`
}

// AuthConfig describes where the principal's credential is stored.
type AuthConfig struct {
	Principal string                `json:"principal" validate:"required"`
	Storage   CredentialStorageType `json:"storage" validate:"required,oneof=file env keyring sqlite"`

	// Storage-specific settings (mutually exclusive based on Storage type)
	File           string `json:"file,omitempty"`            // For file storage: path to credential file
	EnvKey         string `json:"env_key,omitempty"`         // For env storage: environment variable name
	KeyringService string `json:"keyring_service,omitempty"` // For keyring storage: service name
	Database       string `json:"database,omitempty"`        // For sqlite storage: database path
}

// CacheConfig locates the snapshot cache.
type CacheConfig struct {
	File string `json:"file"`

	// Watch reloads the cache when another process rewrites the file.
	Watch bool `json:"watch"`
}

// FieldsConfig configures field identifiers used on writes.
type FieldsConfig struct {
	SummaryField string            `json:"summary_field"`
	Aliases      map[string]string `json:"aliases"`
}

// ToolChannelConfig locates the tool gateway of the browser context.
type ToolChannelConfig struct {
	GatewayURL   string        `json:"gateway_url" validate:"omitempty,url"`
	Token        string        `json:"token"`
	ProbeTimeout time.Duration `json:"probe_timeout"`
}

// UsageConfig configures template usage bookkeeping.
type UsageConfig struct {
	Disabled bool          `json:"disabled"`
	Database string        `json:"database"`
	Timeout  time.Duration `json:"timeout"`
}

// RetryConfig is the caller-side retry policy for transport failures.
type RetryConfig struct {
	// MaxAttempts counts the first attempt; 1 disables retries.
	MaxAttempts     uint          `json:"max_attempts" validate:"min=1,max=10"`
	InitialInterval time.Duration `json:"initial_interval"`
	MaxInterval     time.Duration `json:"max_interval"`
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel    slog.Level        `json:"log_level"`
	LogFormat   LogFormat         `json:"log_format" validate:"oneof=text json"`
	Telemetry   TelemetryConfig   `json:"telemetry"`
	Server      ServerConfig      `json:"server"`
	Shutdown    ShutdownConfig    `json:"shutdown"`
	Atlassian   AtlassianConfig   `json:"atlassian"`
	Auth        AuthConfig        `json:"auth"`
	Cache       CacheConfig       `json:"cache"`
	Fields      FieldsConfig      `json:"fields"`
	ToolChannel ToolChannelConfig `json:"toolchannel"`
	Usage       UsageConfig       `json:"usage"`
	Retry       RetryConfig       `json:"retry"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Telemetry.MetricInterval == 0 {
		c.Telemetry.MetricInterval = DefaultConfigMetricInterval
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}
	if c.Atlassian.AuthBaseURL == "" {
		c.Atlassian.AuthBaseURL = DefaultConfigAtlassianAuthBaseURL
	}
	if c.Atlassian.APIBaseURL == "" {
		c.Atlassian.APIBaseURL = DefaultConfigAtlassianAPIBaseURL
	}
	if c.Atlassian.RedirectURL == "" {
		c.Atlassian.RedirectURL = fmt.Sprintf("http://%s:%d/oauth/callback", c.Server.Host, c.Server.Port)
	}
	if c.Atlassian.RequestTimeout == 0 {
		c.Atlassian.RequestTimeout = DefaultConfigAtlassianRequestTimeout
	}
	if c.Auth.Principal == "" {
		c.Auth.Principal = DefaultConfigAuthPrincipal
	}
	if c.Auth.Storage == "" {
		c.Auth.Storage = DefaultConfigAuthStorage
	}
	if c.Fields.SummaryField == "" {
		c.Fields.SummaryField = fields.DefaultSummaryField
	}
	if c.ToolChannel.ProbeTimeout == 0 {
		c.ToolChannel.ProbeTimeout = toolchannel.DefaultProbeTimeout
	}
	if c.Usage.Timeout == 0 {
		c.Usage.Timeout = usage.DefaultTimeout
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = DefaultConfigRetryMaxAttempts
	}
	if c.Retry.InitialInterval == 0 {
		c.Retry.InitialInterval = DefaultConfigRetryInitialInterval
	}
	if c.Retry.MaxInterval == 0 {
		c.Retry.MaxInterval = DefaultConfigRetryMaxInterval
	}

	// Local state lives below the user config dir unless configured.
	needsStateDir := c.Cache.File == "" ||
		(c.Auth.Storage == CredentialStorageTypeFile && c.Auth.File == "") ||
		(c.Auth.Storage == CredentialStorageTypeSQLite && c.Auth.Database == "") ||
		(!c.Usage.Disabled && c.Usage.Database == "")
	if needsStateDir {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("state paths required (auto-detect failed: %w)", err)
		}
		stateDir := filepath.Join(configDir, appDirName)
		database := filepath.Join(stateDir, "state.db")

		if c.Cache.File == "" {
			c.Cache.File = filepath.Join(stateDir, "snapshots.json")
		}
		if !c.Usage.Disabled && c.Usage.Database == "" {
			c.Usage.Database = database
		}
		switch c.Auth.Storage {
		case CredentialStorageTypeFile:
			if c.Auth.File == "" {
				c.Auth.File = filepath.Join(stateDir, "credentials.json")
			}
		case CredentialStorageTypeSQLite:
			if c.Auth.Database == "" {
				c.Auth.Database = database
			}
		}
	}

	// Dynamic defaults based on storage type
	switch c.Auth.Storage {
	case CredentialStorageTypeKeyring:
		if c.Auth.KeyringService == "" {
			c.Auth.KeyringService = DefaultConfigAuthKeyringService
		}
	case CredentialStorageTypeEnv:
		// env_key must be explicitly configured (no sensible default)
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	switch c.Auth.Storage {
	case CredentialStorageTypeFile:
		if c.Auth.File == "" {
			return errors.New("file path required for file storage")
		}
	case CredentialStorageTypeEnv:
		if c.Auth.EnvKey == "" {
			return errors.New("env_key required for env storage")
		}
	case CredentialStorageTypeKeyring:
		if c.Auth.KeyringService == "" {
			return errors.New("keyring_service required for keyring storage")
		}
	case CredentialStorageTypeSQLite:
		if c.Auth.Database == "" {
			return errors.New("database path required for sqlite storage")
		}
	}

	if c.Cache.File == "" {
		return errors.New("cache.file required")
	}
	if c.Retry.InitialInterval > c.Retry.MaxInterval {
		return errors.New("retry.initial_interval must not exceed retry.max_interval")
	}

	return nil
}

// ValidateOAuth checks the settings needed to run the OAuth path.
func (c *Config) ValidateOAuth() error {
	var errs []error
	if c.Atlassian.ClientID == "" {
		errs = append(errs, errors.New("atlassian.client_id required"))
	}
	if c.Atlassian.ClientSecret == "" {
		errs = append(errs, errors.New("atlassian.client_secret required"))
	}
	if c.Atlassian.RedirectURL == "" {
		errs = append(errs, errors.New("atlassian.redirect_url required"))
	}
	return errors.Join(errs...)
}
