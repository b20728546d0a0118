// Package config loads the server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"time"

	"github.com/spf13/viper"

	"github.com/miyamo2/mcp-weather/internal/infrastructure/nws"
)

const (
	defaultPort         = 3001
	defaultSSEKeepAlive = 15 * time.Second

	// DefaultEnvFile is read before the environment when present.
	DefaultEnvFile = ".env"
)

const (
	KeyRoleName            = "role_name"
	KeyTenantID            = "tenant_id"
	KeyClientID            = "client_id"
	KeyPort                = "port"
	KeyLogLevel            = "log_level"
	KeyLogFormat           = "log_format"
	KeyMetricsAddr         = "metrics_addr"
	KeyNWSBaseURL          = "nws_base_url"
	KeyNWSTimeout          = "nws_timeout"
	KeySSEKeepAlive        = "sse_keep_alive"
	KeyRoleCheckLenient    = "role_check_lenient"
	KeyTracingExporter     = "tracing_exporter"
	KeyTracingOTLPEndpoint = "tracing_otlp_endpoint"
)

var (
	ErrRoleNameNotDefined = errors.New("ROLE_NAME not defined.")
	ErrTenantIDNotDefined = errors.New("TENANT_ID not defined.")
	ErrClientIDNotDefined = errors.New("CLIENT_ID not defined.")

	// ErrInvalidValue occurs when a setting is out of its domain.
	ErrInvalidValue = errors.New("invalid configuration value")
)

var (
	logFormats       = []string{"json", "console"}
	tracingExporters = []string{"none", "stdout", "otlp"}
)

// Config is the server configuration.
type Config struct {
	RoleName            string        `mapstructure:"role_name"`
	TenantID            string        `mapstructure:"tenant_id"`
	ClientID            string        `mapstructure:"client_id"`
	Port                int           `mapstructure:"port"`
	LogLevel            string        `mapstructure:"log_level"`
	LogFormat           string        `mapstructure:"log_format"`
	MetricsAddr         string        `mapstructure:"metrics_addr"`
	NWSBaseURL          string        `mapstructure:"nws_base_url"`
	NWSTimeout          time.Duration `mapstructure:"nws_timeout"`
	SSEKeepAlive        time.Duration `mapstructure:"sse_keep_alive"`
	RoleCheckLenient    bool          `mapstructure:"role_check_lenient"`
	TracingExporter     string        `mapstructure:"tracing_exporter"`
	TracingOTLPEndpoint string        `mapstructure:"tracing_otlp_endpoint"`
}

// New returns a viper instance with defaults set and environment lookup enabled.
//
// Flags may be bound to it with BindPFlag before Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyPort, defaultPort)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "json")
	v.SetDefault(KeyMetricsAddr, "")
	v.SetDefault(KeyNWSBaseURL, nws.DefaultBaseURL)
	v.SetDefault(KeyNWSTimeout, time.Duration(0))
	v.SetDefault(KeySSEKeepAlive, defaultSSEKeepAlive)
	v.SetDefault(KeyRoleCheckLenient, false)
	v.SetDefault(KeyTracingExporter, "none")
	v.SetDefault(KeyTracingOTLPEndpoint, "")

	// no defaults, so they have to be bound explicitly
	for _, key := range []string{KeyRoleName, KeyTenantID, KeyClientID} {
		v.BindEnv(key)
	}
	v.AutomaticEnv()
	return v
}

// Load reads envFile, if it exists, and returns the validated configuration.
//
// Variables already set in the environment win over the file.
func Load(v *viper.Viper, envFile string) (*Config, error) {
	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error reading %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first missing or invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.RoleName == "":
		return ErrRoleNameNotDefined
	case c.TenantID == "":
		return ErrTenantIDNotDefined
	case c.ClientID == "":
		return ErrClientIDNotDefined
	case c.Port < 1 || c.Port > 65535:
		return fmt.Errorf("%w: PORT %d", ErrInvalidValue, c.Port)
	case !slices.Contains(logFormats, c.LogFormat):
		return fmt.Errorf("%w: LOG_FORMAT %q", ErrInvalidValue, c.LogFormat)
	case !slices.Contains(tracingExporters, c.TracingExporter):
		return fmt.Errorf("%w: TRACING_EXPORTER %q", ErrInvalidValue, c.TracingExporter)
	case c.NWSTimeout < 0:
		return fmt.Errorf("%w: NWS_TIMEOUT %s", ErrInvalidValue, c.NWSTimeout)
	case c.SSEKeepAlive < 0:
		return fmt.Errorf("%w: SSE_KEEP_ALIVE %s", ErrInvalidValue, c.SSEKeepAlive)
	}
	return nil
}

// Addr returns the listen address of the main server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

