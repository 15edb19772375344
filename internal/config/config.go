// Package config loads and validates portsweep configuration files.
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/portsweep/internal/errors"
	"github.com/anstrom/portsweep/internal/logging"
	"github.com/anstrom/portsweep/internal/ports"
)

const (
	configDirPerm  = 0750
	configFilePerm = 0600
)

// Config represents the complete portsweep configuration.
type Config struct {
	// Scanning configuration
	Scanning ScanningConfig `yaml:"scanning" json:"scanning"`

	// Console output configuration
	Output OutputConfig `yaml:"output" json:"output"`

	// Logging configuration
	Logging logging.Config `yaml:"logging" json:"logging"`

	// API configuration
	API APIConfig `yaml:"api" json:"api"`
}

// ScanningConfig holds scan engine settings.
type ScanningConfig struct {
	// Maximum outstanding connection attempts, 0 for one per target
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency" validate:"min=0"`

	// Ports used when none are given on the command line
	DefaultPorts string `yaml:"default_ports" json:"default_ports" validate:"omitempty,portspec"`
}

// OutputConfig holds console reporting settings.
type OutputConfig struct {
	// Most verbose level printed: info, warn, error or debug
	Verbosity string `yaml:"verbosity" json:"verbosity" validate:"required,oneof=info warn error debug"`

	// Output format: text or json
	Format string `yaml:"format" json:"format" validate:"required,oneof=text json"`

	// Colorize level prefixes
	Color bool `yaml:"color" json:"color"`

	// Print a summary table when the scan completes
	Summary bool `yaml:"summary" json:"summary"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	// Listen address
	Host string `yaml:"host" json:"host" validate:"required"`

	// Listen port
	Port int `yaml:"port" json:"port" validate:"min=1,max=65535"`

	// HTTP read timeout
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout" validate:"min=0"`

	// HTTP write timeout
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" validate:"min=0"`

	// Allowed CORS origins
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`

	// Maximum number of concurrently running scans accepted by the API
	MaxScans int `yaml:"max_scans" json:"max_scans" validate:"min=1"`

	// Scan submissions allowed per client and window, 0 disables limiting
	RateLimitRequests int           `yaml:"rate_limit_requests" json:"rate_limit_requests" validate:"min=0"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window" json:"rate_limit_window" validate:"min=0"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Scanning: ScanningConfig{
			MaxConcurrency: 0,
			DefaultPorts:   "",
		},
		Output: OutputConfig{
			Verbosity: "error",
			Format:    "text",
			Color:     true,
			Summary:   false,
		},
		Logging: logging.DefaultConfig(),
		API: APIConfig{
			Host:         "127.0.0.1",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			CORSOrigins:  []string{"*"},
			MaxScans:     4,

			RateLimitRequests: 30,
			RateLimitWindow:   time.Minute,
		},
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to read config file", err)
	}

	// JSON is a subset of YAML, so one decoder covers both extensions.
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("failed to parse %s", filepath.Base(path)), err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), configDirPerm); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, configFilePerm); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("portspec", func(fl validator.FieldLevel) bool {
		_, err := ports.Parse(fl.Field().String())
		return err == nil
	})
	return v
}

// Validator returns the shared validator with the portsweep custom tags
// registered.
func Validator() *validator.Validate {
	return validate
}

// Validate validates the configuration. The first failing field is reported
// as a *errors.ConfigError.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if stderrors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return errors.NewConfigFieldError(errors.CodeConfiguration,
			fmt.Sprintf("failed %q validation", fe.Tag()), fieldPath(fe.Namespace()), fe.Value())
	}
	return errors.WrapConfigError(errors.CodeConfiguration, "invalid configuration", err)
}

// fieldPath turns "Config.Output.Verbosity" into "output.verbosity".
func fieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	return strings.ToLower(strings.Join(parts, "."))
}

// GetAPIAddress returns the full API address.
func (c *Config) GetAPIAddress() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}
