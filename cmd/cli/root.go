// Package cli provides the command-line interface of portsweep.
// This package implements the Cobra command tree: one-shot scans from the
// terminal and the long-running API server.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/anstrom/portsweep/internal/config"
	"github.com/anstrom/portsweep/internal/errors"
	"github.com/anstrom/portsweep/internal/logging"
)

const (
	envPrefix         = "PORTSWEEP"
	defaultConfigFile = "config.yaml"
)

var (
	cfgFile string
	verbose bool

	// appConfig is loaded by the root command before any subcommand runs.
	appConfig *config.Config
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "portsweep",
	Short: "Concurrent TCP reachability prober",
	Long: `portsweep attempts a TCP connection to every port of every address in an
IPv4 network and reports each endpoint as open, refused, timed out or
unreachable. Scans run from the terminal or through the HTTP API.`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig(viper.GetViper())
		if err != nil {
			return err
		}
		appConfig = cfg
		initLogging(cfg)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	os.Exit(handleExit(err, os.Stdout, os.Stderr))
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	bindFlags(rootCmd.PersistentFlags().Lookup, map[string]string{
		"config":  "config",
		"verbose": "verbose",
	})
}

// initConfig wires environment variables into viper.
func initConfig() {
	configureEnv(viper.GetViper())
}

// configureEnv maps keys such as "scanning.max_concurrency" to
// PORTSWEEP_SCANNING_MAX_CONCURRENCY.
func configureEnv(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// bindFlags binds viper keys to the flags returned by lookup.
func bindFlags(lookup func(name string) *pflag.Flag, keys map[string]string) {
	for key, name := range keys {
		if err := viper.BindPFlag(key, lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to bind %s flag: %v\n", name, err)
		}
	}
}

// loadConfig reads the config file and applies flag and environment
// overrides on top of it. A missing default file yields the defaults, a
// missing file named explicitly is an error.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	path := v.GetString("config")
	if path == "" {
		path = defaultConfigFile
	} else if _, err := os.Stat(path); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("cannot read config file %s", path), err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	applyOverrides(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyOverrides copies every key set by a flag or environment variable
// into cfg.
func applyOverrides(v *viper.Viper, cfg *config.Config) {
	if v.IsSet("scanning.max_concurrency") {
		cfg.Scanning.MaxConcurrency = v.GetInt("scanning.max_concurrency")
	}
	if v.IsSet("scanning.default_ports") {
		cfg.Scanning.DefaultPorts = v.GetString("scanning.default_ports")
	}

	if v.IsSet("output.verbosity") {
		cfg.Output.Verbosity = strings.ToLower(v.GetString("output.verbosity"))
	}
	if v.IsSet("output.format") {
		cfg.Output.Format = strings.ToLower(v.GetString("output.format"))
	}
	if v.IsSet("output.color") {
		cfg.Output.Color = v.GetBool("output.color")
	}
	if v.IsSet("output.summary") {
		cfg.Output.Summary = v.GetBool("output.summary")
	}

	if v.IsSet("logging.level") {
		cfg.Logging.Level = logging.LogLevel(v.GetString("logging.level"))
	}
	if v.IsSet("logging.format") {
		cfg.Logging.Format = logging.LogFormat(v.GetString("logging.format"))
	}
	if v.GetBool("verbose") {
		cfg.Logging.Level = logging.LevelDebug
	}

	if v.IsSet("api.host") {
		cfg.API.Host = v.GetString("api.host")
	}
	if v.IsSet("api.port") {
		cfg.API.Port = v.GetInt("api.port")
	}
	if v.IsSet("api.max_scans") {
		cfg.API.MaxScans = v.GetInt("api.max_scans")
	}
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

// initLogging initializes structured logging based on configuration.
func initLogging(cfg *config.Config) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	logging.SetDefault(logger)

	if verbose {
		logger.Debug("Structured logging initialized",
			"level", cfg.Logging.Level,
			"format", cfg.Logging.Format)
	}
}
