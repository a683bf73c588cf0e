// Package config loads popdeploy settings from flags, environment, config
// file and defaults, in that order of priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/Bidon15/popdeploy/internal/deployer"
	"github.com/Bidon15/popdeploy/internal/logging"
	"github.com/Bidon15/popdeploy/internal/network"
)

const (
	// EnvPrefix prefixes every environment variable read by viper.
	EnvPrefix = "POPDEPLOY"

	// DefaultConfigName is the config file name without extension.
	DefaultConfigName = "popdeploy"

	// DefaultEnvFile is loaded from the working directory when present.
	DefaultEnvFile = ".env"
)

// ErrInvalidConfig is returned when the loaded configuration fails validation.
var ErrInvalidConfig = errors.New("popdeploy: invalid configuration")

// Config is the resolved configuration for one run.
type Config struct {
	Network  string `mapstructure:"network"`
	Artifact string `mapstructure:"artifact"`

	// GasLimit is raw operator input; see gaslimit.Parse.
	GasLimit string `mapstructure:"gas_limit"`
	NoPrompt bool   `mapstructure:"no_prompt"`

	Confirmations  uint64        `mapstructure:"confirmations" validate:"gte=1"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout" validate:"gt=0"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout" validate:"gt=0"`
	PollInterval   time.Duration `mapstructure:"poll_interval" validate:"gt=0"`

	// Pushgateway receives run metrics when set.
	Pushgateway string `mapstructure:"pushgateway" validate:"omitempty,url"`

	Log LogConfig `mapstructure:"log"`

	// Networks holds the built-in table merged with config file entries.
	Networks network.Table `mapstructure:"networks"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// SetDefaults registers default values and environment bindings on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("network", "")
	v.SetDefault("artifact", "")
	v.SetDefault("gas_limit", "")
	v.SetDefault("no_prompt", false)
	v.SetDefault("confirmations", deployer.DefaultConfirmations)
	v.SetDefault("dial_timeout", deployer.DefaultDialTimeout)
	v.SetDefault("request_timeout", deployer.DefaultRequestTimeout)
	v.SetDefault("confirm_timeout", deployer.DefaultConfirmTimeout)
	v.SetDefault("poll_interval", deployer.DefaultPollInterval)
	v.SetDefault("pushgateway", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", logging.FormatText)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// ReadFile reads the config file at path, or searches the working
// directory and home directory for popdeploy.yaml when path is empty.
// A missing default file is not an error.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName(DefaultConfigName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// Load decodes v into a Config, merges the network table over the
// built-in networks and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Networks = network.Builtin().Merge(cfg.Networks)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}
	if err := cfg.Networks.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SelectedNetwork resolves the configured network name.
func (c *Config) SelectedNetwork() (network.Network, error) {
	if c.Network == "" {
		return network.Network{}, fmt.Errorf("%w: no network selected (available: %s)",
			network.ErrUnknownNetwork, strings.Join(c.Networks.Names(), ", "))
	}
	return c.Networks.Lookup(c.Network)
}

// DeployerConfig maps the run settings onto deployer.Config.
func (c *Config) DeployerConfig() deployer.Config {
	return deployer.Config{
		DialTimeout:    c.DialTimeout,
		RequestTimeout: c.RequestTimeout,
		ConfirmTimeout: c.ConfirmTimeout,
		Confirmations:  c.Confirmations,
		PollInterval:   c.PollInterval,
	}
}
