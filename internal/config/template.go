package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Bidon15/popdeploy/internal/deployer"
	"github.com/Bidon15/popdeploy/internal/logging"
	"github.com/Bidon15/popdeploy/internal/network"
)

const templateHeader = `# popdeploy configuration
#
# Settings can be overridden with POPDEPLOY_* environment variables
# (e.g. POPDEPLOY_NETWORK, POPDEPLOY_CONFIRM_TIMEOUT) and command-line flags.
# Credentials are sources, never keys: env:NAME, keystore:PATH or vault:PATH#FIELD.

`

// fileConfig is the on-disk layout written by WriteTemplate.
type fileConfig struct {
	Network        string        `yaml:"network,omitempty"`
	Artifact       string        `yaml:"artifact,omitempty"`
	Confirmations  uint64        `yaml:"confirmations"`
	DialTimeout    string        `yaml:"dial_timeout"`
	RequestTimeout string        `yaml:"request_timeout"`
	ConfirmTimeout string        `yaml:"confirm_timeout"`
	PollInterval   string        `yaml:"poll_interval"`
	Pushgateway    string        `yaml:"pushgateway,omitempty"`
	Log            fileLog       `yaml:"log"`
	Networks       network.Table `yaml:"networks"`
}

type fileLog struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Template renders a config file with default settings and the built-in
// network table.
func Template(networkName, artifactPath string) ([]byte, error) {
	fc := fileConfig{
		Network:        networkName,
		Artifact:       artifactPath,
		Confirmations:  deployer.DefaultConfirmations,
		DialTimeout:    deployer.DefaultDialTimeout.String(),
		RequestTimeout: deployer.DefaultRequestTimeout.String(),
		ConfirmTimeout: deployer.DefaultConfirmTimeout.String(),
		PollInterval:   deployer.DefaultPollInterval.String(),
		Log:            fileLog{Level: "info", Format: logging.FormatText},
		Networks:       network.Builtin(),
	}

	var buf bytes.Buffer
	buf.WriteString(templateHeader)

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(fc); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteTemplate writes Template output to path.
func WriteTemplate(path, networkName, artifactPath string) error {
	data, err := Template(networkName, artifactPath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
