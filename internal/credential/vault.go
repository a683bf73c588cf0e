package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"

	vault "github.com/hashicorp/vault/api"
)

// Environment variable names. BAO_* are accepted when VAULT_* are unset so
// the same OpenBao deployment used for signing keys can hold deployer keys.
const (
	EnvVaultAddr  = "VAULT_ADDR"
	EnvVaultToken = "VAULT_TOKEN"
	EnvBaoAddr    = "BAO_ADDR"
	EnvBaoToken   = "BAO_TOKEN"
)

// ErrVaultNotConfigured is returned when no Vault/OpenBao address is set.
var ErrVaultNotConfigured = errors.New("popdeploy: vault address is not configured")

// VaultClient reads deployer keys from a KV v2 secrets engine.
type VaultClient struct {
	client *vault.Client
}

// NewVaultClient creates a client for addr authenticated with token.
func NewVaultClient(addr, token string) (*VaultClient, error) {
	if addr == "" {
		return nil, ErrVaultNotConfigured
	}

	cfg := vault.DefaultConfig()
	cfg.Address = addr

	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	return &VaultClient{client: client}, nil
}

// NewVaultClientFromEnv resolves address and token from VAULT_* or BAO_* variables.
func NewVaultClientFromEnv(getenv func(string) string) (*VaultClient, error) {
	addr := firstNonEmpty(getenv(EnvVaultAddr), getenv(EnvBaoAddr))
	token := firstNonEmpty(getenv(EnvVaultToken), getenv(EnvBaoToken))
	return NewVaultClient(addr, token)
}

// ReadField returns one field of the secret at path.
// path may be given with or without the "data/" segment after the mount.
func (c *VaultClient) ReadField(ctx context.Context, path, field string) (string, error) {
	path = kvDataPath(path)

	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("read secret at %s: %w", path, err)
	}
	if secret == nil {
		return "", fmt.Errorf("secret not found at path: %s", path)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("unexpected secret format at path: %s", path)
	}

	value, ok := data[field]
	if !ok {
		return "", fmt.Errorf("field %s not found in secret at path: %s", field, path)
	}

	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("field %s at path %s is not a string", field, path)
	}
	return s, nil
}

// kvDataPath inserts "data/" after the mount for KV v2 reads.
func kvDataPath(path string) string {
	path = strings.Trim(path, "/")
	mount, rest, ok := strings.Cut(path, "/")
	if !ok || strings.HasPrefix(rest, "data/") {
		return path
	}
	return mount + "/data/" + rest
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
