// Package vault loads exchange credentials from HashiCorp Vault. When Vault
// is disabled the engine falls back to credentials from the environment.
package vault

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/api"
	"github.com/rs/zerolog"

	"perp-trade-engine/config"
)

// Credentials are the exchange API credentials stored in Vault.
type Credentials struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
}

// Client wraps the Vault API client.
type Client struct {
	client *api.Client
	config config.VaultConfig
	logger zerolog.Logger
}

// NewClient creates a Vault client. With Vault disabled the client is inert
// and LoadCredentials returns an error.
func NewClient(cfg config.VaultConfig, logger zerolog.Logger) (*Client, error) {
	c := &Client{
		config: cfg,
		logger: logger.With().Str("component", "Vault").Logger(),
	}
	if !cfg.Enabled {
		return c, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	c.client = client
	return c, nil
}

// IsEnabled reports whether Vault is configured.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// LoadCredentials reads the exchange credentials from the configured KV v2
// secret path.
func (c *Client) LoadCredentials(ctx context.Context) (*Credentials, error) {
	if !c.config.Enabled {
		return nil, fmt.Errorf("vault is disabled")
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.config.SecretPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no credentials at vault path %s", c.config.SecretPath)
	}

	// KV v2 nests the payload under "data".
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		data = secret.Data
	}

	creds := &Credentials{
		APIKey:    getString(data, "api_key"),
		SecretKey: getString(data, "secret_key"),
	}
	if creds.APIKey == "" || creds.SecretKey == "" {
		return nil, fmt.Errorf("vault secret at %s is missing api_key or secret_key", c.config.SecretPath)
	}

	c.logger.Info().Str("path", c.config.SecretPath).Msg("Loaded exchange credentials from Vault")
	return creds, nil
}

// Health checks the Vault connection and seal status.
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
