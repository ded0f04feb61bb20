package config

import (
	"github.com/Veraticus/the-books-must-balance/internal/plaid"
)

// PlaidClientConfig converts the plaid section into a validated client config.
func (c *Config) PlaidClientConfig() (*plaid.Config, error) {
	cfg := &plaid.Config{
		ClientID:    c.Plaid.ClientID,
		Secret:      c.Plaid.Secret,
		Environment: c.Plaid.Environment,
		AccessToken: c.Plaid.AccessToken,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
