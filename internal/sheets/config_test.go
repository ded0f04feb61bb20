package sheets

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-books-must-balance/internal/common"
)

func withOAuth(mod func(*Config)) Config {
	cfg := DefaultConfig()
	cfg.ClientID = "client"
	cfg.ClientSecret = "secret"
	cfg.RefreshToken = "refresh"
	if mod != nil {
		mod(&cfg)
	}
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	serviceAccount := DefaultConfig()
	serviceAccount.ServiceAccountPath = "/etc/balance/sheets-key.json"

	tests := []struct {
		name   string
		config Config
		field  string
		errMsg string
	}{
		{name: "oauth", config: withOAuth(nil)},
		{name: "service account", config: serviceAccount},
		{name: "no retries", config: withOAuth(func(c *Config) { c.RetryAttempts, c.RetryDelay = 0, 0 })},
		{
			name:   "no credentials",
			config: DefaultConfig(),
			field:  "sheets.service_account_path",
			errMsg: "no Google credentials configured",
		},
		{
			name: "both methods",
			config: withOAuth(func(c *Config) {
				c.ServiceAccountPath = "/etc/balance/sheets-key.json"
			}),
			field:  "sheets.service_account_path",
			errMsg: "not both",
		},
		{
			name:   "partial oauth",
			config: withOAuth(func(c *Config) { c.ClientSecret, c.RefreshToken = "", "" }),
			field:  "sheets.client_secret",
			errMsg: "missing client_secret, refresh_token",
		},
		{
			name:   "batch size",
			config: withOAuth(func(c *Config) { c.BatchSize = 0 }),
			field:  "sheets.batch_size",
		},
		{
			name:   "negative retries",
			config: withOAuth(func(c *Config) { c.RetryAttempts = -1 }),
			field:  "sheets.retry_attempts",
		},
		{
			name:   "negative delay",
			config: withOAuth(func(c *Config) { c.RetryDelay = -time.Second }),
			field:  "sheets.retry_delay",
		},
		{
			name:   "time zone",
			config: withOAuth(func(c *Config) { c.TimeZone = "Mars/Olympus_Mons" }),
			field:  "sheets.time_zone",
			errMsg: "unknown time zone",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.field, common.FieldOf(err))
			assert.Equal(t, common.CodeConfiguration, common.CodeOf(err))
			assert.ErrorIs(t, err, common.ErrInvalidConfig)
			if tt.errMsg != "" {
				assert.Contains(t, err.Error(), tt.errMsg)
			}
		})
	}
}
