// Package sheets exports reconciliation reports to Google Sheets.
package sheets

import (
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/common"
)

// Config controls where and how a reconciliation report is written. Exactly
// one of the service account key or the OAuth2 triple authenticates.
type Config struct {
	ServiceAccountPath string

	ClientID     string
	ClientSecret string
	RefreshToken string

	// SpreadsheetID reuses an existing spreadsheet; otherwise a new one
	// called SpreadsheetName is created per export.
	SpreadsheetID   string
	SpreadsheetName string
	TimeZone        string

	BatchSize        int
	RetryAttempts    int
	RetryDelay       time.Duration
	EnableFormatting bool
}

// DefaultConfig returns the export defaults. Credentials are never defaulted.
func DefaultConfig() Config {
	return Config{
		SpreadsheetName:  "Reconciliation Report",
		TimeZone:         "UTC",
		BatchSize:        1000,
		RetryAttempts:    3,
		RetryDelay:       time.Second,
		EnableFormatting: true,
	}
}

func (c *Config) missingOAuth() []string {
	var missing []string
	for _, f := range []struct{ key, value string }{
		{"client_id", c.ClientID},
		{"client_secret", c.ClientSecret},
		{"refresh_token", c.RefreshToken},
	} {
		if f.value == "" {
			missing = append(missing, f.key)
		}
	}
	return missing
}

// Validate reports the first problem, naming the offending sheets.* key.
func (c *Config) Validate() error {
	missing := c.missingOAuth()
	oauth := len(missing) == 0
	partial := len(missing) > 0 && len(missing) < 3

	switch {
	case c.ServiceAccountPath != "" && (oauth || partial):
		return invalid("service_account_path", "set either a service account or OAuth2 credentials, not both")
	case partial:
		return invalid(missing[0], "OAuth2 credentials are incomplete, missing "+strings.Join(missing, ", "))
	case c.ServiceAccountPath == "" && !oauth:
		return invalid("service_account_path", "no Google credentials configured")
	case c.BatchSize <= 0:
		return invalid("batch_size", "must be positive")
	case c.RetryAttempts < 0:
		return invalid("retry_attempts", "cannot be negative")
	case c.RetryDelay < 0:
		return invalid("retry_delay", "cannot be negative")
	}
	if c.TimeZone != "" {
		if _, err := time.LoadLocation(c.TimeZone); err != nil {
			return invalid("time_zone", fmt.Sprintf("unknown time zone %q", c.TimeZone))
		}
	}
	return nil
}

func invalid(key, msg string) error {
	return &common.AppError{
		Code:    common.CodeConfiguration,
		Field:   "sheets." + key,
		Message: "sheets." + key + ": " + msg,
		Err:     common.ErrInvalidConfig,
	}
}
