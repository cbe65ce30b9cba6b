// Package config loads and validates service configuration.
package config

import (
	"fmt"
	"strings"

	"tokenvault/pkg/validator"
)

// ValidateCore ensures critical configuration is present and in range.
func (c *Config) ValidateCore() error {
	var missing []string

	if strings.TrimSpace(c.Server.Port) == "" {
		missing = append(missing, "SERVER_PORT")
	}
	if strings.TrimSpace(c.JWT.Secret) == "" || c.JWT.Secret == "change-this-secret" {
		missing = append(missing, "JWT_SECRET")
	}
	if strings.TrimSpace(c.Vault.Address) == "" {
		missing = append(missing, "VAULT_ADDRESS")
	}
	if c.Vault.Store == "postgres" && strings.TrimSpace(c.Database.URL) == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if (c.Vault.SimSupply != "" || c.Vault.Version != "") && strings.TrimSpace(c.Vault.Admin) == "" {
		missing = append(missing, "VAULT_ADMIN_ADDRESS")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	v := validator.New()
	sections := []struct {
		name  string
		value interface{}
	}{
		{"server", &c.Server},
		{"vault", &c.Vault},
		{"log", &c.Log},
	}
	for _, s := range sections {
		if err := v.Validate(s.value); err != nil {
			return fmt.Errorf("invalid %s configuration: %w", s.name, err)
		}
	}
	return nil
}
