package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setVaultEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("VAULT_ADDRESS", "0x5FbDB2315678afecb367f032d93F642f64180aa3")
	t.Setenv("VAULT_ADMIN_ADDRESS", "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266")
	t.Setenv("VAULT_DEPOSIT_FEE_BPS", "500")
	t.Setenv("VAULT_YIELD_RATE_BPS", "1000")
	t.Setenv("VAULT_WITHDRAWAL_DELAY", "3600")
	t.Setenv("VAULT_SIM_SUPPLY", "1000000000000000000000")
}

func TestLoadVaultSection(t *testing.T) {
	setVaultEnv(t)
	cfg := Load()

	assert.Equal(t, "0x5fbdb2315678afecb367f032d93f642f64180aa3", cfg.Vault.Address)
	assert.Equal(t, "memory", cfg.Vault.Store)
	assert.Equal(t, int64(500), cfg.Vault.DepositFeeBps)
	assert.Equal(t, int64(3600), cfg.Vault.WithdrawalDelaySeconds)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.False(t, cfg.Redis.Enabled())
	require.NoError(t, cfg.ValidateCore())
}

func TestWithdrawalDelayAcceptsDuration(t *testing.T) {
	setVaultEnv(t)
	t.Setenv("VAULT_WITHDRAWAL_DELAY", "2h")
	assert.Equal(t, int64(7200), Load().Vault.WithdrawalDelaySeconds)
}

func TestValidateCore(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"default jwt secret", map[string]string{"JWT_SECRET": ""}, "JWT_SECRET"},
		{"postgres without url", map[string]string{"VAULT_STORE": "postgres", "DATABASE_URL": ""}, "DATABASE_URL"},
		{"fee out of range", map[string]string{"VAULT_DEPOSIT_FEE_BPS": "10001"}, "DepositFeeBps"},
		{"bad vault address", map[string]string{"VAULT_ADDRESS": "0x1234"}, "Address"},
		{"zero vault address", map[string]string{"VAULT_ADDRESS": "0x0000000000000000000000000000000000000000"}, "Address"},
		{"unknown store", map[string]string{"VAULT_STORE": "sqlite"}, "Store"},
		{"fractional supply", map[string]string{"VAULT_SIM_SUPPLY": "1.5"}, "SimSupply"},
		{"unknown log level", map[string]string{"LOG_LEVEL": "chatty"}, "Level"},
		{"unknown target version", map[string]string{"VAULT_VERSION": "v4"}, "Version"},
		{"target version without admin", map[string]string{"VAULT_VERSION": "v2", "VAULT_SIM_SUPPLY": "", "VAULT_ADMIN_ADDRESS": ""}, "VAULT_ADMIN_ADDRESS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setVaultEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			err := Load().ValidateCore()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
