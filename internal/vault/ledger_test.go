package vault

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenvault/internal/domain"
	"tokenvault/pkg/errors"
)

func TestNetOfFee(t *testing.T) {
	tests := []struct {
		name   string
		amount decimal.Decimal
		fee    int64
		want   decimal.Decimal
	}{
		{"five percent of 1000", decimal.NewFromInt(1000), 500, decimal.NewFromInt(950)},
		{"five percent of 100 ether", ether(100), 500, ether(95)},
		{"rounds in the vault's favour", decimal.NewFromInt(19), 500, decimal.NewFromInt(18)},
		{"dust credits nothing", decimal.NewFromInt(1), 500, decimal.Zero},
		{"no fee", decimal.NewFromInt(777), 0, decimal.NewFromInt(777)},
		{"full fee", decimal.NewFromInt(777), 10000, decimal.Zero},
		{"one bps", decimal.NewFromInt(10001), 1, decimal.NewFromInt(9999)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertDecimal(t, tt.want, NetOfFee(tt.amount, tt.fee))
		})
	}
}

func TestDeposit(t *testing.T) {
	f := newFixture(t)

	credited, err := f.vault.Deposit(f.ctx, user, ether(100))
	require.NoError(t, err)

	assertDecimal(t, ether(95), credited)
	assertDecimal(t, ether(95), f.vault.BalanceOf(user))
	assertDecimal(t, ether(95), f.vault.TotalDeposits())
	assertDecimal(t, ether(900), f.tokenBalance(t, user))
	assertDecimal(t, ether(100), f.tokenBalance(t, vaultAddr))
	assert.Equal(t, int64(feeBps), f.vault.DepositFee())
	assert.Equal(t, tokenAddr, f.vault.Asset())
	assert.Equal(t, "V1", f.vault.ImplementationVersion())
}

func TestDepositRejectsBadAmounts(t *testing.T) {
	f := newFixture(t)

	for _, amount := range []decimal.Decimal{
		decimal.Zero,
		decimal.NewFromInt(-5),
		decimal.RequireFromString("1.5"),
	} {
		_, err := f.vault.Deposit(f.ctx, user, amount)
		assert.ErrorIs(t, err, errors.ErrInvalidParameter, "amount %s", amount)
	}
	assert.True(t, f.vault.TotalDeposits().IsZero())
}

func TestDepositWithoutAllowanceFails(t *testing.T) {
	f := newFixture(t)

	_, err := f.vault.Deposit(f.ctx, user, ether(2000))
	assert.ErrorIs(t, err, errors.ErrTransferFailed)
	assert.True(t, f.vault.BalanceOf(user).IsZero())
	assert.True(t, f.vault.TotalDeposits().IsZero())
	assertDecimal(t, ether(1000), f.tokenBalance(t, user))
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t)
	_, err := f.vault.Deposit(f.ctx, user, ether(100))
	require.NoError(t, err)

	payout, err := f.vault.Withdraw(f.ctx, user, ether(45))
	require.NoError(t, err)

	assertDecimal(t, ether(45), payout.Principal)
	assert.True(t, payout.Yield.IsZero())
	assertDecimal(t, ether(50), f.vault.BalanceOf(user))
	assertDecimal(t, ether(50), f.vault.TotalDeposits())
	assertDecimal(t, ether(945), f.tokenBalance(t, user))
	f.assertConserved(t)
}

func TestWithdrawBound(t *testing.T) {
	f := newFixture(t)
	_, err := f.vault.Deposit(f.ctx, user, ether(100))
	require.NoError(t, err)

	_, err = f.vault.Withdraw(f.ctx, user, ether(96))
	assert.ErrorIs(t, err, errors.ErrInsufficientBalance)
	assert.Contains(t, err.Error(), "Insufficient balance")

	_, err = f.vault.Withdraw(f.ctx, operator, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, errors.ErrInsufficientBalance)

	assertDecimal(t, ether(95), f.vault.BalanceOf(user))
	assertDecimal(t, ether(95), f.vault.TotalDeposits())
	assertDecimal(t, ether(900), f.tokenBalance(t, user))
	_, exists := f.vault.Snapshot().Accounts[operator]
	assert.False(t, exists, "failed call must not leave an account behind")
}

func TestUninitializedProxy(t *testing.T) {
	f := newFixture(t)
	v := NewProxy(newVaultConfig(f.token, f.clock))

	_, err := v.Deposit(f.ctx, user, ether(1))
	assert.ErrorIs(t, err, errors.ErrNotInitialized)
	assert.Equal(t, "none", v.ImplementationVersion())
	assert.Equal(t, domain.VersionNone, v.Version())
}

func TestV1LacksLaterOperations(t *testing.T) {
	f := newFixture(t)

	_, err := f.vault.ClaimYield(f.ctx, user)
	assert.ErrorIs(t, err, errors.ErrNotSupported)

	_, err = f.vault.YieldRate()
	assert.ErrorIs(t, err, errors.ErrNotSupported)

	err = f.vault.PauseDeposits(f.ctx, admin)
	assert.ErrorIs(t, err, errors.ErrNotSupported)

	err = f.vault.RequestWithdrawal(f.ctx, user, ether(1))
	assert.ErrorIs(t, err, errors.ErrNotSupported)

	_, err = f.vault.WithdrawalDelay()
	assert.ErrorIs(t, err, errors.ErrNotSupported)
}
