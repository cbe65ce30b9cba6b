package vault

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenvault/internal/domain"
	"tokenvault/pkg/errors"
)

func TestUpgradePreservesLedger(t *testing.T) {
	f := newFixture(t)
	_, err := f.vault.Deposit(f.ctx, user, ether(100))
	require.NoError(t, err)

	f.toV2(t)

	assert.Equal(t, "V2", f.vault.ImplementationVersion())
	assertDecimal(t, ether(95), f.vault.BalanceOf(user))
	assertDecimal(t, ether(95), f.vault.TotalDeposits())
	assert.Equal(t, int64(feeBps), f.vault.DepositFee())

	rate, err := f.vault.YieldRate()
	require.NoError(t, err)
	assert.Equal(t, int64(yieldBps), rate)

	paused, err := f.vault.IsDepositsPaused()
	require.NoError(t, err)
	assert.False(t, paused)
}

func TestYieldColdStart(t *testing.T) {
	f := newFixture(t)
	_, err := f.vault.Deposit(f.ctx, user, ether(100))
	require.NoError(t, err)
	f.toV2(t)
	f.topUp(t, ether(10000))

	pending, err := f.vault.UserYield(user)
	require.NoError(t, err)
	assert.True(t, pending.IsZero(), "clock has not started")

	paid, err := f.vault.ClaimYield(f.ctx, user)
	require.NoError(t, err)
	assert.True(t, paid.IsZero(), "first claim only starts the clock")
	assertDecimal(t, ether(900), f.tokenBalance(t, user))

	f.clock.Advance(year)

	pending, err = f.vault.UserYield(user)
	require.NoError(t, err)
	assertDecimal(t, decimal.RequireFromString("9.5").Shift(18), pending)

	paid, err = f.vault.ClaimYield(f.ctx, user)
	require.NoError(t, err)
	assertDecimal(t, decimal.RequireFromString("9.5").Shift(18), paid)
	assertDecimal(t, decimal.RequireFromString("909.5").Shift(18), f.tokenBalance(t, user))

	assertDecimal(t, ether(95), f.vault.BalanceOf(user), "yield is not added to principal")
	assertDecimal(t, ether(95), f.vault.TotalDeposits())

	paid, err = f.vault.ClaimYield(f.ctx, user)
	require.NoError(t, err)
	assert.True(t, paid.IsZero(), "nothing accrues within the same second")
}

func TestAccruedYield(t *testing.T) {
	acc := domain.Account{Balance: ether(95), LastClaimTime: 1000}
	day := int64(24 * 60 * 60)

	assert.True(t, AccruedYield(domain.Account{Balance: ether(95)}, 1000, 5000).IsZero())
	assert.True(t, AccruedYield(acc, 0, 1000+day).IsZero())
	assert.True(t, AccruedYield(acc, 1000, 999).IsZero())

	// floor(9.5e18 * 86400 / 31536000)
	assertDecimal(t, decimal.RequireFromString("26027397260273972"), AccruedYield(acc, 1000, 1000+day))
}

func TestDepositSettlesYieldFirst(t *testing.T) {
	f := newFixture(t)
	_, err := f.vault.Deposit(f.ctx, user, ether(100))
	require.NoError(t, err)
	f.toV2(t)
	f.topUp(t, ether(10000))

	_, err = f.vault.ClaimYield(f.ctx, user)
	require.NoError(t, err)
	f.clock.Advance(year)

	_, err = f.vault.Deposit(f.ctx, user, ether(100))
	require.NoError(t, err)

	assertDecimal(t, ether(190), f.vault.BalanceOf(user))
	assertDecimal(t, decimal.RequireFromString("809.5").Shift(18), f.tokenBalance(t, user), "deposit pulled 100 and paid 9.5 of yield")

	pending, err := f.vault.UserYield(user)
	require.NoError(t, err)
	assert.True(t, pending.IsZero(), "new principal earns nothing retroactively")
}

func TestNewDepositorStartsClockOnDeposit(t *testing.T) {
	f := newFixture(t)
	f.toV2(t)
	f.topUp(t, ether(10000))

	_, err := f.vault.Deposit(f.ctx, user, ether(100))
	require.NoError(t, err)
	f.clock.Advance(year)

	paid, err := f.vault.ClaimYield(f.ctx, user)
	require.NoError(t, err)
	assertDecimal(t, decimal.RequireFromString("9.5").Shift(18), paid)
}

func TestClaimYieldNeedsReserve(t *testing.T) {
	f := newFixture(t)
	_, err := f.vault.Deposit(f.ctx, user, ether(100))
	require.NoError(t, err)
	f.toV2(t)

	_, err = f.vault.ClaimYield(f.ctx, user)
	require.NoError(t, err)
	f.clock.Advance(year)

	// Only the 5 ether of fees sit above deposits.
	_, err = f.vault.ClaimYield(f.ctx, user)
	assert.ErrorIs(t, err, errors.ErrInsufficientReserve)

	pending, err := f.vault.UserYield(user)
	require.NoError(t, err)
	assertDecimal(t, decimal.RequireFromString("9.5").Shift(18), pending, "failed claim must not restart the clock")
	f.assertConserved(t)
}

func TestWithdrawInV2PaysYield(t *testing.T) {
	f := newFixture(t)
	_, err := f.vault.Deposit(f.ctx, user, ether(100))
	require.NoError(t, err)
	f.toV2(t)
	f.topUp(t, ether(10000))
	_, err = f.vault.ClaimYield(f.ctx, user)
	require.NoError(t, err)
	f.clock.Advance(year)

	payout, err := f.vault.Withdraw(f.ctx, user, ether(95))
	require.NoError(t, err)

	assertDecimal(t, ether(95), payout.Principal)
	assertDecimal(t, decimal.RequireFromString("9.5").Shift(18), payout.Yield)
	assert.True(t, f.vault.BalanceOf(user).IsZero())
	assertDecimal(t, decimal.RequireFromString("1004.5").Shift(18), f.tokenBalance(t, user))
	f.assertConserved(t)
}

func TestSetYieldRate(t *testing.T) {
	f := newFixture(t)
	f.toV2(t)

	err := f.vault.SetYieldRate(f.ctx, user, 2000)
	assert.ErrorIs(t, err, errors.ErrUnauthorized)

	err = f.vault.SetYieldRate(f.ctx, admin, 10001)
	assert.ErrorIs(t, err, errors.ErrInvalidParameter)

	require.NoError(t, f.vault.SetYieldRate(f.ctx, admin, 2000))
	rate, err := f.vault.YieldRate()
	require.NoError(t, err)
	assert.Equal(t, int64(2000), rate)
}

func TestPauseDeposits(t *testing.T) {
	f := newFixture(t)
	f.toV2(t)

	assert.ErrorIs(t, f.vault.PauseDeposits(f.ctx, user), errors.ErrUnauthorized)
	require.NoError(t, f.vault.PauseDeposits(f.ctx, admin))

	paused, err := f.vault.IsDepositsPaused()
	require.NoError(t, err)
	assert.True(t, paused)

	_, err = f.vault.Deposit(f.ctx, user, ether(10))
	assert.ErrorIs(t, err, errors.ErrDepositsPaused)
	assertDecimal(t, ether(1000), f.tokenBalance(t, user))

	require.NoError(t, f.vault.UnpauseDeposits(f.ctx, admin))
	_, err = f.vault.Deposit(f.ctx, user, ether(10))
	assert.NoError(t, err)
}

func TestUserYieldTracksClock(t *testing.T) {
	f := newFixture(t)
	_, err := f.vault.Deposit(f.ctx, user, ether(100))
	require.NoError(t, err)
	f.toV2(t)
	_, err = f.vault.ClaimYield(f.ctx, user)
	require.NoError(t, err)

	f.clock.Advance(year / 2)
	half, err := f.vault.UserYield(user)
	require.NoError(t, err)

	f.clock.Advance(year / 2)
	full, err := f.vault.UserYield(user)
	require.NoError(t, err)

	assert.True(t, half.IsPositive())
	assert.True(t, full.GreaterThan(half))
}

func TestWithdrawInV2CapsYieldAtSurplus(t *testing.T) {
	f := newFixture(t)
	f.toV2(t)
	_, err := f.vault.Deposit(f.ctx, user, ether(100))
	require.NoError(t, err)
	f.clock.Advance(2 * year)

	payout, err := f.vault.Withdraw(f.ctx, user, ether(50))
	require.NoError(t, err)
	assertDecimal(t, ether(50), payout.Principal)
	assertDecimal(t, ether(5), payout.Yield, "19 ether owed, 5 ether of surplus")
	assertDecimal(t, ether(45), f.vault.BalanceOf(user))
	assertDecimal(t, ether(955), f.tokenBalance(t, user))

	pending, err := f.vault.UserYield(user)
	require.NoError(t, err)
	assert.True(t, pending.IsZero(), "the shortfall is forfeited, not carried")
	f.assertConserved(t)
}
