package vault

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenvault/internal/asset"
	"tokenvault/internal/domain"
	"tokenvault/pkg/logger"
)

var (
	vaultAddr = domain.MustAddress("0x5fbdb2315678afecb367f032d93f642f64180aa3")
	tokenAddr = domain.MustAddress("0xe7f1725e7734ce288f8367e1bb143e90bb3f0512")
	admin     = domain.MustAddress("0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266")
	user      = domain.MustAddress("0x70997970c51812dc3a010c7d01b50e0d17dc79c8")
	operator  = domain.MustAddress("0x3c44cdddb6a900fa2b585dd299e03d12fa4293bc")
)

const (
	feeBps    = 500
	yieldBps  = 1000
	delaySecs = 3600
	year      = 365 * 24 * time.Hour
)

var testEpoch = time.Unix(1_700_000_000, 0)

func ether(n int64) decimal.Decimal {
	return decimal.NewFromInt(n).Shift(18)
}

func assertDecimal(t *testing.T, expected, actual decimal.Decimal, msgAndArgs ...interface{}) bool {
	t.Helper()
	if expected.Equal(actual) {
		return true
	}
	return assert.Fail(t, fmt.Sprintf("expected %s, got %s", expected, actual), msgAndArgs...)
}

type fixture struct {
	ctx      context.Context
	token    *asset.MemoryToken
	clock    *ManualClock
	vault    *Vault
	migrator *Migrator
}

func newVaultConfig(token *asset.MemoryToken, clock *ManualClock) Config {
	return Config{
		Address:  vaultAddr,
		Resolver: asset.StaticResolver{tokenAddr: token},
		Clock:    clock,
		Logger:   logger.NewNop(),

		ReentryWait: 250 * time.Millisecond,
	}
}

// newFixture deploys V1 with a 5% deposit fee and gives user 1000 tokens,
// all approved to the vault.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	token := asset.NewMemoryToken(tokenAddr, "MOCK")
	require.NoError(t, token.Mint(admin, ether(1_000_000)))

	clock := NewManualClock(testEpoch)
	v := NewProxy(newVaultConfig(token, clock))
	m := NewMigrator(v)
	require.NoError(t, m.Deploy(ctx, admin, InitParams{Asset: tokenAddr, Admin: admin, DepositFeeBps: feeBps}))

	f := &fixture{ctx: ctx, token: token, clock: clock, vault: v, migrator: m}
	f.fund(t, user, ether(1000))
	return f
}

func (f *fixture) fund(t *testing.T, to domain.Address, amount decimal.Decimal) {
	t.Helper()
	ok, err := f.token.Transfer(f.ctx, admin, to, amount)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = f.token.Approve(f.ctx, to, vaultAddr, amount)
	require.NoError(t, err)
	require.True(t, ok)
}

// topUp sends reserve to the vault outside of any deposit.
func (f *fixture) topUp(t *testing.T, amount decimal.Decimal) {
	t.Helper()
	ok, err := f.token.Transfer(f.ctx, admin, vaultAddr, amount)
	require.NoError(t, err)
	require.True(t, ok)
}

func (f *fixture) tokenBalance(t *testing.T, addr domain.Address) decimal.Decimal {
	t.Helper()
	bal, err := f.token.BalanceOf(f.ctx, addr)
	require.NoError(t, err)
	return bal
}

func (f *fixture) toV2(t *testing.T) {
	t.Helper()
	require.NoError(t, f.migrator.UpgradeToV2(f.ctx, admin, yieldBps))
}

func (f *fixture) toV3(t *testing.T) {
	t.Helper()
	require.NoError(t, f.migrator.UpgradeToV3(f.ctx, admin, delaySecs))
}

func (f *fixture) assertConserved(t *testing.T) {
	t.Helper()
	snap := f.vault.Snapshot()
	assertDecimal(t, snap.TotalDeposits, snap.SumBalances(), "sum of balances must equal total deposits")
	custody := f.tokenBalance(t, vaultAddr)
	assert.False(t, custody.LessThan(snap.TotalDeposits), "custody %s below deposits %s", custody, snap.TotalDeposits)
}
