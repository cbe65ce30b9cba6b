package vault

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenvault/internal/domain"
	"tokenvault/pkg/errors"
)

// attack installs a token hook that tries to withdraw again whenever the
// vault pays user. It fires once.
func attack(f *fixture, propagate bool) (inner *error, seen *decimal.Decimal) {
	var (
		once    sync.Once
		innerE  error
		balance decimal.Decimal
	)
	f.token.OnTransfer(func(ctx context.Context, from, to domain.Address, amount decimal.Decimal) error {
		if from != vaultAddr || to != user {
			return nil
		}
		var err error
		once.Do(func() {
			balance = f.vault.BalanceOf(user)
			_, innerE = f.vault.Withdraw(ctx, user, ether(10))
			err = innerE
		})
		if propagate {
			return err
		}
		return nil
	})
	return &innerE, &balance
}

func TestReentrantWithdrawIsRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.vault.Deposit(f.ctx, user, ether(100))
	require.NoError(t, err)

	inner, seen := attack(f, false)

	_, err = f.vault.Withdraw(f.ctx, user, ether(10))
	require.NoError(t, err)

	assert.ErrorIs(t, *inner, errors.ErrReentrantCall)
	assertDecimal(t, ether(85), *seen, "effects are applied before the transfer")
	assertDecimal(t, ether(85), f.vault.BalanceOf(user), "only the outer withdrawal applies")
	assertDecimal(t, ether(910), f.tokenBalance(t, user))
	assert.Equal(t, int64(1), f.vault.guard.Rejected())
	f.assertConserved(t)
}

func TestReentrantFailurePropagatesAndReverts(t *testing.T) {
	f := newFixture(t)
	_, err := f.vault.Deposit(f.ctx, user, ether(100))
	require.NoError(t, err)

	inner, _ := attack(f, true)

	_, err = f.vault.Withdraw(f.ctx, user, ether(10))
	assert.ErrorIs(t, err, errors.ErrTransferFailed)
	assert.ErrorIs(t, err, errors.ErrReentrantCall)
	assert.Equal(t, errors.CodeReentrantCall, errors.Code(err))
	assert.ErrorIs(t, *inner, errors.ErrReentrantCall)

	assertDecimal(t, ether(95), f.vault.BalanceOf(user))
	assertDecimal(t, ether(95), f.vault.TotalDeposits())
	assertDecimal(t, ether(900), f.tokenBalance(t, user))
	f.assertConserved(t)
}

func TestReentrantEmergencyWithdrawIsRejected(t *testing.T) {
	f := v3Fixture(t)

	var innerErr error
	var once sync.Once
	f.token.OnTransfer(func(ctx context.Context, from, to domain.Address, amount decimal.Decimal) error {
		if from == vaultAddr {
			once.Do(func() { _, innerErr = f.vault.EmergencyWithdraw(ctx, user) })
		}
		return nil
	})

	payout, err := f.vault.EmergencyWithdraw(f.ctx, user)
	require.NoError(t, err)
	assert.ErrorIs(t, innerErr, errors.ErrReentrantCall)
	assertDecimal(t, ether(95), payout.Principal)
	assert.True(t, f.vault.BalanceOf(user).IsZero())
	f.assertConserved(t)
}

func TestReentryWithForeignContextDoesNotDeadlock(t *testing.T) {
	f := newFixture(t)
	_, err := f.vault.Deposit(f.ctx, user, ether(100))
	require.NoError(t, err)

	var innerErr error
	var once sync.Once
	f.token.OnTransfer(func(ctx context.Context, from, to domain.Address, amount decimal.Decimal) error {
		if from == vaultAddr && to == user {
			once.Do(func() { _, innerErr = f.vault.Withdraw(context.Background(), user, ether(10)) })
		}
		return nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := f.vault.Withdraw(f.ctx, user, ether(10))
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("outer withdraw blocked behind its own transfer hook")
	}
	assert.ErrorIs(t, innerErr, errors.ErrReentrantCall)
	assertDecimal(t, ether(85), f.vault.BalanceOf(user))
	assert.Equal(t, int64(1), f.vault.guard.Rejected())

	_, err = f.vault.Withdraw(f.ctx, user, ether(5))
	assert.NoError(t, err, "guard is free again")
	f.assertConserved(t)
}

func TestConcurrentCallersAreSerialized(t *testing.T) {
	f := newFixture(t)
	f.fund(t, operator, ether(1000))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			who := user
			if i%2 == 1 {
				who = operator
			}
			_, err := f.vault.Deposit(f.ctx, who, ether(10))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assertDecimal(t, ether(95), f.vault.BalanceOf(user))
	assertDecimal(t, ether(95), f.vault.BalanceOf(operator))
	assertDecimal(t, ether(190), f.vault.TotalDeposits())
	assert.Zero(t, f.vault.guard.Rejected())
	f.assertConserved(t)
}
