package vault

import (
	"context"

	"github.com/shopspring/decimal"

	"tokenvault/internal/domain"
	"tokenvault/pkg/errors"
)

// initializeV2 starts yield accrual at rateBps. The promoting caller
// becomes a pauser.
func initializeV2(tx *stateTx, rateBps int64) error {
	if err := checkBps(rateBps, "yield rate"); err != nil {
		return err
	}
	tx.state.YieldRateBps = rateBps
	tx.state.Initialized = tx.state.Initialized.With(domain.V2)

	granted, err := tx.registry().Bootstrap(domain.RolePauser, tx.caller)
	if err != nil {
		return err
	}
	if granted {
		tx.emit(domain.EventRoleGranted, tx.caller, decimal.Zero, decimal.Zero, map[string]string{"role": string(domain.RolePauser)})
	}

	tx.emit(domain.EventInitialized, tx.caller, decimal.Zero, decimal.Zero, map[string]string{
		"version":        domain.V2.String(),
		"yield_rate_bps": bps(rateBps),
	})
	return nil
}

// InitializeV2 is the V2 initializer entry point. It runs only as part of
// Migrator.UpgradeToV2.
func (v *Vault) InitializeV2(ctx context.Context, caller domain.Address, rateBps int64) error {
	return v.execute(ctx, "initializeV2", caller, func(tx *stateTx) error {
		if err := v.checkInitializer(tx, domain.V2); err != nil {
			return err
		}
		return initializeV2(tx, rateBps)
	})
}

// AccruedYield is the yield owed on acc at unix time now:
// floor(floor(balance*rate/10000) * elapsed / secondsPerYear). An account
// whose clock never started has accrued nothing.
func AccruedYield(acc domain.Account, rateBps, now int64) decimal.Decimal {
	if acc.LastClaimTime == 0 || rateBps == 0 || !acc.Balance.IsPositive() {
		return decimal.Zero
	}
	elapsed := now - acc.LastClaimTime
	if elapsed <= 0 {
		return decimal.Zero
	}
	perYear := floorDiv(acc.Balance.Mul(decimal.NewFromInt(rateBps)), domain.BpsDenominator)
	return floorDiv(perYear.Mul(decimal.NewFromInt(elapsed)), domain.SecondsPerYear)
}

// settleYield realizes the caller's pending yield and restarts its clock.
// The first settlement only starts the clock and pays nothing.
func settleYield(tx *stateTx, addr domain.Address) decimal.Decimal {
	acc := tx.account(addr)
	now := tx.unix()
	if acc.LastClaimTime == 0 {
		acc.LastClaimTime = now
		return decimal.Zero
	}
	pending := AccruedYield(*acc, tx.state.YieldRateBps, now)
	acc.LastClaimTime = now
	return pending
}

// payableYield splits owed into the part surplus custody covers and the
// shortfall the caller forfeits. Principal never funds yield.
func payableYield(tx *stateTx, owed decimal.Decimal) (paid, shortfall decimal.Decimal) {
	paid = decimal.Min(owed, decimal.Max(tx.surplus, decimal.Zero))
	tx.surplus = tx.surplus.Sub(paid)
	return paid, owed.Sub(paid)
}

// yieldAttrs adds the forfeited part of a settlement to an event's
// attributes.
func yieldAttrs(attrs map[string]string, shortfall decimal.Decimal) map[string]string {
	if !shortfall.IsPositive() {
		return attrs
	}
	if attrs == nil {
		attrs = make(map[string]string, 1)
	}
	attrs["yield_shortfall"] = shortfall.String()
	return attrs
}

// payYield queues a yield side payment of what surplus custody covers and
// returns the amount paid. Principal is untouched.
func payYield(tx *stateTx, addr domain.Address, owed, balance decimal.Decimal) decimal.Decimal {
	paid, shortfall := payableYield(tx, owed)
	if !paid.IsPositive() && !shortfall.IsPositive() {
		return decimal.Zero
	}
	tx.push(addr, paid)
	tx.emit(domain.EventYieldClaimed, addr, paid, balance, yieldAttrs(nil, shortfall))
	return paid
}

// ClaimYield pays out the caller's pending yield from surplus custody. A
// claim the surplus cannot cover fails and leaves the yield accruing.
func (v *Vault) ClaimYield(ctx context.Context, caller domain.Address) (decimal.Decimal, error) {
	var paid decimal.Decimal
	err := v.executePaying(ctx, "claimYield", caller, func(tx *stateTx) error {
		if err := requireVersion(tx.state, domain.V2, "claimYield"); err != nil {
			return err
		}
		owed := settleYield(tx, caller)
		if owed.IsPositive() && owed.GreaterThan(tx.surplus) {
			return errors.Wrapf(errors.ErrInsufficientReserve, "surplus custody %s cannot cover yield of %s", tx.surplus, owed)
		}
		paid = payYield(tx, caller, owed, tx.account(caller).Balance)
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return paid, nil
}

func (v *Vault) SetYieldRate(ctx context.Context, caller domain.Address, rateBps int64) error {
	return v.execute(ctx, "setYieldRate", caller, func(tx *stateTx) error {
		if err := requireVersion(tx.state, domain.V2, "setYieldRate"); err != nil {
			return err
		}
		if err := tx.require(domain.RoleAdmin); err != nil {
			return err
		}
		if err := checkBps(rateBps, "yield rate"); err != nil {
			return err
		}
		previous := tx.state.YieldRateBps
		tx.state.YieldRateBps = rateBps
		tx.emit(domain.EventYieldRateUpdated, caller, decimal.Zero, decimal.Zero, map[string]string{
			"previous_bps": bps(previous),
			"rate_bps":     bps(rateBps),
		})
		return nil
	})
}

func (v *Vault) PauseDeposits(ctx context.Context, caller domain.Address) error {
	return v.setPaused(ctx, "pauseDeposits", caller, true)
}

func (v *Vault) UnpauseDeposits(ctx context.Context, caller domain.Address) error {
	return v.setPaused(ctx, "unpauseDeposits", caller, false)
}

func (v *Vault) setPaused(ctx context.Context, op string, caller domain.Address, paused bool) error {
	return v.execute(ctx, op, caller, func(tx *stateTx) error {
		if err := requireVersion(tx.state, domain.V2, op); err != nil {
			return err
		}
		if err := tx.require(domain.RolePauser); err != nil {
			return err
		}
		tx.state.DepositsPaused = paused
		kind := domain.EventDepositsUnpaused
		if paused {
			kind = domain.EventDepositsPaused
		}
		tx.emit(kind, caller, decimal.Zero, decimal.Zero, nil)
		return nil
	})
}

func (v *Vault) YieldRate() (int64, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if err := requireVersion(v.state, domain.V2, "getYieldRate"); err != nil {
		return 0, err
	}
	return v.state.YieldRateBps, nil
}

// UserYield is the yield addr could claim right now.
func (v *Vault) UserYield(addr domain.Address) (decimal.Decimal, error) {
	now := v.clock.Now().Unix()
	v.mu.RLock()
	defer v.mu.RUnlock()
	if err := requireVersion(v.state, domain.V2, "getUserYield"); err != nil {
		return decimal.Zero, err
	}
	return AccruedYield(v.state.Account(addr), v.state.YieldRateBps, now), nil
}

func (v *Vault) IsDepositsPaused() (bool, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if err := requireVersion(v.state, domain.V2, "isDepositsPaused"); err != nil {
		return false, err
	}
	return v.state.DepositsPaused, nil
}
