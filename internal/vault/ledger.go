package vault

import (
	"context"

	"github.com/shopspring/decimal"

	"tokenvault/internal/domain"
	"tokenvault/pkg/errors"
)

// InitParams configures the V1 ledger.
type InitParams struct {
	Asset         domain.Address `json:"asset" validate:"required,vault_addr"`
	Admin         domain.Address `json:"admin" validate:"required,vault_addr"`
	DepositFeeBps int64          `json:"deposit_fee_bps" validate:"gte=0,lte=10000"`
}

// Initialize is the V1 initializer entry point. On a live vault it has
// already run as part of deployment, so it always fails.
func (v *Vault) Initialize(ctx context.Context, caller domain.Address, params InitParams) error {
	return v.execute(ctx, "initialize", caller, func(tx *stateTx) error {
		if err := v.checkInitializer(tx, domain.V1); err != nil {
			return err
		}
		return initializeV1(tx, params)
	})
}

// initializeV1 sets up the ledger and grants the admin every role.
func initializeV1(tx *stateTx, params InitParams) error {
	if params.Asset.IsZero() || params.Admin.IsZero() {
		return errors.Wrap(errors.ErrInvalidParameter, "asset and admin must be non-zero addresses")
	}
	if err := checkBps(params.DepositFeeBps, "deposit fee"); err != nil {
		return err
	}

	tx.state.Asset = params.Asset
	tx.state.DepositFeeBps = params.DepositFeeBps
	tx.state.Version = domain.V1
	tx.state.Initialized = tx.state.Initialized.With(domain.V1)

	reg := tx.registry()
	for _, role := range domain.Roles {
		granted, err := reg.Bootstrap(role, params.Admin)
		if err != nil {
			return err
		}
		if granted {
			tx.emit(domain.EventRoleGranted, params.Admin, decimal.Zero, decimal.Zero, map[string]string{"role": string(role)})
		}
	}

	tx.emit(domain.EventInitialized, params.Admin, decimal.Zero, decimal.Zero, map[string]string{
		"version":         domain.V1.String(),
		"asset":           params.Asset.String(),
		"deposit_fee_bps": bps(params.DepositFeeBps),
	})
	return nil
}

// Deposit pulls amount from caller and credits it net of the deposit fee.
// From V2 on, the caller's pending yield is settled first.
func (v *Vault) Deposit(ctx context.Context, caller domain.Address, amount decimal.Decimal) (decimal.Decimal, error) {
	var credited decimal.Decimal
	err := v.executePaying(ctx, "deposit", caller, func(tx *stateTx) error {
		if err := requireVersion(tx.state, domain.V1, "deposit"); err != nil {
			return err
		}
		if err := checkAmount(amount); err != nil {
			return err
		}
		if tx.state.Version >= domain.V2 && tx.state.DepositsPaused {
			return errors.ErrDepositsPaused
		}

		yield := decimal.Zero
		if tx.state.Version >= domain.V2 {
			yield = settleYield(tx, caller)
		}

		credited = NetOfFee(amount, tx.state.DepositFeeBps)
		acc := tx.credit(caller, credited)
		tx.pull(caller, amount)
		tx.surplus = tx.surplus.Add(amount.Sub(credited))

		tx.emit(domain.EventDeposited, caller, amount, acc.Balance, map[string]string{
			"credited": credited.String(),
			"fee":      amount.Sub(credited).String(),
		})
		payYield(tx, caller, yield, acc.Balance)
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return credited, nil
}

// Withdraw sends amount of the caller's balance back to them, with whatever
// settled yield surplus custody covers. V3 replaces it with the
// request/execute flow.
func (v *Vault) Withdraw(ctx context.Context, caller domain.Address, amount decimal.Decimal) (Payout, error) {
	var payout Payout
	err := v.executePaying(ctx, "withdraw", caller, func(tx *stateTx) error {
		if err := requireVersion(tx.state, domain.V1, "withdraw"); err != nil {
			return err
		}
		if tx.state.Version >= domain.V3 {
			return errors.ErrWithdrawDisabled
		}
		if err := checkAmount(amount); err != nil {
			return err
		}
		yield := decimal.Zero
		if tx.state.Version >= domain.V2 {
			yield = settleYield(tx, caller)
		}

		acc, err := tx.debit(caller, amount)
		if err != nil {
			return err
		}
		paid, shortfall := payableYield(tx, yield)
		payout = Payout{Principal: amount, Yield: paid}
		tx.push(caller, payout.Total())

		tx.emit(domain.EventWithdrawn, caller, amount, acc.Balance, nil)
		if yield.IsPositive() {
			tx.emit(domain.EventYieldClaimed, caller, paid, acc.Balance, yieldAttrs(nil, shortfall))
		}
		return nil
	})
	if err != nil {
		return Payout{}, err
	}
	return payout, nil
}

// NetOfFee is the amount credited for a deposit: the fee is rounded in the
// vault's favour.
func NetOfFee(amount decimal.Decimal, feeBps int64) decimal.Decimal {
	return floorDiv(amount.Mul(decimal.NewFromInt(domain.BpsDenominator-feeBps)), domain.BpsDenominator)
}

func (v *Vault) DepositFee() int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state.DepositFeeBps
}

func (v *Vault) BalanceOf(addr domain.Address) decimal.Decimal {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state.Account(addr).Balance
}

func (v *Vault) TotalDeposits() decimal.Decimal {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state.TotalDeposits
}

// Asset is the address of the custody token.
func (v *Vault) Asset() domain.Address {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state.Asset
}

// ImplementationVersion names the active implementation, or "none" before
// deployment.
func (v *Vault) ImplementationVersion() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state.Version.String()
}

func (v *Vault) Version() domain.Version {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state.Version
}

func requireVersion(state *domain.VaultState, min domain.Version, op string) error {
	if state.Version == domain.VersionNone || state.Asset.IsZero() {
		return errors.ErrNotInitialized
	}
	if state.Version < min {
		return errors.Wrapf(errors.ErrNotSupported, "%s requires %s, active implementation is %s", op, min, state.Version)
	}
	return nil
}

func checkAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() || !amount.IsInteger() {
		return errors.Wrapf(errors.ErrInvalidParameter, "amount %s must be a positive whole number of base units", amount)
	}
	return nil
}

func checkBps(value int64, what string) error {
	if value < 0 || value > domain.BpsDenominator {
		return errors.Wrapf(errors.ErrInvalidParameter, "%s %d bps is outside [0, %d]", what, value, domain.BpsDenominator)
	}
	return nil
}

func floorDiv(a decimal.Decimal, d int64) decimal.Decimal {
	q, _ := a.QuoRem(decimal.NewFromInt(d), 0)
	return q
}
