package vault

import (
	"context"
	"strconv"

	"github.com/shopspring/decimal"

	"tokenvault/internal/domain"
	"tokenvault/pkg/errors"
)

func initializeV3(tx *stateTx, delaySeconds int64) error {
	if err := checkDelay(delaySeconds); err != nil {
		return err
	}
	tx.state.WithdrawalDelaySeconds = delaySeconds
	tx.state.Initialized = tx.state.Initialized.With(domain.V3)
	tx.emit(domain.EventInitialized, tx.caller, decimal.Zero, decimal.Zero, map[string]string{
		"version":                  domain.V3.String(),
		"withdrawal_delay_seconds": strconv.FormatInt(delaySeconds, 10),
	})
	return nil
}

// InitializeV3 is the V3 initializer entry point. It runs only as part of
// Migrator.UpgradeToV3.
func (v *Vault) InitializeV3(ctx context.Context, caller domain.Address, delaySeconds int64) error {
	return v.execute(ctx, "initializeV3", caller, func(tx *stateTx) error {
		if err := v.checkInitializer(tx, domain.V3); err != nil {
			return err
		}
		return initializeV3(tx, delaySeconds)
	})
}

// RequestWithdrawal queues amount for withdrawal after the delay. Funds stay
// in the caller's balance until execution. Only one request may be pending.
func (v *Vault) RequestWithdrawal(ctx context.Context, caller domain.Address, amount decimal.Decimal) error {
	return v.execute(ctx, "requestWithdrawal", caller, func(tx *stateTx) error {
		if err := requireVersion(tx.state, domain.V3, "requestWithdrawal"); err != nil {
			return err
		}
		if err := checkAmount(amount); err != nil {
			return err
		}
		acc := tx.account(caller)
		if acc.Request.Pending() {
			return errors.Wrapf(errors.ErrRequestPending, "request for %s made at %d is still pending", acc.Request.Amount, acc.Request.RequestedAt)
		}
		if acc.Balance.LessThan(amount) {
			return errors.Wrapf(errors.ErrInsufficientBalance, "Insufficient balance: have %s, need %s", acc.Balance, amount)
		}

		acc.Request = domain.WithdrawalRequest{Amount: amount, RequestedAt: tx.unix()}
		tx.emit(domain.EventWithdrawalRequested, caller, amount, acc.Balance, map[string]string{
			"unlocks_at": strconv.FormatInt(acc.Request.UnlocksAt(tx.state.WithdrawalDelaySeconds), 10),
		})
		return nil
	})
}

// ExecuteWithdrawal pays out the caller's matured request together with
// the part of the yield settled on the way that surplus custody covers.
func (v *Vault) ExecuteWithdrawal(ctx context.Context, caller domain.Address) (Payout, error) {
	var payout Payout
	err := v.executePaying(ctx, "executeWithdrawal", caller, func(tx *stateTx) error {
		if err := requireVersion(tx.state, domain.V3, "executeWithdrawal"); err != nil {
			return err
		}
		acc := tx.account(caller)
		req := acc.Request
		if !req.Pending() {
			return errors.ErrNoPendingRequest
		}
		if unlocks := req.UnlocksAt(tx.state.WithdrawalDelaySeconds); tx.unix() < unlocks {
			return errors.Wrapf(errors.ErrDelayNotMet, "Withdrawal delay not met: unlocks at %d", unlocks)
		}

		yield := settleYield(tx, caller)
		acc, err := tx.debit(caller, req.Amount)
		if err != nil {
			return err
		}
		acc.Request = domain.WithdrawalRequest{Amount: decimal.Zero}

		paid, shortfall := payableYield(tx, yield)
		payout = Payout{Principal: req.Amount, Yield: paid}
		tx.push(caller, payout.Total())
		tx.emit(domain.EventWithdrawalExecuted, caller, req.Amount, acc.Balance, yieldAttrs(map[string]string{
			"yield": paid.String(),
		}, shortfall))
		return nil
	})
	if err != nil {
		return Payout{}, err
	}
	return payout, nil
}

// EmergencyWithdraw sends the caller's whole balance immediately, dropping
// any pending request. Settled yield is paid as far as surplus custody
// covers it; a shortfall never holds the principal back.
func (v *Vault) EmergencyWithdraw(ctx context.Context, caller domain.Address) (Payout, error) {
	var payout Payout
	err := v.executePaying(ctx, "emergencyWithdraw", caller, func(tx *stateTx) error {
		if err := requireVersion(tx.state, domain.V3, "emergencyWithdraw"); err != nil {
			return err
		}
		principal := tx.account(caller).Balance
		if !principal.IsPositive() {
			return errors.Wrap(errors.ErrInsufficientBalance, "Insufficient balance: nothing to withdraw")
		}

		yield := settleYield(tx, caller)
		acc, err := tx.debit(caller, principal)
		if err != nil {
			return err
		}
		dropped := acc.Request.Amount
		acc.Request = domain.WithdrawalRequest{Amount: decimal.Zero}

		paid, shortfall := payableYield(tx, yield)
		payout = Payout{Principal: principal, Yield: paid}
		tx.push(caller, payout.Total())
		tx.emit(domain.EventEmergencyWithdrawn, caller, principal, acc.Balance, yieldAttrs(map[string]string{
			"yield":             paid.String(),
			"cancelled_request": dropped.String(),
		}, shortfall))
		return nil
	})
	if err != nil {
		return Payout{}, err
	}
	return payout, nil
}

func (v *Vault) SetWithdrawalDelay(ctx context.Context, caller domain.Address, delaySeconds int64) error {
	return v.execute(ctx, "setWithdrawalDelay", caller, func(tx *stateTx) error {
		if err := requireVersion(tx.state, domain.V3, "setWithdrawalDelay"); err != nil {
			return err
		}
		if err := tx.require(domain.RoleAdmin); err != nil {
			return err
		}
		if err := checkDelay(delaySeconds); err != nil {
			return err
		}
		previous := tx.state.WithdrawalDelaySeconds
		tx.state.WithdrawalDelaySeconds = delaySeconds
		tx.emit(domain.EventWithdrawalDelayUpdated, caller, decimal.Zero, decimal.Zero, map[string]string{
			"previous_seconds": strconv.FormatInt(previous, 10),
			"delay_seconds":    strconv.FormatInt(delaySeconds, 10),
		})
		return nil
	})
}

func (v *Vault) WithdrawalDelay() (int64, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if err := requireVersion(v.state, domain.V3, "getWithdrawalDelay"); err != nil {
		return 0, err
	}
	return v.state.WithdrawalDelaySeconds, nil
}

func (v *Vault) WithdrawalRequest(addr domain.Address) (domain.WithdrawalRequest, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if err := requireVersion(v.state, domain.V3, "getWithdrawalRequest"); err != nil {
		return domain.WithdrawalRequest{}, err
	}
	req := v.state.Account(addr).Request
	if req.Amount.IsZero() {
		req.Amount = decimal.Zero
	}
	return req, nil
}

func checkDelay(seconds int64) error {
	if seconds < 0 {
		return errors.Wrapf(errors.ErrInvalidParameter, "withdrawal delay %d must not be negative", seconds)
	}
	return nil
}
