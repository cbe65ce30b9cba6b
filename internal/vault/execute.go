package vault

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tokenvault/internal/asset"
	"tokenvault/internal/domain"
	"tokenvault/pkg/errors"
	"tokenvault/pkg/logger"
)

type opFunc func(tx *stateTx) error

// execute runs one state-mutating operation to completion or not at all.
func (v *Vault) execute(ctx context.Context, op string, caller domain.Address, fn opFunc) error {
	return v.run(ctx, op, caller, false, fn)
}

// executePaying is execute for operations that may pay yield. They see the
// custody surplus through tx.surplus.
func (v *Vault) executePaying(ctx context.Context, op string, caller domain.Address, fn opFunc) error {
	return v.run(ctx, op, caller, true, fn)
}

func (v *Vault) run(ctx context.Context, op string, caller domain.Address, paysYield bool, fn opFunc) (err error) {
	start := time.Now()
	defer func() { v.observe(ctx, op, caller, start, err) }()

	ctx, release, err := v.guard.Enter(ctx)
	if err != nil {
		if errors.Is(err, errors.ErrReentrantCall) {
			v.metrics.ReentrancyRejected(op)
		}
		return err
	}
	defer release()

	surplus := decimal.Zero
	if paysYield {
		if surplus, err = v.surplus(ctx); err != nil {
			return err
		}
	}
	tx, err := v.apply(caller, surplus, fn)
	if err != nil {
		return err
	}
	if err := v.commit(ctx, tx); err != nil {
		return err
	}

	if len(tx.events) > 0 {
		if perr := v.publisher.Publish(ctx, tx.events); perr != nil {
			logger.FromContext(ctx, v.logger).Warn("Failed to publish vault events", map[string]interface{}{
				"op":     op,
				"events": len(tx.events),
				"error":  perr.Error(),
			})
		}
	}
	return nil
}

// surplus reads custody above TotalDeposits. It is only needed once yield
// can be paid.
func (v *Vault) surplus(ctx context.Context) (decimal.Decimal, error) {
	v.mu.RLock()
	version := v.state.Version
	assetAddr := v.state.Asset
	v.mu.RUnlock()
	if version < domain.V2 || assetAddr.IsZero() {
		return decimal.Zero, nil
	}

	port, err := v.port(ctx, assetAddr)
	if err != nil {
		return decimal.Zero, err
	}
	done := v.guard.CallOut()
	custody, err := port.BalanceOfVault(ctx)
	done()
	if err != nil {
		return decimal.Zero, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	return custody.Sub(v.state.TotalDeposits), nil
}

// apply runs the checks and effects of an operation under the state lock.
func (v *Vault) apply(caller domain.Address, surplus decimal.Decimal, fn opFunc) (tx *stateTx, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	tx = begin(v.state, caller, v.clock.Now(), surplus)
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.rollback()
		return nil, err
	}
	return tx, nil
}

// commit persists the touched records together with the incoming transfers,
// then makes the outgoing ones. A failed outgoing transfer is compensated:
// the pulls are refunded and a reversal is persisted.
func (v *Vault) commit(ctx context.Context, tx *stateTx) error {
	v.mu.Lock()
	snap := tx.snapshot()
	reserved := v.state.TotalDeposits
	assetAddr := v.state.Asset
	v.mu.Unlock()

	stx, err := v.store.Begin(ctx)
	if err != nil {
		v.revert(tx)
		return errors.Wrap(err, "failed to begin vault state transaction")
	}
	defer stx.Rollback()

	if err := stx.Save(ctx, snap); err != nil {
		v.revert(tx)
		return errors.Wrap(err, "failed to persist vault state")
	}

	var (
		port   *asset.Port
		pulled []transfer
	)
	if len(tx.transfers) > 0 {
		if port, err = v.port(ctx, assetAddr); err != nil {
			v.revert(tx)
			return err
		}
		if pulled, err = v.pull(ctx, port, reserved, tx.transfers); err != nil {
			v.revert(tx)
			return err
		}
	}

	if err := stx.Commit(); err != nil {
		v.refund(ctx, port, pulled)
		v.revert(tx)
		return errors.Wrap(err, "failed to commit vault state")
	}

	if port != nil {
		if err := v.push(ctx, port, tx.transfers); err != nil {
			v.refund(ctx, port, pulled)
			v.compensate(ctx, tx, err)
			return err
		}
	}
	return nil
}

func (v *Vault) revert(tx *stateTx) {
	v.mu.Lock()
	defer v.mu.Unlock()
	tx.rollback()
}

// compensate undoes a committed operation whose outgoing transfer failed,
// persisting the restored records with a Reverted entry.
func (v *Vault) compensate(ctx context.Context, tx *stateTx, cause error) {
	v.mu.Lock()
	tx.rollback()
	tx.emit(domain.EventReverted, tx.caller, decimal.Zero, decimal.Zero, map[string]string{
		"code": errors.Code(cause),
	})
	snap := tx.snapshot()
	v.mu.Unlock()

	err := func() error {
		stx, err := v.store.Begin(ctx)
		if err != nil {
			return err
		}
		defer stx.Rollback()
		if err := stx.Save(ctx, snap); err != nil {
			return err
		}
		return stx.Commit()
	}()
	if err != nil {
		logger.FromContext(ctx, v.logger).Error("Failed to persist reversal; stored vault state is ahead of custody", map[string]interface{}{
			"caller": tx.caller.String(),
			"cause":  cause.Error(),
			"error":  err.Error(),
		})
	}
}

// pull performs the incoming transfers and checks that custody can cover
// every outgoing one while keeping at least reserved. On failure the pulls
// already made are refunded.
func (v *Vault) pull(ctx context.Context, port *asset.Port, reserved decimal.Decimal, transfers []transfer) ([]transfer, error) {
	done := v.guard.CallOut()
	defer done()

	var pulled []transfer
	out := decimal.Zero
	for _, t := range transfers {
		if t.kind != transferIn {
			out = out.Add(t.amount)
			continue
		}
		if err := port.TransferIn(ctx, t.account, t.amount); err != nil {
			v.refund(ctx, port, pulled)
			return nil, err
		}
		pulled = append(pulled, t)
	}
	if !out.IsPositive() {
		return pulled, nil
	}

	custody, err := port.BalanceOfVault(ctx)
	if err != nil {
		v.refund(ctx, port, pulled)
		return nil, err
	}
	if custody.Sub(out).LessThan(reserved) {
		v.refund(ctx, port, pulled)
		return nil, errors.Wrapf(errors.ErrInsufficientReserve, "custody %s cannot cover %s above deposits of %s", custody, out, reserved)
	}
	return pulled, nil
}

func (v *Vault) push(ctx context.Context, port *asset.Port, transfers []transfer) error {
	done := v.guard.CallOut()
	defer done()

	for _, t := range transfers {
		if t.kind != transferOut {
			continue
		}
		if err := port.TransferOut(ctx, t.account, t.amount); err != nil {
			return err
		}
	}
	return nil
}

func (v *Vault) refund(ctx context.Context, port *asset.Port, pulled []transfer) {
	if len(pulled) == 0 {
		return
	}
	done := v.guard.CallOut()
	defer done()

	for i := len(pulled) - 1; i >= 0; i-- {
		t := pulled[i]
		if err := port.TransferOut(ctx, t.account, t.amount); err != nil {
			logger.FromContext(ctx, v.logger).Error("Failed to refund pulled deposit", map[string]interface{}{
				"account": t.account.String(),
				"amount":  t.amount.String(),
				"error":   err.Error(),
			})
		}
	}
}

func (v *Vault) port(ctx context.Context, assetAddr domain.Address) (*asset.Port, error) {
	if v.resolver == nil {
		return nil, errors.Wrap(errors.ErrTransferFailed, "no asset resolver configured")
	}
	token, err := v.resolver.Resolve(ctx, assetAddr)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrTransferFailed, "resolve asset %s: %v", assetAddr, err)
	}
	return asset.NewPort(token, v.address), nil
}

func (v *Vault) observe(ctx context.Context, op string, caller domain.Address, start time.Time, err error) {
	elapsed := time.Since(start)
	log := logger.FromContext(ctx, v.logger)
	fields := map[string]interface{}{
		"op":          op,
		"caller":      caller.String(),
		"duration_ms": elapsed.Milliseconds(),
	}

	if err == nil {
		v.metrics.ObserveOperation(op, "ok", elapsed)
		v.mu.RLock()
		total := v.state.TotalDeposits
		v.mu.RUnlock()
		v.metrics.SetTotalDeposits(v.address, total)
		log.Info("Vault operation committed", fields)
		return
	}

	code := errors.Code(err)
	v.metrics.ObserveOperation(op, code, elapsed)
	fields["code"] = code
	fields["error"] = err.Error()
	switch code {
	case errors.CodeTransferFailed, errors.CodeInsufficientReserve, errors.CodeInternal:
		log.Warn("Vault operation reverted", fields)
	default:
		log.Debug("Vault operation reverted", fields)
	}
}
