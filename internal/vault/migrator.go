package vault

import (
	"context"

	"github.com/shopspring/decimal"

	"tokenvault/internal/domain"
	"tokenvault/pkg/errors"
)

// Migrator promotes a vault proxy from one implementation to the next. Each
// promotion swaps the active version and runs that version's initializer as
// one atomic operation; if the initializer fails, the vault stays on the old
// version.
type Migrator struct {
	vault *Vault
}

func NewMigrator(v *Vault) *Migrator {
	return &Migrator{vault: v}
}

// Deploy installs V1 into an empty proxy.
func (m *Migrator) Deploy(ctx context.Context, deployer domain.Address, params InitParams) error {
	v := m.vault
	return v.execute(ctx, "deploy", deployer, func(tx *stateTx) error {
		if v.standalone {
			return errors.ErrStandaloneImplementation
		}
		if tx.state.Version != domain.VersionNone || tx.state.Initialized.Has(domain.V1) {
			return errors.Wrapf(errors.ErrAlreadyInitialized, "vault already runs %s", tx.state.Version)
		}
		if err := initializeV1(tx, params); err != nil {
			return err
		}
		tx.emit(domain.EventUpgraded, deployer, decimal.Zero, decimal.Zero, map[string]string{
			"from": domain.VersionNone.String(),
			"to":   domain.V1.String(),
		})
		return nil
	})
}

func (m *Migrator) UpgradeToV2(ctx context.Context, caller domain.Address, yieldRateBps int64) error {
	return m.promote(ctx, caller, domain.V2, func(tx *stateTx) error {
		return initializeV2(tx, yieldRateBps)
	})
}

func (m *Migrator) UpgradeToV3(ctx context.Context, caller domain.Address, delaySeconds int64) error {
	return m.promote(ctx, caller, domain.V3, func(tx *stateTx) error {
		return initializeV3(tx, delaySeconds)
	})
}

// Upgrade promotes to target, passing arg to its initializer: the yield rate
// in bps for V2, the withdrawal delay in seconds for V3.
func (m *Migrator) Upgrade(ctx context.Context, caller domain.Address, target domain.Version, arg int64) error {
	switch target {
	case domain.V2:
		return m.UpgradeToV2(ctx, caller, arg)
	case domain.V3:
		return m.UpgradeToV3(ctx, caller, arg)
	default:
		return errors.Wrapf(errors.ErrInvalidParameter, "no upgrade path to %s", target)
	}
}

func (m *Migrator) promote(ctx context.Context, caller domain.Address, target domain.Version, initialize opFunc) error {
	v := m.vault
	op := "upgradeTo" + target.String()
	return v.execute(ctx, op, caller, func(tx *stateTx) error {
		if v.standalone {
			return errors.ErrStandaloneImplementation
		}
		if err := requireVersion(tx.state, domain.V1, op); err != nil {
			return err
		}
		if err := tx.require(domain.RoleUpgrader); err != nil {
			return err
		}
		from := tx.state.Version
		if target != from+1 {
			return errors.Wrapf(errors.ErrInvalidParameter, "cannot upgrade from %s to %s", from, target)
		}
		if tx.state.Initialized.Has(target) {
			return errors.Wrapf(errors.ErrAlreadyInitialized, "%s initializer already ran", target)
		}

		tx.state.Version = target
		if err := initialize(tx); err != nil {
			return err
		}
		tx.emit(domain.EventUpgraded, caller, decimal.Zero, decimal.Zero, map[string]string{
			"from": from.String(),
			"to":   target.String(),
		})
		return nil
	})
}

// checkInitializer gates the exported Initialize entry points. Promotion
// runs initializers itself, so on a live vault these always fail.
func (v *Vault) checkInitializer(tx *stateTx, target domain.Version) error {
	if v.standalone {
		return errors.ErrStandaloneImplementation
	}
	if tx.state.Initialized.Has(target) {
		return errors.Wrapf(errors.ErrAlreadyInitialized, "%s initializer already ran", target)
	}
	return errors.Wrapf(errors.ErrNotSupported, "%s initializer only runs during promotion from %s", target, tx.state.Version)
}

// BootstrapParams drives Bootstrap.
type BootstrapParams struct {
	Init         InitParams
	Target       domain.Version
	YieldRateBps int64
	DelaySeconds int64
}

// Bootstrap deploys V1 if the proxy is empty and then upgrades one version
// at a time until p.Target runs. Versions already active are left alone, so
// it is safe to call on every start.
func (m *Migrator) Bootstrap(ctx context.Context, caller domain.Address, p BootstrapParams) error {
	if m.vault.Version() == domain.VersionNone {
		if err := m.Deploy(ctx, caller, p.Init); err != nil {
			return errors.Wrap(err, "deploy")
		}
	}
	for v := m.vault.Version() + 1; v <= p.Target && v <= domain.LatestVersion; v++ {
		arg := p.YieldRateBps
		if v == domain.V3 {
			arg = p.DelaySeconds
		}
		if err := m.Upgrade(ctx, caller, v, arg); err != nil {
			return errors.Wrapf(err, "upgrade to %s", v)
		}
	}
	return nil
}
