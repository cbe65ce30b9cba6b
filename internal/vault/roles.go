package vault

import (
	"context"

	"github.com/shopspring/decimal"

	"tokenvault/internal/access"
	"tokenvault/internal/domain"
)

// GrantRole adds account to role. The caller must hold ADMIN.
func (v *Vault) GrantRole(ctx context.Context, caller domain.Address, role domain.Role, account domain.Address) error {
	return v.execute(ctx, "grantRole", caller, func(tx *stateTx) error {
		if err := requireVersion(tx.state, domain.V1, "grantRole"); err != nil {
			return err
		}
		granted, err := tx.registry().Grant(caller, role, account)
		if err != nil {
			return err
		}
		if granted {
			tx.emit(domain.EventRoleGranted, account, decimal.Zero, decimal.Zero, map[string]string{
				"role":   string(role),
				"sender": caller.String(),
			})
		}
		return nil
	})
}

// RevokeRole removes account from role. The caller must hold ADMIN.
func (v *Vault) RevokeRole(ctx context.Context, caller domain.Address, role domain.Role, account domain.Address) error {
	return v.execute(ctx, "revokeRole", caller, func(tx *stateTx) error {
		if err := requireVersion(tx.state, domain.V1, "revokeRole"); err != nil {
			return err
		}
		revoked, err := tx.registry().Revoke(caller, role, account)
		if err != nil {
			return err
		}
		if revoked {
			tx.emit(domain.EventRoleRevoked, account, decimal.Zero, decimal.Zero, map[string]string{
				"role":   string(role),
				"sender": caller.String(),
			})
		}
		return nil
	})
}

// RenounceRole drops the caller's own membership of role.
func (v *Vault) RenounceRole(ctx context.Context, caller domain.Address, role domain.Role) error {
	return v.execute(ctx, "renounceRole", caller, func(tx *stateTx) error {
		if err := requireVersion(tx.state, domain.V1, "renounceRole"); err != nil {
			return err
		}
		if tx.registry().Renounce(caller, role) {
			tx.emit(domain.EventRoleRevoked, caller, decimal.Zero, decimal.Zero, map[string]string{
				"role":   string(role),
				"sender": caller.String(),
			})
		}
		return nil
	})
}

func (v *Vault) HasRole(role domain.Role, account domain.Address) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return access.NewRegistry(v.state.Roles).Has(role, account)
}

func (v *Vault) RoleMembers(role domain.Role) []domain.Address {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return access.NewRegistry(v.state.Roles).Members(role)
}
