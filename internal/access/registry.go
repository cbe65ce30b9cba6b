// Package access implements role-based access control for the vault.
package access

import (
	"tokenvault/internal/domain"
	"tokenvault/pkg/errors"
)

// Registry checks and mutates a role grant table. It does not own the
// table; the vault persists it as part of its state record.
type Registry struct {
	grants domain.RoleGrants
}

// NewRegistry wraps grants. A nil table is allocated lazily on first grant.
func NewRegistry(grants domain.RoleGrants) *Registry {
	return &Registry{grants: grants}
}

// Grants returns the underlying table.
func (r *Registry) Grants() domain.RoleGrants {
	return r.grants
}

func (r *Registry) Has(role domain.Role, addr domain.Address) bool {
	_, ok := r.grants[role][addr]
	return ok
}

// Require returns ErrUnauthorized unless caller holds role.
func (r *Registry) Require(role domain.Role, caller domain.Address) error {
	if caller.IsZero() || !r.Has(role, caller) {
		return errors.Wrapf(errors.ErrUnauthorized, "account %s is missing role %s", caller, role)
	}
	return nil
}

// Grant adds addr to role on behalf of caller, who must be an ADMIN. It
// reports whether membership changed.
func (r *Registry) Grant(caller domain.Address, role domain.Role, addr domain.Address) (bool, error) {
	if err := r.Require(domain.RoleAdmin, caller); err != nil {
		return false, err
	}
	return r.grant(role, addr)
}

// Revoke removes addr from role on behalf of caller, who must be an ADMIN.
func (r *Registry) Revoke(caller domain.Address, role domain.Role, addr domain.Address) (bool, error) {
	if err := r.Require(domain.RoleAdmin, caller); err != nil {
		return false, err
	}
	return r.revoke(role, addr), nil
}

// Renounce drops the caller's own membership.
func (r *Registry) Renounce(caller domain.Address, role domain.Role) bool {
	return r.revoke(role, caller)
}

// Bootstrap grants without a caller check. Only initializers use it.
func (r *Registry) Bootstrap(role domain.Role, addr domain.Address) (bool, error) {
	return r.grant(role, addr)
}

// Members lists holders of role in address order.
func (r *Registry) Members(role domain.Role) []domain.Address {
	return r.grants.Members(role)
}

func (r *Registry) grant(role domain.Role, addr domain.Address) (bool, error) {
	if addr.IsZero() {
		return false, errors.Wrap(errors.ErrInvalidParameter, "cannot grant a role to the zero address")
	}
	if r.Has(role, addr) {
		return false, nil
	}
	if r.grants == nil {
		r.grants = make(domain.RoleGrants)
	}
	members, ok := r.grants[role]
	if !ok {
		members = make(map[domain.Address]struct{})
		r.grants[role] = members
	}
	members[addr] = struct{}{}
	return true, nil
}

func (r *Registry) revoke(role domain.Role, addr domain.Address) bool {
	if !r.Has(role, addr) {
		return false
	}
	delete(r.grants[role], addr)
	return true
}
