package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenvault/internal/domain"
	"tokenvault/pkg/errors"
)

func TestDeployGrantsAdminEveryRole(t *testing.T) {
	f := newFixture(t)

	for _, role := range domain.Roles {
		assert.True(t, f.vault.HasRole(role, admin), string(role))
		assert.False(t, f.vault.HasRole(role, user), string(role))
	}
	assert.Equal(t, []domain.Address{admin}, f.vault.RoleMembers(domain.RoleAdmin))
}

func TestGrantAndRevokeRole(t *testing.T) {
	f := newFixture(t)
	f.toV2(t)

	err := f.vault.GrantRole(f.ctx, user, domain.RolePauser, user)
	assert.ErrorIs(t, err, errors.ErrUnauthorized)

	require.NoError(t, f.vault.GrantRole(f.ctx, admin, domain.RolePauser, operator))
	assert.True(t, f.vault.HasRole(domain.RolePauser, operator))
	require.NoError(t, f.vault.PauseDeposits(f.ctx, operator))

	err = f.vault.RevokeRole(f.ctx, operator, domain.RolePauser, admin)
	assert.ErrorIs(t, err, errors.ErrUnauthorized, "pausers cannot revoke")

	require.NoError(t, f.vault.RevokeRole(f.ctx, admin, domain.RolePauser, operator))
	assert.False(t, f.vault.HasRole(domain.RolePauser, operator))
	assert.ErrorIs(t, f.vault.UnpauseDeposits(f.ctx, operator), errors.ErrUnauthorized)

	require.NoError(t, f.vault.UnpauseDeposits(f.ctx, admin))
}

func TestGrantRoleRejectsZeroAddress(t *testing.T) {
	f := newFixture(t)

	err := f.vault.GrantRole(f.ctx, admin, domain.RolePauser, domain.ZeroAddress)
	assert.ErrorIs(t, err, errors.ErrInvalidParameter)
}

func TestRenounceRole(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.vault.GrantRole(f.ctx, admin, domain.RoleAdmin, operator))

	require.NoError(t, f.vault.RenounceRole(f.ctx, admin, domain.RoleAdmin))
	assert.False(t, f.vault.HasRole(domain.RoleAdmin, admin))
	assert.Equal(t, []domain.Address{operator}, f.vault.RoleMembers(domain.RoleAdmin))

	err := f.vault.GrantRole(f.ctx, admin, domain.RoleAdmin, admin)
	assert.ErrorIs(t, err, errors.ErrUnauthorized)

	require.NoError(t, f.vault.RenounceRole(f.ctx, user, domain.RoleAdmin), "renouncing a role not held is a no-op")
}
