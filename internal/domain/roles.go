package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Role gates privileged vault operations.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RolePauser   Role = "PAUSER"
	RoleUpgrader Role = "UPGRADER"
)

// Roles lists every role the vault understands.
var Roles = []Role{RoleAdmin, RolePauser, RoleUpgrader}

func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	switch r {
	case RoleAdmin, RolePauser, RoleUpgrader:
		return r, nil
	case "DEFAULT_ADMIN_ROLE":
		return RoleAdmin, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// RoleGrants is the persisted role membership table.
type RoleGrants map[Role]map[Address]struct{}

func (g RoleGrants) Clone() RoleGrants {
	out := make(RoleGrants, len(g))
	for role, members := range g {
		m := make(map[Address]struct{}, len(members))
		for addr := range members {
			m[addr] = struct{}{}
		}
		out[role] = m
	}
	return out
}

// Members returns the holders of role in address order.
func (g RoleGrants) Members(role Role) []Address {
	out := make([]Address, 0, len(g[role]))
	for addr := range g[role] {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
