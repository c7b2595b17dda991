// Package access answers "may this address perform this operation" and
// resolves the named system addresses.
package access

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomebook/internal/domain"
)

// Role names a privileged capability.
type Role string

const (
	RoleOrderbookBatcher Role = "ORDERBOOK_BATCHER_ROLE"
	RoleLeverageBatcher  Role = "LEVERAGE_BATCHER_ROLE"
	RoleResolver         Role = "RESOLVER_ROLE"
	RoleMarketAdmin      Role = "MARKET_ADMIN_ROLE"
	RoleTreasury         Role = "TREASURY_ROLE"
)

// Roles lists every known role.
var Roles = []Role{RoleOrderbookBatcher, RoleLeverageBatcher, RoleResolver, RoleMarketAdmin, RoleTreasury}

// Named system addresses.
const (
	AddressOrderbook  = "ORDERBOOK"
	AddressAuthorizer = "AUTHORIZER"
)

// Registry is the role and address lookup consulted by privileged operations.
type Registry interface {
	HasRole(role Role, addr common.Address) bool
	ResolveAddress(name string) (common.Address, bool)
}

// Static is an immutable Registry built once from configuration.
type Static struct {
	roles     map[Role]map[common.Address]bool
	addresses map[string]common.Address
}

// NewStatic builds a registry from role → hex addresses and name → hex
// address maps. Unknown roles and malformed addresses are rejected.
func NewStatic(roles map[string][]string, addresses map[string]string) (*Static, error) {
	s := &Static{
		roles:     make(map[Role]map[common.Address]bool, len(roles)),
		addresses: make(map[string]common.Address, len(addresses)),
	}
	for name, members := range roles {
		role := Role(strings.ToUpper(strings.TrimSpace(name)))
		if !known(role) {
			return nil, fmt.Errorf("access: unknown role %q", name)
		}
		set := make(map[common.Address]bool, len(members))
		for _, m := range members {
			if !common.IsHexAddress(m) {
				return nil, fmt.Errorf("access: role %s: invalid address %q", role, m)
			}
			set[common.HexToAddress(m)] = true
		}
		s.roles[role] = set
	}
	for name, hexAddr := range addresses {
		if !common.IsHexAddress(hexAddr) {
			return nil, fmt.Errorf("access: address %s: invalid address %q", name, hexAddr)
		}
		s.addresses[strings.ToUpper(name)] = common.HexToAddress(hexAddr)
	}
	return s, nil
}

func known(r Role) bool {
	for _, k := range Roles {
		if k == r {
			return true
		}
	}
	return false
}

// HasRole reports whether addr holds role.
func (s *Static) HasRole(role Role, addr common.Address) bool {
	return s.roles[role][addr]
}

// ResolveAddress returns the named system address.
func (s *Static) ResolveAddress(name string) (common.Address, bool) {
	a, ok := s.addresses[strings.ToUpper(name)]
	return a, ok
}

// Require returns a wrapped domain.ErrForbidden unless caller holds role.
func Require(reg Registry, role Role, caller common.Address) error {
	if reg == nil || !reg.HasRole(role, caller) {
		return fmt.Errorf("%w: %s lacks %s", domain.ErrForbidden, caller.Hex(), role)
	}
	return nil
}
