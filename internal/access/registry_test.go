package access_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/outcomebook/internal/access"
	"github.com/alanyoungcy/outcomebook/internal/domain"
)

const (
	batcher  = "0x00000000000000000000000000000000000000b1"
	stranger = "0x00000000000000000000000000000000000000ff"
)

func TestStatic(t *testing.T) {
	reg, err := access.NewStatic(
		map[string][]string{"orderbook_batcher_role": {batcher}},
		map[string]string{"authorizer": stranger},
	)
	require.NoError(t, err)

	assert.True(t, reg.HasRole(access.RoleOrderbookBatcher, common.HexToAddress(batcher)))
	assert.False(t, reg.HasRole(access.RoleResolver, common.HexToAddress(batcher)))
	assert.False(t, reg.HasRole(access.RoleOrderbookBatcher, common.HexToAddress(stranger)))

	addr, ok := reg.ResolveAddress(access.AddressAuthorizer)
	require.True(t, ok)
	assert.Equal(t, common.HexToAddress(stranger), addr)
	_, ok = reg.ResolveAddress(access.AddressOrderbook)
	assert.False(t, ok)
}

func TestStaticRejectsBadInput(t *testing.T) {
	_, err := access.NewStatic(map[string][]string{"ROOT": {batcher}}, nil)
	assert.Error(t, err)

	_, err = access.NewStatic(map[string][]string{"RESOLVER_ROLE": {"nope"}}, nil)
	assert.Error(t, err)

	_, err = access.NewStatic(nil, map[string]string{"ORDERBOOK": "0x12"})
	assert.Error(t, err)
}

func TestRequire(t *testing.T) {
	reg, err := access.NewStatic(map[string][]string{"TREASURY_ROLE": {batcher}}, nil)
	require.NoError(t, err)

	assert.NoError(t, access.Require(reg, access.RoleTreasury, common.HexToAddress(batcher)))
	assert.ErrorIs(t, access.Require(reg, access.RoleTreasury, common.HexToAddress(stranger)), domain.ErrForbidden)
	assert.ErrorIs(t, access.Require(nil, access.RoleTreasury, common.HexToAddress(batcher)), domain.ErrForbidden)
}
