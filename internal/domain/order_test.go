package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/outcomebook/internal/domain"
)

func TestStatusOf(t *testing.T) {
	cases := []struct {
		remaining, original int64
		cancelled           bool
		want                domain.OrderStatus
	}{
		{5, 5, false, domain.OrderStatusOpen},
		{3, 5, false, domain.OrderStatusPartiallyFilled},
		{0, 5, false, domain.OrderStatusFilled},
		{3, 5, true, domain.OrderStatusCancelled},
		{0, 5, true, domain.OrderStatusCancelled},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, domain.StatusOf(tc.remaining, tc.original, tc.cancelled))
	}
}

func TestSides(t *testing.T) {
	assert.True(t, domain.SideBuyYes.Opposes(domain.SideBuyNo))
	assert.True(t, domain.SideBuyYes.Opposes(domain.SideSellYes))
	assert.True(t, domain.SideSellYes.Opposes(domain.SideSellNo))
	assert.True(t, domain.SideBuyNo.Opposes(domain.SideSellNo))
	assert.False(t, domain.SideBuyYes.Opposes(domain.SideSellNo))
	assert.False(t, domain.SideBuyNo.Opposes(domain.SideSellYes))
	assert.False(t, domain.SideBuyYes.Opposes(domain.Side(9)))

	assert.Equal(t, domain.FillKindMint, domain.FillKindOf(domain.SideBuyYes, domain.SideBuyNo))
	assert.Equal(t, domain.FillKindTransfer, domain.FillKindOf(domain.SideSellYes, domain.SideBuyYes))
	assert.Equal(t, domain.FillKindMerge, domain.FillKindOf(domain.SideSellNo, domain.SideSellYes))
}

func TestSideText(t *testing.T) {
	for _, in := range []string{"sell_no", "3", " SELL_NO "} {
		s, err := domain.ParseSide(in)
		require.NoError(t, err)
		assert.Equal(t, domain.SideSellNo, s)
	}
	_, err := domain.ParseSide("short")
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	b, err := json.Marshal(struct {
		Side domain.Side `json:"side"`
	}{domain.SideBuyNo})
	require.NoError(t, err)
	assert.JSONEq(t, `{"side":"buy_no"}`, string(b))
}

func TestOutcomeSet(t *testing.T) {
	s, err := domain.NewOutcomeSet("007", "12")
	require.NoError(t, err)
	assert.True(t, s.Contains("7"))
	assert.Equal(t, []domain.OutcomeID{"7", "12"}, s.IDs())

	_, err = domain.NewOutcomeSet("1", "01")
	assert.ErrorIs(t, err, domain.ErrInvalidOutcomes)
	_, err = domain.NewOutcomeSet()
	assert.ErrorIs(t, err, domain.ErrInvalidOutcomes)
	_, err = domain.NewOutcomeSet("abc")
	assert.ErrorIs(t, err, domain.ErrInvalidOutcomes)
}
