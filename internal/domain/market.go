package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/holiman/uint256"
)

// OutcomeID identifies one outcome of a market. It is the decimal form of a
// uint256 so it can be encoded into signed messages without loss.
type OutcomeID string

// Uint256 parses the outcome id.
func (id OutcomeID) Uint256() (*uint256.Int, error) {
	v, err := uint256.FromDecimal(string(id))
	if err != nil {
		return nil, fmt.Errorf("%w: outcome id %q: %v", ErrInvalidOutcomes, id, err)
	}
	return v, nil
}

// OutcomeSet is the immutable, duplicate-free list of a market's outcomes in
// creation order.
type OutcomeSet struct {
	ids []OutcomeID
}

// NewOutcomeSet validates ids and builds the set. It rejects empty input,
// duplicates and ids that are not decimal uint256 values.
func NewOutcomeSet(ids ...OutcomeID) (OutcomeSet, error) {
	if len(ids) == 0 {
		return OutcomeSet{}, fmt.Errorf("%w: empty", ErrInvalidOutcomes)
	}
	seen := make(map[OutcomeID]bool, len(ids))
	out := make([]OutcomeID, 0, len(ids))
	for _, raw := range ids {
		id := OutcomeID(strings.TrimSpace(string(raw)))
		v, err := id.Uint256()
		if err != nil {
			return OutcomeSet{}, err
		}
		// canonical decimal form, so "007" and "7" collide
		id = OutcomeID(v.Dec())
		if seen[id] {
			return OutcomeSet{}, fmt.Errorf("%w: duplicate outcome %s", ErrInvalidOutcomes, id)
		}
		seen[id] = true
		out = append(out, id)
	}
	return OutcomeSet{ids: out}, nil
}

// Contains reports whether id is a member.
func (s OutcomeSet) Contains(id OutcomeID) bool {
	for _, v := range s.ids {
		if v == id {
			return true
		}
	}
	return false
}

// IDs returns a copy of the members in creation order.
func (s OutcomeSet) IDs() []OutcomeID {
	out := make([]OutcomeID, len(s.ids))
	copy(out, s.ids)
	return out
}

// Len returns the number of outcomes.
func (s OutcomeSet) Len() int { return len(s.ids) }

// MarshalJSON encodes the set as a JSON array.
func (s OutcomeSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.IDs())
}

// UnmarshalJSON decodes and validates a JSON array.
func (s *OutcomeSet) UnmarshalJSON(data []byte) error {
	var ids []OutcomeID
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	set, err := NewOutcomeSet(ids...)
	if err != nil {
		return err
	}
	*s = set
	return nil
}

// Market is an event with a fixed outcome set and trading window. It is
// immutable once settled.
type Market struct {
	ID                uint32              `json:"id"`
	Outcomes          OutcomeSet          `json:"outcomes"`
	StartTime         time.Time           `json:"start_time"`
	EndTime           time.Time           `json:"end_time"`
	Settled           bool                `json:"settled"`
	PayoutNumerators  map[OutcomeID]int64 `json:"payout_numerators,omitempty"`
	PayoutDenominator int64               `json:"payout_denominator,omitempty"`
	// CollateralPool holds PriceDenominator credits for every outstanding
	// Yes/No pair minted in this market.
	CollateralPool int64      `json:"collateral_pool"`
	SettledAt      *time.Time `json:"settled_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Tradable reports whether orders may be placed or filled at now.
func (m Market) Tradable(now time.Time) bool {
	return !m.Settled && !now.Before(m.StartTime) && now.Before(m.EndTime)
}

// PayoutRatio returns the settled ratio for an outcome. Outcomes without a
// stored numerator pay zero.
func (m Market) PayoutRatio(id OutcomeID) (num, den int64) {
	if !m.Settled || m.PayoutDenominator == 0 {
		return 0, 1
	}
	return m.PayoutNumerators[id], m.PayoutDenominator
}

// WinningOutcome is the outcome with the largest payout numerator; ties go to
// the first in creation order.
func (m Market) WinningOutcome() (OutcomeID, bool) {
	if !m.Settled {
		return "", false
	}
	var best OutcomeID
	var bestNum int64 = -1
	for _, id := range m.Outcomes.ids {
		if n := m.PayoutNumerators[id]; n > bestNum {
			best, bestNum = id, n
		}
	}
	return best, bestNum > 0
}

// Clone returns a deep copy so callers cannot mutate shared payout maps.
func (m Market) Clone() Market {
	out := m
	if m.PayoutNumerators != nil {
		out.PayoutNumerators = make(map[OutcomeID]int64, len(m.PayoutNumerators))
		for k, v := range m.PayoutNumerators {
			out.PayoutNumerators[k] = v
		}
	}
	if m.SettledAt != nil {
		t := *m.SettledAt
		out.SettledAt = &t
	}
	return out
}
