package crypto

import (
	"encoding/binary"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// The builders below return keccak256 over the tightly packed fields. The
// 32-byte digest is what the authorizer signs as a personal message.

// OrderMessage is the digest authorizing a limit order:
//
//	keccak256(address book || address owner || uint8 side || uint256 outcome ||
//	          uint256 price || uint256 value || uint256 orderId)
func OrderMessage(book, owner common.Address, side uint8, outcome *uint256.Int, price, value int64, orderID uint64) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			book.Bytes(),
			owner.Bytes(),
			[]byte{side},
			word(outcome),
			int64Word(price),
			int64Word(value),
			word(new(uint256.Int).SetUint64(orderID)),
		),
	)
}

// MarketOrderMessage is the digest authorizing a market order against an
// explicit maker list:
//
//	keccak256(address book || address owner || uint8 side || uint256 outcome ||
//	          uint256 amount || uint256 expireTime || uint256 orderId ||
//	          uint256[] makerIds)
func MarketOrderMessage(book, owner common.Address, side uint8, outcome *uint256.Int, amount int64, expire time.Time, orderID uint64, makerIDs []uint64) []byte {
	parts := [][]byte{
		book.Bytes(),
		owner.Bytes(),
		{side},
		word(outcome),
		int64Word(amount),
		int64Word(expire.Unix()),
		word(new(uint256.Int).SetUint64(orderID)),
	}
	for _, id := range makerIDs {
		parts = append(parts, word(new(uint256.Int).SetUint64(id)))
	}
	return ethcrypto.Keccak256(concatBytes(parts...))
}

// ClaimMessage is the digest authorizing a claim:
//
//	keccak256(address book || address owner || uint32 eventId)
func ClaimMessage(book, owner common.Address, eventID uint32) []byte {
	var id [4]byte
	binary.BigEndian.PutUint32(id[:], eventID)
	return ethcrypto.Keccak256(concatBytes(book.Bytes(), owner.Bytes(), id[:]))
}

// word returns the 32-byte big-endian form of v; nil encodes as zero.
func word(v *uint256.Int) []byte {
	if v == nil {
		return make([]byte, 32)
	}
	b := v.Bytes32()
	return b[:]
}

// int64Word encodes a non-negative int64 as a uint256 word. Negative inputs
// never reach the builders; they encode as zero.
func int64Word(v int64) []byte {
	if v < 0 {
		v = 0
	}
	return word(new(uint256.Int).SetUint64(uint64(v)))
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
