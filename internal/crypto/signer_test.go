package crypto_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/outcomebook/internal/crypto"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var (
	book  = common.HexToAddress("0x00000000000000000000000000000000000b00c0")
	owner = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func TestSignVerify(t *testing.T) {
	t.Run("order round trip", testOrderRoundTrip)
	t.Run("tampered field fails", testTamperedOrder)
	t.Run("accepts raw recovery id", testRawRecoveryID)
	t.Run("rejects malformed signature", testMalformedSignature)
}

func testOrderRoundTrip(t *testing.T) {
	s, err := crypto.NewSigner(testKey)
	require.NoError(t, err)

	msg := crypto.OrderMessage(book, owner, 0, uint256.NewInt(42), 200_000, 1_000_000, 7)
	sig, err := s.Sign(msg)
	require.NoError(t, err)
	require.Len(t, sig, crypto.SignatureLen)
	assert.Contains(t, []byte{27, 28}, sig[64])

	auth := crypto.NewAuthorizer()
	assert.True(t, auth.Verify(msg, sig, s.Address()))
	assert.False(t, auth.Verify(msg, sig, owner))
}

func testTamperedOrder(t *testing.T) {
	s, err := crypto.NewSigner(testKey)
	require.NoError(t, err)

	sig, err := s.Sign(crypto.OrderMessage(book, owner, 0, uint256.NewInt(42), 200_000, 1_000_000, 7))
	require.NoError(t, err)

	other := crypto.OrderMessage(book, owner, 0, uint256.NewInt(42), 200_001, 1_000_000, 7)
	assert.False(t, crypto.NewAuthorizer().Verify(other, sig, s.Address()))
}

func testRawRecoveryID(t *testing.T) {
	s, err := crypto.NewSigner("0x" + testKey)
	require.NoError(t, err)

	msg := crypto.ClaimMessage(book, owner, 9)
	sig, err := s.Sign(msg)
	require.NoError(t, err)
	sig[64] -= 27
	assert.True(t, crypto.NewAuthorizer().Verify(msg, sig, s.Address()))
}

func testMalformedSignature(t *testing.T) {
	msg := crypto.ClaimMessage(book, owner, 9)
	assert.False(t, crypto.NewAuthorizer().Verify(msg, make([]byte, 10), owner))

	bad := make([]byte, crypto.SignatureLen)
	bad[64] = 5
	assert.False(t, crypto.NewAuthorizer().Verify(msg, bad, owner))

	_, err := crypto.DecodeSignature("0xzz")
	assert.Error(t, err)
}

func TestMessagesDiffer(t *testing.T) {
	expire := time.Unix(1_700_000_000, 0)
	a := crypto.MarketOrderMessage(book, owner, 2, uint256.NewInt(1), 5, expire, 1, []uint64{3, 4})
	b := crypto.MarketOrderMessage(book, owner, 2, uint256.NewInt(1), 5, expire, 1, []uint64{4, 3})
	c := crypto.MarketOrderMessage(book, owner, 2, uint256.NewInt(1), 5, expire, 2, []uint64{3, 4})

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, crypto.ClaimMessage(book, owner, 1), crypto.ClaimMessage(owner, book, 1))
}

func TestSignHexDecode(t *testing.T) {
	s, err := crypto.NewSigner(testKey)
	require.NoError(t, err)

	msg := crypto.ClaimMessage(book, owner, 3)
	h, err := s.SignHex(msg)
	require.NoError(t, err)

	sig, err := crypto.DecodeSignature(h)
	require.NoError(t, err)
	assert.True(t, crypto.NewAuthorizer().Verify(msg, sig, s.Address()))
}

func TestLoadSigner(t *testing.T) {
	t.Run("raw key", func(t *testing.T) {
		s, err := crypto.LoadSigner(crypto.KeyConfig{RawPrivateKey: testKey})
		require.NoError(t, err)
		want, _ := crypto.NewSigner(testKey)
		assert.Equal(t, want.Address(), s.Address())
	})

	t.Run("encrypted file", func(t *testing.T) {
		want, err := crypto.NewSigner(testKey)
		require.NoError(t, err)
		blob, err := crypto.SealKey(want, "hunter2")
		require.NoError(t, err)
		path := filepath.Join(t.TempDir(), "operator.json")
		require.NoError(t, os.WriteFile(path, blob, 0o600))

		s, err := crypto.LoadSigner(crypto.KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"})
		require.NoError(t, err)
		assert.Equal(t, want.Address(), s.Address())

		_, err = crypto.LoadSigner(crypto.KeyConfig{EncryptedKeyPath: path, KeyPassword: "wrong"})
		assert.ErrorIs(t, err, crypto.ErrWrongPassword)
	})

	t.Run("relabelled file", func(t *testing.T) {
		s, err := crypto.NewSigner(testKey)
		require.NoError(t, err)
		blob, err := crypto.SealKey(s, "hunter2")
		require.NoError(t, err)

		var kf crypto.KeyFile
		require.NoError(t, json.Unmarshal(blob, &kf))
		assert.Equal(t, s.Address(), kf.Address)
		kf.Address = owner
		forged, err := json.Marshal(kf)
		require.NoError(t, err)

		_, err = crypto.OpenKey(forged, "hunter2")
		assert.ErrorIs(t, err, crypto.ErrWrongPassword)
	})

	t.Run("nothing configured", func(t *testing.T) {
		_, err := crypto.LoadSigner(crypto.KeyConfig{})
		assert.ErrorIs(t, err, crypto.ErrNoKey)
	})
}
