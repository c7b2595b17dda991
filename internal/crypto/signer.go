package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// SignatureLen is the length of an r || s || v signature.
const SignatureLen = 65

// Signer produces EIP-191 personal-message signatures with the operator key.
// Clients of the exchange obtain their order and claim authorizations from
// the holder of this key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// Sign signs message as an EIP-191 personal message and returns the 65-byte
// signature with v in {27,28}.
func (s *Signer) Sign(message []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(message), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: signing: %w", err)
	}
	// go-ethereum returns v in {0,1}; wallets produce {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// SignHex is Sign with 0x-prefixed hex output.
func (s *Signer) SignHex(message []byte) (string, error) {
	sig, err := s.Sign(message)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// Authorizer recovers the signer of EIP-191 personal messages.
type Authorizer struct{}

// NewAuthorizer returns a stateless Authorizer.
func NewAuthorizer() Authorizer { return Authorizer{} }

// Recover returns the address that produced sig over message.
func (Authorizer) Recover(message, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLen {
		return common.Address{}, fmt.Errorf("crypto/signer: signature length %d", len(sig))
	}
	normalized := make([]byte, SignatureLen)
	copy(normalized, sig)
	switch normalized[64] {
	case 27, 28:
		normalized[64] -= 27
	case 0, 1:
	default:
		return common.Address{}, fmt.Errorf("crypto/signer: invalid recovery id %d", sig[64])
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash(message), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// Verify reports whether sig over message was produced by expected.
func (a Authorizer) Verify(message, sig []byte, expected common.Address) bool {
	got, err := a.Recover(message, sig)
	if err != nil {
		return false
	}
	return got == expected
}

// DecodeSignature parses a hex signature with optional 0x prefix.
func DecodeSignature(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: signature hex: %w", err)
	}
	if len(b) != SignatureLen {
		return nil, fmt.Errorf("crypto/signer: signature length %d", len(b))
	}
	return b, nil
}
