// Package crypto authenticates signed intents. The operator key that signs
// them is kept on disk sealed with a password.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

var (
	// ErrNoKey is returned by LoadSigner when neither key source is configured.
	ErrNoKey = errors.New("crypto: no operator key configured")
	// ErrWrongPassword covers a bad password and a tampered key file alike.
	ErrWrongPassword = errors.New("crypto: wrong key password or corrupted key file")
	// ErrKeyMismatch means the sealed key does not belong to the address
	// recorded in its file.
	ErrKeyMismatch = errors.New("crypto: key file address does not match its key")
)

const (
	keyFileVersion = 1
	kdfIterations  = 480_000
	kdfSaltLen     = 16
	kdfKeyLen      = 32
)

// KeyFile is the on-disk form of a sealed operator key. Address is readable
// without the password and is authenticated as additional data, so the file
// cannot be relabelled to another authorizer.
type KeyFile struct {
	Version    int            `json:"version"`
	Address    common.Address `json:"address"`
	Salt       []byte         `json:"salt"`
	Nonce      []byte         `json:"nonce"`
	Ciphertext []byte         `json:"ciphertext"`
}

// KeyConfig locates the operator key: either a raw hex key or a file
// written by SealKey plus its password. A raw key wins.
type KeyConfig struct {
	RawPrivateKey    string
	EncryptedKeyPath string
	KeyPassword      string
}

// SealKey encrypts the signer's key under password (PBKDF2-HMAC-SHA256,
// AES-256-GCM) and returns the JSON key file.
func SealKey(s *Signer, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: key password must not be empty")
	}
	salt := make([]byte, kdfSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: key salt: %w", err)
	}
	aead, err := keyCipher(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: key nonce: %w", err)
	}
	kf := KeyFile{
		Version: keyFileVersion,
		Address: s.Address(),
		Salt:    salt,
		Nonce:   nonce,
	}
	kf.Ciphertext = aead.Seal(nil, nonce, ethcrypto.FromECDSA(s.privateKey), kf.Address.Bytes())
	return json.MarshalIndent(kf, "", "  ")
}

// OpenKey decrypts a key file produced by SealKey into a Signer.
func OpenKey(data []byte, password string) (*Signer, error) {
	var kf KeyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("crypto: parse key file: %w", err)
	}
	if kf.Version != keyFileVersion {
		return nil, fmt.Errorf("crypto: unsupported key file version %d", kf.Version)
	}
	aead, err := keyCipher(password, kf.Salt)
	if err != nil {
		return nil, err
	}
	if len(kf.Nonce) != aead.NonceSize() {
		return nil, ErrWrongPassword
	}
	raw, err := aead.Open(nil, kf.Nonce, kf.Ciphertext, kf.Address.Bytes())
	if err != nil {
		return nil, ErrWrongPassword
	}
	pk, err := ethcrypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("crypto: sealed key: %w", err)
	}
	s := &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}
	if s.address != kf.Address {
		return nil, fmt.Errorf("%w: file %s, key %s", ErrKeyMismatch, kf.Address.Hex(), s.address.Hex())
	}
	return s, nil
}

// LoadSigner builds the operator Signer from cfg.
func LoadSigner(cfg KeyConfig) (*Signer, error) {
	switch {
	case cfg.RawPrivateKey != "":
		return NewSigner(cfg.RawPrivateKey)
	case cfg.EncryptedKeyPath != "":
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return nil, fmt.Errorf("crypto: read key file: %w", err)
		}
		return OpenKey(data, cfg.KeyPassword)
	default:
		return nil, ErrNoKey
	}
}

func keyCipher(password string, salt []byte) (cipher.AEAD, error) {
	if password == "" {
		return nil, errors.New("crypto: key password must not be empty")
	}
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, kdfIterations, kdfKeyLen, sha256.New))
	if err != nil {
		return nil, fmt.Errorf("crypto: key cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
