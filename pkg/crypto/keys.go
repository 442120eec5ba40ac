package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"os"
	"strings"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

var (
	ErrInvalidKey       = errors.New("invalid key")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// BoxKeyPair is an x25519 key pair used for NaCl box sealing. The public
// key doubles as the node's identity on the standalone transports.
type BoxKeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateBoxKeyPair generates a new x25519 key pair
func GenerateBoxKeyPair() (*BoxKeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &BoxKeyPair{Public: *pub, Private: *priv}, nil
}

// PublicKeyHex returns the public key as a 0x-prefixed hex string
func (kp *BoxKeyPair) PublicKeyHex() string {
	return "0x" + hex.EncodeToString(kp.Public[:])
}

// ParsePublicKeyHex parses a 0x-prefixed hex public key
func ParsePublicKeyHex(s string) ([32]byte, error) {
	var key [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(raw) != 32 {
		return key, ErrInvalidKey
	}
	copy(key[:], raw)
	return key, nil
}

// ExportPrivateKeyPEM exports the private key to PEM format
func (kp *BoxKeyPair) ExportPrivateKeyPEM() []byte {
	block := &pem.Block{
		Type:  "X25519 PRIVATE KEY",
		Bytes: kp.Private[:],
	}
	return pem.EncodeToMemory(block)
}

// ImportPrivateKeyPEM imports a key pair from PEM private key data,
// rederiving the public half.
func ImportPrivateKeyPEM(pemData []byte) (*BoxKeyPair, error) {
	block, _ := pem.Decode(pemData)
	if block == nil || len(block.Bytes) != 32 {
		return nil, ErrInvalidKey
	}

	kp := &BoxKeyPair{}
	copy(kp.Private[:], block.Bytes)

	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return nil, ErrInvalidKey
	}
	copy(kp.Public[:], pub)

	return kp, nil
}

// SaveKeyToFile saves a PEM encoded key to file
func SaveKeyToFile(filename string, pemData []byte) error {
	return os.WriteFile(filename, pemData, 0600)
}

// LoadKeyFromFile loads a PEM encoded key from file
func LoadKeyFromFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// LoadOrGenerateKeyPair loads a key pair from path, generating and saving
// a fresh one if the file does not exist.
func LoadOrGenerateKeyPair(path string) (*BoxKeyPair, error) {
	pemData, err := LoadKeyFromFile(path)
	if err == nil {
		return ImportPrivateKeyPEM(pemData)
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	kp, err := GenerateBoxKeyPair()
	if err != nil {
		return nil, err
	}
	if err := SaveKeyToFile(path, kp.ExportPrivateKeyPEM()); err != nil {
		return nil, err
	}
	return kp, nil
}

// Seal encrypts data for the recipient public key using NaCl box keyed by
// the sender's private key, producing nonce || ciphertext. The recipient
// can only open it knowing the sender's public key, which authenticates
// the sender.
func Seal(data []byte, recipient [32]byte, sender *BoxKeyPair) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	return box.Seal(nonce[:], data, &nonce, &recipient, &sender.Private), nil
}

// Open decrypts a Seal output with the recipient's key pair and the
// sender's public key.
func Open(sealed []byte, sender [32]byte, kp *BoxKeyPair) ([]byte, error) {
	if len(sealed) < 24 {
		return nil, ErrDecryptionFailed
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plain, ok := box.Open(nil, sealed[24:], &nonce, &sender, &kp.Private)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return plain, nil
}
