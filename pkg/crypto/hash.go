// Package crypto provides the hashing and key primitives used by the
// standalone transports: BLAKE2b topic derivation and x25519 identities
// for NaCl box sealing.
package crypto

import (
	"crypto/rand"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// TopicLength is the byte length of a derived topic, matching the pss
// topic width.
const TopicLength = 4

// Hash generates a BLAKE2b-256 hash
func Hash(data []byte) ([]byte, error) {
	hash, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}

	hash.Write(data)
	return hash.Sum(nil), nil
}

// HashString generates a BLAKE2b hash and returns hex string
func HashString(data []byte) (string, error) {
	hash, err := Hash(data)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(hash), nil
}

// DeriveTopic derives a fixed-length topic identifier from an arbitrary
// string: the first TopicLength bytes of the BLAKE2b hash, hex encoded
// with a 0x prefix. Equal inputs yield equal topics everywhere.
func DeriveTopic(s string) (string, error) {
	sum, err := Hash([]byte(s))
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(sum[:TopicLength]), nil
}

// GenerateNonce generates a random nonce
func GenerateNonce(size int) ([]byte, error) {
	nonce := make([]byte, size)
	_, err := rand.Read(nonce)
	if err != nil {
		return nil, err
	}
	return nonce, nil
}
