// Package identity holds party key pairs and the directory that resolves
// human-readable party names to keys and network addresses.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/mmynk/splitledger/internal/models"
)

// Signer produces signatures on behalf of one party.
type Signer interface {
	Sign(msg []byte) []byte
	PublicKey() models.PartyKey
}

// KeyPair is an ed25519 key pair.
type KeyPair struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// GenerateKeyPair creates a fresh random key pair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &KeyPair{priv: priv, pub: pub}, nil
}

// KeyPairFromSeed rebuilds a key pair from its hex encoded 32-byte seed.
func KeyPairFromSeed(seedHex string) (*KeyPair, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("invalid seed hex: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid seed size: got %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &KeyPair{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// Sign signs msg.
func (k *KeyPair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.priv, msg)
}

// PublicKey returns the party key of the pair.
func (k *KeyPair) PublicKey() models.PartyKey {
	return models.PartyKey(hex.EncodeToString(k.pub))
}

// Seed returns the hex encoded seed, suitable for NODE_KEY_SEED.
func (k *KeyPair) Seed() string {
	return hex.EncodeToString(k.priv.Seed())
}

// Verify checks sig over msg against the party key.
func Verify(key models.PartyKey, msg, sig []byte) bool {
	pub, err := hex.DecodeString(string(key))
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
}
