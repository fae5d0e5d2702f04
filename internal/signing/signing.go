package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Key file names inside the keys directory. The private file holds the
// 32-byte seed; the public file holds the raw public key.
const (
	privateKeyName = "key"
	publicKeyName  = "key.pub"
)

var (
	ErrNoPrivateKey = errors.New("signing: no private key")
	ErrKeysExist    = errors.New("signing: keys already exist")
)

// Keys is an ed25519 keypair used to sign and verify snapshot
// manifests. The private half may be absent when only verification is
// needed.
type Keys struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// Generate writes a fresh keypair into dir and returns it. It refuses
// to overwrite an existing public key.
func Generate(dir string) (*Keys, error) {
	if _, err := os.Stat(filepath.Join(dir, publicKeyName)); err == nil {
		return nil, ErrKeysExist
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create keys directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, privateKeyName), priv.Seed(), 0600); err != nil {
		return nil, fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, publicKeyName), pub, 0644); err != nil {
		return nil, fmt.Errorf("failed to write public key: %w", err)
	}
	return &Keys{private: priv, public: pub}, nil
}

// Load reads the keypair from dir. A missing private key file is not
// an error; the result can then verify but not sign. The private file
// may hold either a seed or a full private key.
func Load(dir string) (*Keys, error) {
	pub, err := os.ReadFile(filepath.Join(dir, publicKeyName))
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("signing: invalid public key length %d", len(pub))
	}
	keys := &Keys{public: ed25519.PublicKey(pub)}

	raw, err := os.ReadFile(filepath.Join(dir, privateKeyName))
	if os.IsNotExist(err) {
		return keys, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		keys.private = ed25519.NewKeyFromSeed(raw)
	case ed25519.PrivateKeySize:
		keys.private = ed25519.PrivateKey(raw)
	default:
		return nil, fmt.Errorf("signing: invalid private key length %d", len(raw))
	}
	if !keys.public.Equal(keys.private.Public()) {
		return nil, errors.New("signing: key files do not match")
	}
	return keys, nil
}

// CanSign reports whether the private key is available.
func (k *Keys) CanSign() bool {
	return k != nil && k.private != nil
}

// PublicHex returns the hex-encoded public key.
func (k *Keys) PublicHex() string {
	return hex.EncodeToString(k.public)
}

// Sign returns the hex-encoded signature over digest.
func (k *Keys) Sign(digest []byte) (string, error) {
	if !k.CanSign() {
		return "", ErrNoPrivateKey
	}
	return hex.EncodeToString(ed25519.Sign(k.private, digest)), nil
}

// Verify reports whether signature is a valid hex-encoded signature
// over digest.
func (k *Keys) Verify(digest []byte, signature string) bool {
	raw, err := hex.DecodeString(signature)
	if err != nil || len(raw) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(k.public, digest, raw)
}

// VerifyKey reports whether signature is a valid hex-encoded signature
// over digest under the hex-encoded public key. It lets signed data
// carry its own signer, so verification does not depend on local key
// configuration.
func VerifyKey(publicKey string, digest []byte, signature string) bool {
	pub, err := hex.DecodeString(publicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	raw, err := hex.DecodeString(signature)
	if err != nil || len(raw) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), digest, raw)
}
