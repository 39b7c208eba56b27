package crypto

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"
	"strings"

	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// MnemonicWords is the phrase length wallets use.
	MnemonicWords = 24

	mnemonicSalt       = "TON default seed"
	mnemonicIterations = 100000
)

var (
	ErrInvalidMnemonic = errors.New("crypto: invalid mnemonic")
	wordSet            = func() map[string]struct{} {
		words := bip39.GetWordList()
		set := make(map[string]struct{}, len(words))
		for _, w := range words {
			set[w] = struct{}{}
		}
		return set
	}()
)

// PrivateKey is an ed25519 signing key.
type PrivateKey struct {
	key ed25519.PrivateKey
}

// GeneratePrivateKey returns a fresh random key.
func GeneratePrivateKey() (*PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key: priv}, nil
}

// PrivateKeyFromSeed builds a key from a 32-byte seed.
func PrivateKeyFromSeed(seed []byte) (*PrivateKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("crypto: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &PrivateKey{key: ed25519.NewKeyFromSeed(seed)}, nil
}

// Seed returns the 32-byte seed the key was built from.
func (k *PrivateKey) Seed() []byte { return k.key.Seed() }

// PublicKey returns the verifying key.
func (k *PrivateKey) PublicKey() ed25519.PublicKey {
	return append(ed25519.PublicKey(nil), k.key.Public().(ed25519.PublicKey)...)
}

// Sign signs an envelope digest.
func (k *PrivateKey) Sign(digest []byte) ([]byte, error) {
	if len(digest) == 0 {
		return nil, errors.New("crypto: empty digest")
	}
	return ed25519.Sign(k.key, digest), nil
}

// NewMnemonic returns a fresh 24 word phrase.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// KeyFromMnemonic derives the wallet key from a phrase and optional password:
// PBKDF2-SHA512 over HMAC-SHA512(phrase, password), first 32 bytes as seed.
// Words must come from the standard list; the checksum is not required.
func KeyFromMnemonic(mnemonic, password string) (*PrivateKey, error) {
	words := strings.Fields(strings.ToLower(mnemonic))
	if len(words) != MnemonicWords {
		return nil, fmt.Errorf("%w: expected %d words, got %d", ErrInvalidMnemonic, MnemonicWords, len(words))
	}
	for i, w := range words {
		if _, ok := wordSet[w]; !ok {
			return nil, fmt.Errorf("%w: unknown word %d", ErrInvalidMnemonic, i+1)
		}
	}
	mac := hmac.New(sha512.New, []byte(strings.Join(words, " ")))
	mac.Write([]byte(password))
	entropy := mac.Sum(nil)
	seed := pbkdf2.Key(entropy, []byte(mnemonicSalt), mnemonicIterations, 64, sha512.New)
	return PrivateKeyFromSeed(seed[:ed25519.SeedSize])
}
