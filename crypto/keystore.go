package crypto

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const (
	keystoreVersion = 1
	scryptN         = 1 << 15
	scryptR         = 8
	scryptP         = 1
)

// ErrWrongPassphrase is returned when a keystore cannot be opened.
var ErrWrongPassphrase = errors.New("crypto: wrong passphrase or corrupted keystore")

type keystoreFile struct {
	Version    int    `json:"version"`
	KDF        string `json:"kdf"`
	N          int    `json:"n"`
	R          int    `json:"r"`
	P          int    `json:"p"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// SaveToKeystore encrypts the key seed with a scrypt derived
// XChaCha20-Poly1305 key and writes it to path. The parent directory is
// created with 0700 permissions and the file is replaced atomically.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) error {
	if key == nil {
		return errors.New("crypto: nil private key")
	}
	if path == "" {
		return errors.New("crypto: empty keystore path")
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	dk, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, chacha20poly1305.KeySize)
	if err != nil {
		return err
	}
	defer zero(dk)
	aead, err := chacha20poly1305.NewX(dk)
	if err != nil {
		return err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	seed := key.Seed()
	defer zero(seed)
	encoded, err := json.MarshalIndent(keystoreFile{
		Version:    keystoreVersion,
		KDF:        "scrypt",
		N:          scryptN,
		R:          scryptR,
		P:          scryptP,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, seed, nil),
	}, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "keystore-")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

// LoadFromKeystore decrypts a keystore file written by SaveToKeystore.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, errors.New("crypto: empty keystore path")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ks keystoreFile
	if err := json.Unmarshal(raw, &ks); err != nil {
		return nil, fmt.Errorf("crypto: decode keystore: %w", err)
	}
	if ks.Version != keystoreVersion || ks.KDF != "scrypt" {
		return nil, fmt.Errorf("crypto: unsupported keystore version %d kdf %q", ks.Version, ks.KDF)
	}
	dk, err := scrypt.Key([]byte(passphrase), ks.Salt, ks.N, ks.R, ks.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	defer zero(dk)
	aead, err := chacha20poly1305.NewX(dk)
	if err != nil {
		return nil, err
	}
	if len(ks.Nonce) != aead.NonceSize() {
		return nil, ErrWrongPassphrase
	}
	seed, err := aead.Open(nil, ks.Nonce, ks.Ciphertext, nil)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	defer zero(seed)
	return PrivateKeyFromSeed(seed)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
