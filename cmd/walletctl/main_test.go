package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"walletkit/crypto"
)

const testEnv = "WALLETCTL_TEST_PASSPHRASE"

func TestNewThenPubkey(t *testing.T) {
	t.Setenv(testEnv, "correct horse")
	path := filepath.Join(t.TempDir(), "keys", "main.json")

	var out bytes.Buffer
	if err := runNew([]string{"-keystore", path, "-pass-env", testEnv}, &out); err != nil {
		t.Fatalf("new: %v", err)
	}
	var mnemonic, pub string
	for _, line := range strings.Split(out.String(), "\n") {
		if v, ok := strings.CutPrefix(line, "mnemonic: "); ok {
			mnemonic = v
		}
		if v, ok := strings.CutPrefix(line, "public key: "); ok {
			pub = v
		}
	}
	if len(strings.Fields(mnemonic)) != crypto.MnemonicWords || len(pub) != 64 {
		t.Fatalf("unexpected output %q", out.String())
	}

	out.Reset()
	if err := runPubkey([]string{"-keystore", path, "-pass-env", testEnv}, &out); err != nil {
		t.Fatalf("pubkey: %v", err)
	}
	if strings.TrimSpace(out.String()) != pub {
		t.Fatalf("pubkey mismatch: %q vs %q", out.String(), pub)
	}

	if err := runNew([]string{"-keystore", path, "-pass-env", testEnv}, &out); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
}

func TestImportIsDeterministic(t *testing.T) {
	t.Setenv(testEnv, "correct horse")
	mnemonic, err := crypto.NewMnemonic()
	if err != nil {
		t.Fatalf("mnemonic: %v", err)
	}
	want, err := crypto.KeyFromMnemonic(mnemonic, "")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	path := filepath.Join(t.TempDir(), "imported.json")
	var out bytes.Buffer
	if err := runImport([]string{"-keystore", path, "-pass-env", testEnv}, strings.NewReader(mnemonic+"\n"), &out); err != nil {
		t.Fatalf("import: %v", err)
	}
	got, err := crypto.LoadFromKeystore(path, "correct horse")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !bytes.Equal(got.PublicKey(), want.PublicKey()) {
		t.Fatalf("imported key differs")
	}

	if err := runImport([]string{"-keystore", path, "-pass-env", testEnv, "-force"}, strings.NewReader("not a phrase"), &out); err == nil {
		t.Fatalf("expected invalid mnemonic to fail")
	}
}
