package passphrase

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnvironmentWinsAndIsCached(t *testing.T) {
	t.Setenv("WALLETD_TEST_PASSPHRASE", "from-env")
	s := NewSource("WALLETD_TEST_PASSPHRASE", "/does/not/exist")
	got, err := s.Get()
	if err != nil || got != "from-env" {
		t.Fatalf("unexpected %q, %v", got, err)
	}
	t.Setenv("WALLETD_TEST_PASSPHRASE", "changed")
	if got, _ := s.Get(); got != "from-env" {
		t.Fatalf("value should be cached, got %q", got)
	}
}

func TestEmptyEnvironmentRejected(t *testing.T) {
	t.Setenv("WALLETD_TEST_PASSPHRASE", "  ")
	if _, err := NewSource("WALLETD_TEST_PASSPHRASE", "").Get(); err == nil {
		t.Fatalf("expected error for blank passphrase")
	}
}

func TestPassphraseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pass")
	if err := os.WriteFile(path, []byte("s3cret\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := NewSource("", path).Get()
	if err != nil || got != "s3cret" {
		t.Fatalf("unexpected %q, %v", got, err)
	}
	blank := filepath.Join(t.TempDir(), "blank")
	if err := os.WriteFile(blank, []byte("\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewSource("", blank).Get(); err == nil {
		t.Fatalf("blank file should be rejected")
	}
}
