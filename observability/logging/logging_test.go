package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupEmitsRenamedKeys(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	buf := &bytes.Buffer{}
	logFile := filepath.Join(t.TempDir(), "walletd.log")
	logger := Setup("walletd", "test", WithWriter(buf), WithLevel("warn"), WithFile(logFile, 1, 1))
	logger.Info("dropped below level")
	logger.Warn("quote degraded", slog.String("provider", "ston"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"timestamp", "severity", "message", "service", "env"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("missing %s in %v", key, entry)
		}
	}
	if entry["severity"] != "WARN" || entry["service"] != "walletd" {
		t.Fatalf("unexpected entry %v", entry)
	}
	raw, err := os.ReadFile(logFile)
	if err != nil || !bytes.Contains(raw, []byte("quote degraded")) {
		t.Fatalf("rotated file not written: %v %q", err, raw)
	}
}

func TestMaskFieldFingerprintsSecrets(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{}))

	const secret = "Bearer 0123456789abcdef"
	logger.Warn("node credentials configured",
		MaskField("api_key", secret),
		MaskField("api_key_again", secret))

	if bytes.Contains(buf.Bytes(), []byte(secret)) {
		t.Fatalf("log output leaked secret: %s", buf.Bytes())
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	masked, _ := entry["api_key"].(string)
	if !strings.HasPrefix(masked, RedactedValue+" sha256:") || entry["api_key_again"] != masked {
		t.Fatalf("expected a stable fingerprint, got %v", entry)
	}
	if MaskField("api_key", "other").Value.String() == masked {
		t.Fatalf("different secrets share a fingerprint")
	}
	if MaskValue("  ") != "  " {
		t.Fatalf("blank values pass through")
	}
}

func TestSetupMasksSensitiveKeys(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	buf := &bytes.Buffer{}
	logger := Setup("walletctl", "", WithWriter(buf))
	const phrase = "abandon abandon abandon about"
	logger.Info("keystore imported",
		slog.String("mnemonic", phrase),
		slog.String("Signature", "c2lnbmF0dXJl"),
		slog.String("account", "0:aa"),
		MaskField("api_key", "k"))

	if bytes.Contains(buf.Bytes(), []byte(phrase)) || bytes.Contains(buf.Bytes(), []byte("c2lnbmF0dXJl")) {
		t.Fatalf("sensitive value logged: %s", buf.Bytes())
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["mnemonic"] != RedactedValue || entry["Signature"] != RedactedValue || entry["account"] != "0:aa" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if fp, _ := entry["api_key"].(string); !strings.HasPrefix(fp, RedactedValue+" sha256:") {
		t.Fatalf("fingerprint should survive redaction, got %v", entry["api_key"])
	}
	if !Sensitive(" BOC ") || Sensitive("provider") {
		t.Fatalf("unexpected sensitivity")
	}
}
