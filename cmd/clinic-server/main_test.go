package main

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/medclinic/clinic/internal/config"
	"github.com/medclinic/clinic/internal/domain/account"
	"github.com/medclinic/clinic/internal/platform/auth"
	"github.com/medclinic/clinic/internal/platform/db"
	"github.com/medclinic/clinic/internal/platform/events"
)

func TestPrintStatus(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	var buf bytes.Buffer
	printStatus(&buf, []db.MigrationStatus{
		{Version: 1, Name: "001_clinic.sql", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "002_indexes.sql"},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header, rule and 2 rows, got %d lines:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[2], "applied") || !strings.Contains(lines[2], "2024-05-01 12:30:00") {
		t.Errorf("unexpected applied row %q", lines[2])
	}
	if !strings.Contains(lines[3], "pending") {
		t.Errorf("unexpected pending row %q", lines[3])
	}
}

func TestReadPassword(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"hunter2\n", "hunter2"},
		{"hunter2\r\n", "hunter2"},
		{"no-newline", "no-newline"},
		{"", ""},
	}
	for _, tt := range tests {
		got, err := readPassword(strings.NewReader(tt.in))
		if err != nil {
			t.Fatalf("readPassword(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("readPassword(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHashPasswordCmd(t *testing.T) {
	cmd := hashPasswordCmd()
	var out bytes.Buffer
	cmd.SetIn(strings.NewReader("correct horse\n"))
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("hash-password: %v", err)
	}
	hash := strings.TrimSpace(out.String())
	if !account.CheckPassword("correct horse", hash) {
		t.Errorf("printed hash %q does not match the input", hash)
	}
}

func TestHashPasswordCmd_RejectsEmpty(t *testing.T) {
	cmd := hashPasswordCmd()
	cmd.SetIn(strings.NewReader("\n"))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	if err := cmd.Execute(); err == nil {
		t.Error("expected an error for an empty password")
	}
}

func TestNewVerifier_SigningKey(t *testing.T) {
	key := strings.Repeat("k", 32)
	cfg := &config.Config{AuthSigningKey: key, AuthIssuer: "clinic"}
	v, err := newVerifier(cfg)
	if err != nil {
		t.Fatalf("newVerifier: %v", err)
	}

	tok, _, err := auth.NewIssuer([]byte(key), "clinic", "", time.Hour).Issue("acct-1", auth.RoleSecretary)
	if err != nil {
		t.Fatal(err)
	}
	id, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.Role != auth.RoleSecretary {
		t.Errorf("expected secretary, got %s", id.Role)
	}
}

func TestNewVerifier_PublicKeyFile(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "jwt.pub")
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := newVerifier(&config.Config{AuthPublicKeyFile: path}); err != nil {
		t.Fatalf("newVerifier: %v", err)
	}
	if _, err := newVerifier(&config.Config{AuthPublicKeyFile: filepath.Join(t.TempDir(), "missing.pub")}); err == nil {
		t.Error("expected an error for a missing key file")
	}
}

func TestNewPublisher_NoBrokers(t *testing.T) {
	pub, closePub, err := newPublisher(&config.Config{}, zerolog.Nop(), nil)
	if err != nil {
		t.Fatalf("newPublisher: %v", err)
	}
	defer closePub()
	if _, ok := pub.(events.Nop); !ok {
		t.Errorf("expected a no-op publisher without brokers, got %T", pub)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	prodLog := newLogger("production", &buf)
	prodLog.Info().Msg("hello")
	if !strings.Contains(buf.String(), `"service":"clinic-server"`) {
		t.Errorf("expected JSON log with service field, got %q", buf.String())
	}

	buf.Reset()
	devLog := newLogger("development", &buf)
	devLog.Info().Msg("hello")
	if strings.HasPrefix(buf.String(), "{") {
		t.Errorf("expected console output in development, got %q", buf.String())
	}
}
