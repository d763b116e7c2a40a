package keychain

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileStoreSurvivesNewInstance(t *testing.T) {
	dir := t.TempDir()

	first, err := NewFileStore(dir, "svc")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	first.Upsert("purchase_status", []byte("true"))

	second, err := NewFileStore(dir, "svc")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	got, ok := second.Read("purchase_status")
	if !ok || string(got) != "true" {
		t.Fatalf("Read = %q, %t; want true, true", got, ok)
	}
}

func TestFileStoreEncryptsAtRest(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, "svc")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	s.Upsert("trial_expiration_ts", []byte("1700000000"))

	raw, err := os.ReadFile(s.VaultPath())
	if err != nil {
		t.Fatalf("read vault: %v", err)
	}
	if strings.Contains(string(raw), "trial_expiration_ts") || strings.Contains(string(raw), "1700000000") {
		t.Fatal("vault should not contain plaintext")
	}

	for _, path := range []string{s.VaultPath(), filepath.Join(dir, SecretFileName)} {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat %s: %v", path, err)
		}
		if perm := info.Mode().Perm(); perm != privateFilePerm {
			t.Fatalf("%s perm = %o, want %o", path, perm, privateFilePerm)
		}
	}
}

func TestFileStoreCorruptVaultReadsAsAbsent(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, "svc")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	s.Upsert("purchase_status", []byte("true"))

	if err := os.WriteFile(s.VaultPath(), []byte("not-a-vault"), privateFilePerm); err != nil {
		t.Fatalf("corrupt vault: %v", err)
	}

	if _, ok := s.Read("purchase_status"); ok {
		t.Fatal("corrupt vault should read as absent")
	}

	// A write replaces the unreadable vault.
	s.Upsert("purchase_status", []byte("false"))
	got, ok := s.Read("purchase_status")
	if !ok || string(got) != "false" {
		t.Fatalf("Read after rewrite = %q, %t", got, ok)
	}
}

func TestFileStoreWrongSecretReadsAsAbsent(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, "svc")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	s.Upsert("purchase_status", []byte("true"))

	secret := strings.Repeat("ab", 32)
	if err := os.WriteFile(filepath.Join(dir, SecretFileName), []byte(secret), privateFilePerm); err != nil {
		t.Fatalf("replace secret: %v", err)
	}
	if _, ok := s.Read("purchase_status"); ok {
		t.Fatal("vault sealed with another secret should read as absent")
	}
}

func TestFileStoreSeparatesServices(t *testing.T) {
	dir := t.TempDir()
	a, _ := NewFileStore(dir, "svc-a")
	b, _ := NewFileStore(dir, "svc-b")

	a.Upsert("purchase_status", []byte("true"))
	if _, ok := b.Read("purchase_status"); ok {
		t.Fatal("service b should not see service a items")
	}
	if a.VaultPath() == b.VaultPath() {
		t.Fatal("services should use distinct vault files")
	}
}

func TestFileStoreRejectsSymlinkVault(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewFileStore(dir, "svc")
	s.Upsert("purchase_status", []byte("true"))

	target := filepath.Join(t.TempDir(), "elsewhere.enc")
	data, err := os.ReadFile(s.VaultPath())
	if err != nil {
		t.Fatalf("read vault: %v", err)
	}
	if err := os.WriteFile(target, data, privateFilePerm); err != nil {
		t.Fatalf("write target: %v", err)
	}
	if err := os.Remove(s.VaultPath()); err != nil {
		t.Fatalf("remove vault: %v", err)
	}
	if err := os.Symlink(target, s.VaultPath()); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	if _, ok := s.Read("purchase_status"); ok {
		t.Fatal("symlinked vault should be refused")
	}
}

func TestNewFileStoreRequiresDir(t *testing.T) {
	if _, err := NewFileStore("  ", "svc"); err == nil {
		t.Fatal("expected error for empty directory")
	}
}
