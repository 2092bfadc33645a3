package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLockConfigDryRun(t *testing.T) {
	tmpDir := t.TempDir()

	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte("worker:\n  command: ./stt\n"), 0600); err != nil {
		t.Fatal(err)
	}

	report, err := LockConfig(tmpDir, []string{"config.yaml", "extra.yaml"}, true)
	if err != nil {
		t.Fatalf("LockConfig() failed: %v", err)
	}

	if report.Written {
		t.Fatal("report.Written = true, want false in dry-run")
	}

	if len(report.Files) != 2 {
		t.Fatalf("len(report.Files) = %d, want 2", len(report.Files))
	}

	if !report.Files[0].Exists || report.Files[0].Hash == "" {
		t.Fatal("config.yaml should exist with computed hash")
	}
	if report.Files[1].Exists || report.Files[1].Hash != "" {
		t.Fatal("extra.yaml should be reported as missing without hash")
	}

	if _, err := os.Stat(filepath.Join(tmpDir, ".checksums")); !os.IsNotExist(err) {
		t.Fatal(".checksums should not be written in dry-run mode")
	}
}

func TestLockConfigWritesChecksums(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("worker:\n  command: ./stt\n"), 0600); err != nil {
		t.Fatal(err)
	}

	report, err := LockConfig(tmpDir, []string{"config.yaml"}, false)
	if err != nil {
		t.Fatalf("LockConfig() failed: %v", err)
	}
	if !report.Written {
		t.Fatal("report.Written = false, want true")
	}

	manifest, err := LoadChecksums(tmpDir)
	if err != nil {
		t.Fatalf("LoadChecksums() failed: %v", err)
	}
	hash, ok := manifest.Hashes["config.yaml"]
	if !ok {
		t.Fatal("config.yaml missing from manifest")
	}
	if err := VerifyFileHash(configPath, hash); err != nil {
		t.Fatalf("VerifyFileHash() failed: %v", err)
	}
}

func TestComputeBlake3HashStable(t *testing.T) {
	tmpDir := t.TempDir()
	a := filepath.Join(tmpDir, "a")
	b := filepath.Join(tmpDir, "b")
	_ = os.WriteFile(a, []byte("same"), 0600)
	_ = os.WriteFile(b, []byte("same"), 0600)

	ha, err := ComputeBlake3Hash(a)
	if err != nil {
		t.Fatal(err)
	}
	hb, _ := ComputeBlake3Hash(b)
	if ha != hb {
		t.Errorf("hashes differ for identical content: %s vs %s", ha, hb)
	}
	if len(ha) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(ha))
	}
}

func TestLoadChecksumsMissing(t *testing.T) {
	_, err := LoadChecksums(t.TempDir())
	if !errors.Is(err, ErrNoChecksums) {
		t.Fatalf("LoadChecksums() = %v, want ErrNoChecksums", err)
	}
}

func TestLoadChecksumsBadVersion(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, ".checksums"), []byte("version: 9\nhashes: {}\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadChecksums(tmpDir); err == nil {
		t.Fatal("expected error for unsupported version")
	}
}
