package hasher

import (
	"os"
	"path/filepath"
	"testing"

	"vigil/logger"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("temp file: %v", err)
	}
	return path
}

func TestSHA256File(t *testing.T) {
	path := writeTemp(t, "hello world")

	got, err := SHA256File(path)
	if err != nil {
		t.Fatalf("SHA256File: %v", err)
	}
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Errorf("digest mismatch: got %s want %s", got, want)
	}

	// Same content must always produce the same digest.
	again, err := SHA256File(path)
	if err != nil {
		t.Fatalf("SHA256File: %v", err)
	}
	if again != got {
		t.Errorf("digest not deterministic: %s vs %s", again, got)
	}
}

func TestSHA256FileMissing(t *testing.T) {
	if _, err := SHA256File(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestComputeHashes(t *testing.T) {
	logger.Init("info")
	path := writeTemp(t, "hello world")

	hashes := ComputeHashes(path, []string{"md5", "sha1", "sha256", "unknown"})
	if hashes["md5"] != "5eb63bbbe01eeed093cb22bb8f5acdc3" {
		t.Errorf("md5 mismatch: %s", hashes["md5"])
	}
	if hashes["sha1"] != "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed" {
		t.Errorf("sha1 mismatch: %s", hashes["sha1"])
	}
	if hashes["sha256"] != "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9" {
		t.Errorf("sha256 mismatch: %s", hashes["sha256"])
	}
	if _, ok := hashes["unknown"]; ok {
		t.Errorf("unexpected hash for unknown algorithm")
	}
}

func TestComputeHashesBlake3(t *testing.T) {
	logger.Init("info")
	path := writeTemp(t, "hello world")

	hashes := ComputeHashes(path, []string{"blake3"})
	if len(hashes["blake3"]) != 64 {
		t.Errorf("blake3 digest should be 32 bytes hex, got %q", hashes["blake3"])
	}
}

func TestComputeHashesXXH64(t *testing.T) {
	logger.Init("info")
	path := writeTemp(t, "hello world")

	hashes := ComputeHashes(path, []string{"xxh64"})
	if len(hashes["xxh64"]) != 16 {
		t.Errorf("xxh64 digest should be 8 bytes hex, got %q", hashes["xxh64"])
	}
	again := ComputeHashes(path, []string{"xxh64"})
	if again["xxh64"] != hashes["xxh64"] {
		t.Errorf("xxh64 not deterministic: %s vs %s", again["xxh64"], hashes["xxh64"])
	}
}
