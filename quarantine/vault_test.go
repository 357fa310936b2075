package quarantine

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVault(t *testing.T, encrypt bool) (*Vault, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "vault")
	vault, err := Open(dir, encrypt)
	require.NoError(t, err)
	return vault, dir
}

func writeInfected(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "infected.exe")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestQuarantineRemovesOriginal(t *testing.T) {
	vault, dir := newTestVault(t, true)
	path := writeInfected(t, "malicious payload bytes")

	entry, err := vault.Quarantine(path, "Trojan.Agent", "signature", strings.Repeat("ab", 32), nil)
	require.NoError(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "original must be gone after quarantine")

	blob, err := os.ReadFile(filepath.Join(dir, entry.ID))
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "malicious payload bytes",
		"blob must not hold plaintext when encryption is on")

	entries, err := vault.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Trojan.Agent", entries[0].ThreatName)
	assert.Equal(t, "signature", entries[0].DetectionMethod)
	assert.True(t, entries[0].Encrypted)
}

func TestQuarantineFailedIndexWriteRollsBack(t *testing.T) {
	vault, dir := newTestVault(t, true)
	content := "must survive a failed quarantine"
	path := writeInfected(t, content)

	// A directory squatting on the index temp path makes the index write
	// fail after the blob has been stored.
	require.NoError(t, os.Mkdir(filepath.Join(dir, indexFileName+".tmp"), 0o700))

	_, err := vault.Quarantine(path, "Trojan.Agent", "signature", strings.Repeat("ef", 32), nil)
	require.Error(t, err)

	got, readErr := os.ReadFile(path)
	require.NoError(t, readErr, "original must still exist after a failed quarantine")
	assert.Equal(t, content, string(got), "original must be untouched")

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, f := range files {
		if f.IsDir() || f.Name() == indexFileName || f.Name() == keyFileName {
			continue
		}
		t.Errorf("orphan blob left behind: %s", f.Name())
	}

	entries, err := vault.List()
	require.NoError(t, err)
	assert.Empty(t, entries, "failed quarantine must not be indexed")
}

func TestRestoreRoundTrip(t *testing.T) {
	vault, _ := newTestVault(t, true)
	content := "original file content for round trip"
	path := writeInfected(t, content)

	entry, err := vault.Quarantine(path, "Trojan.Agent", "heuristic", strings.Repeat("cd", 32), nil)
	require.NoError(t, err)

	require.NoError(t, vault.Restore(entry.ID, ""))

	restored, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal([]byte(content), restored), "restored bytes must match the original")

	entries, err := vault.List()
	require.NoError(t, err)
	assert.Empty(t, entries, "restore must remove the vault entry")
}

func TestRestoreToCustomPath(t *testing.T) {
	vault, _ := newTestVault(t, true)
	path := writeInfected(t, "custom path restore")

	entry, err := vault.Quarantine(path, "Worm.Blob", "malwarebazaar", strings.Repeat("ef", 32), nil)
	require.NoError(t, err)

	target := filepath.Join(t.TempDir(), "deep", "nested", "restored.bin")
	require.NoError(t, vault.Restore(entry.ID, target))

	restored, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "custom path restore", string(restored))
}

func TestRestoreUnknownID(t *testing.T) {
	vault, _ := newTestVault(t, true)
	assert.Error(t, vault.Restore("20240101_000000_nope", ""))
}

func TestDeletePermanentlyIsIdempotent(t *testing.T) {
	vault, dir := newTestVault(t, true)
	path := writeInfected(t, "doomed")

	entry, err := vault.Quarantine(path, "Trojan.Agent", "signature", strings.Repeat("01", 32), nil)
	require.NoError(t, err)

	require.NoError(t, vault.DeletePermanently(entry.ID))
	_, statErr := os.Stat(filepath.Join(dir, entry.ID))
	assert.True(t, os.IsNotExist(statErr))

	require.NoError(t, vault.DeletePermanently(entry.ID), "second delete must succeed")
	require.NoError(t, vault.DeletePermanently("never-existed"))
}

func TestCleanupOld(t *testing.T) {
	vault, _ := newTestVault(t, false)

	oldPath := writeInfected(t, "old sample")
	oldEntry, err := vault.Quarantine(oldPath, "Old.Threat", "signature", strings.Repeat("aa", 32), nil)
	require.NoError(t, err)

	newPath := writeInfected(t, "new sample")
	_, err = vault.Quarantine(newPath, "New.Threat", "signature", strings.Repeat("bb", 32), nil)
	require.NoError(t, err)

	// Backdate the first entry past the retention window.
	entries, err := vault.List()
	require.NoError(t, err)
	for i := range entries {
		if entries[i].ID == oldEntry.ID {
			entries[i].QuarantinedAt = time.Now().UTC().Add(-40 * 24 * time.Hour)
		}
	}
	require.NoError(t, vault.saveIndex(entries))

	deleted, err := vault.CleanupOld(30 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	remaining, err := vault.List()
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "New.Threat", remaining[0].ThreatName)
}

func TestUnencryptedVault(t *testing.T) {
	vault, dir := newTestVault(t, false)
	path := writeInfected(t, "plaintext sample")

	entry, err := vault.Quarantine(path, "Trojan.Agent", "signature", strings.Repeat("cc", 32), nil)
	require.NoError(t, err)
	assert.False(t, entry.Encrypted)

	blob, err := os.ReadFile(filepath.Join(dir, entry.ID))
	require.NoError(t, err)
	assert.Equal(t, "plaintext sample", string(blob))

	_, statErr := os.Stat(filepath.Join(dir, keyFileName))
	assert.True(t, os.IsNotExist(statErr), "unencrypted vault needs no key file")
}

func TestKeyPersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "vault")
	vault, err := Open(dir, true)
	require.NoError(t, err)

	path := writeInfected(t, "survives reopen")
	entry, err := vault.Quarantine(path, "Trojan.Agent", "signature", strings.Repeat("dd", 32), nil)
	require.NoError(t, err)

	reopened, err := Open(dir, true)
	require.NoError(t, err)

	target := filepath.Join(t.TempDir(), "restored")
	require.NoError(t, reopened.Restore(entry.ID, target))

	restored, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "survives reopen", string(restored))
}

func TestTotalSizeExcludesBookkeeping(t *testing.T) {
	vault, _ := newTestVault(t, true)
	path := writeInfected(t, strings.Repeat("x", 1000))

	_, err := vault.Quarantine(path, "Trojan.Agent", "signature", strings.Repeat("ee", 32), nil)
	require.NoError(t, err)

	size, err := vault.TotalSize()
	require.NoError(t, err)
	// GCM adds a nonce and tag on top of the plaintext.
	assert.Greater(t, size, int64(1000))
	assert.Less(t, size, int64(1100))
}

func TestEntryIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := newEntryID()
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}
