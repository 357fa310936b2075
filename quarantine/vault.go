// Package quarantine isolates detected files in an encrypted on-disk vault.
// Each quarantined file becomes an opaque blob plus an index entry; the blob
// and index are always updated as a pair so the vault never holds orphans.
package quarantine

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"vigil/logger"
)

const (
	keyFileName = "key.bin"
	keySize     = 32
)

// Vault is the encrypted quarantine store. All operations that touch the
// index serialize on the mutex; blob IO happens under it too since every
// mutation pairs a blob with an index change.
type Vault struct {
	dir     string
	encrypt bool
	aead    cipher.AEAD
	mu      sync.Mutex
}

// Open prepares the vault directory and loads or creates the encryption key.
// The directory and key file are private to the owning user.
func Open(dir string, encrypt bool) (*Vault, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating quarantine directory %s: %w", dir, err)
	}

	v := &Vault{dir: dir, encrypt: encrypt}

	if encrypt {
		key, err := loadOrCreateKey(filepath.Join(dir, keyFileName))
		if err != nil {
			return nil, err
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("initializing quarantine cipher: %w", err)
		}
		v.aead, err = cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("initializing quarantine cipher: %w", err)
		}
	}

	return v, nil
}

func loadOrCreateKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != keySize {
			return nil, fmt.Errorf("quarantine key %s has wrong size %d", path, len(key))
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading quarantine key: %w", err)
	}

	key = make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating quarantine key: %w", err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("writing quarantine key: %w", err)
	}
	return key, nil
}

// Quarantine moves a file into the vault. The sequence is blob write, index
// update, original delete; a failed index update rolls the blob back so the
// two never diverge. The returned entry describes the stored file.
func (v *Vault) Quarantine(path, threatName, detectionMethod, sha256 string, metadata map[string]string) (*Entry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("inspecting %s: %w", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	id := newEntryID()
	blobPath := filepath.Join(v.dir, id)

	blob := data
	if v.encrypt {
		blob, err = v.seal(data)
		if err != nil {
			return nil, fmt.Errorf("encrypting %s: %w", path, err)
		}
	}

	if err := os.WriteFile(blobPath, blob, 0o600); err != nil {
		return nil, fmt.Errorf("writing quarantine blob: %w", err)
	}

	entry := Entry{
		ID:              id,
		OriginalPath:    absPath,
		ThreatName:      threatName,
		DetectionMethod: detectionMethod,
		QuarantinedAt:   time.Now().UTC(),
		FileSize:        info.Size(),
		SHA256:          sha256,
		Encrypted:       v.encrypt,
		Metadata:        metadata,
	}

	entries, err := v.loadIndex()
	if err == nil {
		err = v.saveIndex(append(entries, entry))
	}
	if err != nil {
		os.Remove(blobPath)
		return nil, err
	}

	if err := os.Remove(path); err != nil {
		logger.Warnf("Quarantined %s but could not remove the original: %v", path, err)
	}

	logger.Infof("Quarantined %s as %s (%s)", path, id, threatName)
	return &entry, nil
}

// Restore decrypts a quarantined file back to disk. An empty restorePath
// means the recorded original location. On success the blob and index entry
// are removed.
func (v *Vault) Restore(id, restorePath string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	entries, err := v.loadIndex()
	if err != nil {
		return err
	}
	pos := findEntry(entries, id)
	if pos < 0 {
		return fmt.Errorf("no quarantine entry %s", id)
	}
	entry := entries[pos]

	blobPath := filepath.Join(v.dir, id)
	blob, err := os.ReadFile(blobPath)
	if err != nil {
		return fmt.Errorf("reading quarantine blob %s: %w", id, err)
	}

	data := blob
	if entry.Encrypted {
		if v.aead == nil {
			return fmt.Errorf("entry %s is encrypted but the vault has no key", id)
		}
		data, err = v.open(blob)
		if err != nil {
			return fmt.Errorf("decrypting quarantine blob %s: %w", id, err)
		}
	}

	target := restorePath
	if target == "" {
		target = entry.OriginalPath
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating restore directory: %w", err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("writing restored file %s: %w", target, err)
	}

	if err := v.saveIndex(append(entries[:pos:pos], entries[pos+1:]...)); err != nil {
		return err
	}
	os.Remove(blobPath)

	logger.Infof("Restored %s to %s", id, target)
	return nil
}

// DeletePermanently removes a quarantined blob and its index entry. Deleting
// an unknown or already-deleted id succeeds.
func (v *Vault) DeletePermanently(id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.deleteLocked(id)
}

func (v *Vault) deleteLocked(id string) error {
	if err := os.Remove(filepath.Join(v.dir, id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing quarantine blob %s: %w", id, err)
	}

	entries, err := v.loadIndex()
	if err != nil {
		return err
	}
	pos := findEntry(entries, id)
	if pos < 0 {
		return nil
	}
	return v.saveIndex(append(entries[:pos:pos], entries[pos+1:]...))
}

// CleanupOld deletes entries quarantined more than maxAge ago and returns
// how many were removed.
func (v *Vault) CleanupOld(maxAge time.Duration) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	entries, err := v.loadIndex()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-maxAge)
	deleted := 0
	for _, entry := range entries {
		if !entry.QuarantinedAt.Before(cutoff) {
			continue
		}
		if err := v.deleteLocked(entry.ID); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// List returns all index entries, oldest first.
func (v *Vault) List() ([]Entry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loadIndex()
}

// TotalSize reports the on-disk bytes used by quarantine blobs, excluding
// the index and key files.
func (v *Vault) TotalSize() (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	files, err := os.ReadDir(v.dir)
	if err != nil {
		return 0, fmt.Errorf("reading quarantine directory: %w", err)
	}

	var total int64
	for _, f := range files {
		if f.IsDir() || f.Name() == indexFileName || f.Name() == keyFileName {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

// seal encrypts data with a fresh nonce prepended to the ciphertext.
func (v *Vault) seal(data []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return v.aead.Seal(nonce, nonce, data, nil), nil
}

func (v *Vault) open(blob []byte) ([]byte, error) {
	n := v.aead.NonceSize()
	if len(blob) < n {
		return nil, fmt.Errorf("blob shorter than nonce")
	}
	return v.aead.Open(nil, blob[:n], blob[n:], nil)
}

// newEntryID builds a sortable, collision-free blob name.
func newEntryID() string {
	return time.Now().UTC().Format("20060102_150405") + "_" + uuid.NewString()
}
