package quarantine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const indexFileName = "index.json"

// Entry is the metadata record for one quarantined file. The blob on disk is
// opaque; everything needed to present or restore it lives here.
type Entry struct {
	ID              string            `json:"id"`
	OriginalPath    string            `json:"original_path"`
	ThreatName      string            `json:"threat_name"`
	DetectionMethod string            `json:"detection_method"`
	QuarantinedAt   time.Time         `json:"quarantined_at"`
	FileSize        int64             `json:"file_size"`
	SHA256          string            `json:"sha256"`
	Encrypted       bool              `json:"encrypted"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// loadIndex reads the vault index. A missing index is an empty vault; a
// corrupt one is an error rather than silent data loss.
func (v *Vault) loadIndex() ([]Entry, error) {
	raw, err := os.ReadFile(filepath.Join(v.dir, indexFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading quarantine index: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parsing quarantine index: %w", err)
	}
	return entries, nil
}

// saveIndex writes the index through a temp file and rename so readers never
// observe a partially written index.
func (v *Vault) saveIndex(entries []Entry) error {
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding quarantine index: %w", err)
	}

	path := filepath.Join(v.dir, indexFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("writing quarantine index: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing quarantine index: %w", err)
	}
	return nil
}

// findEntry returns the index position of an entry, or -1.
func findEntry(entries []Entry, id string) int {
	for i := range entries {
		if entries[i].ID == id {
			return i
		}
	}
	return -1
}
