package signature

import (
	"bufio"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"vigil/logger"

	"github.com/FastFilter/xorfilter"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS signatures (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	sha256 TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL
);
`

// Record is one known-threat signature. Records are insert-only; the first
// write for a fingerprint wins.
type Record struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	SHA256    string `json:"sha256"`
	CreatedAt string `json:"created_at"`
}

// Store maps file fingerprints to known-threat names, backed by SQLite. An
// in-memory xor filter over all stored fingerprints answers the common
// negative lookup without touching the database.
type Store struct {
	db *sql.DB

	mu        sync.RWMutex
	prefilter *xorfilter.Xor8
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open signature database: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure signature database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create signature schema: %w", err)
	}
	s := &Store{db: db}
	if err := s.rebuildPrefilter(); err != nil {
		logger.Warnf("Signature prefilter unavailable, falling back to direct lookups: %v", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Lookup returns the signature record for a fingerprint, or nil when the
// fingerprint is unknown. Matching is case-insensitive on the hex digest.
func (s *Store) Lookup(fingerprint string) (*Record, error) {
	fingerprint = strings.ToLower(strings.TrimSpace(fingerprint))
	if fingerprint == "" {
		return nil, nil
	}

	s.mu.RLock()
	filter := s.prefilter
	s.mu.RUnlock()
	if filter != nil && !filter.Contains(fingerprintKey(fingerprint)) {
		return nil, nil
	}

	row := s.db.QueryRow(
		"SELECT id, name, sha256, created_at FROM signatures WHERE sha256 = ?",
		fingerprint,
	)
	var rec Record
	if err := row.Scan(&rec.ID, &rec.Name, &rec.SHA256, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup signature: %w", err)
	}
	return &rec, nil
}

// Insert stores a signature unless the fingerprint already exists.
func (s *Store) Insert(name, fingerprint string) error {
	fingerprint = strings.ToLower(strings.TrimSpace(fingerprint))
	if name == "" || fingerprint == "" {
		return fmt.Errorf("signature name and fingerprint must not be empty")
	}
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO signatures (name, sha256, created_at) VALUES (?, ?, ?)",
		name, fingerprint, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert signature: %w", err)
	}
	return s.rebuildPrefilter()
}

// BulkInsert behaves as repeated idempotent inserts inside one transaction.
// It returns the number of rows actually added.
func (s *Store) BulkInsert(pairs [][2]string) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin bulk insert: %w", err)
	}
	stmt, err := tx.Prepare(
		"INSERT OR IGNORE INTO signatures (name, sha256, created_at) VALUES (?, ?, ?)",
	)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("prepare bulk insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	added := 0
	for _, pair := range pairs {
		name := pair[0]
		fp := strings.ToLower(strings.TrimSpace(pair[1]))
		if name == "" || fp == "" {
			continue
		}
		res, err := stmt.Exec(name, fp, now)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("bulk insert signature: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit bulk insert: %w", err)
	}
	if err := s.rebuildPrefilter(); err != nil {
		logger.Warnf("Signature prefilter rebuild failed: %v", err)
	}
	return added, nil
}

// ImportFeed seeds the store from a JSON-lines feed of
// {"name": ..., "sha256": ...} objects. Malformed lines are skipped.
func (s *Store) ImportFeed(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open signature feed: %w", err)
	}
	defer f.Close()

	type feedEntry struct {
		Name   string `json:"name"`
		SHA256 string `json:"sha256"`
	}

	var pairs [][2]string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var entry feedEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			logger.Warnf("Skipping malformed feed line %d: %v", lineNo, err)
			continue
		}
		pairs = append(pairs, [2]string{entry.Name, entry.SHA256})
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("read signature feed: %w", err)
	}
	return s.BulkInsert(pairs)
}

// All returns every stored record in insertion order.
func (s *Store) All() ([]Record, error) {
	rows, err := s.db.Query("SELECT id, name, sha256, created_at FROM signatures ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list signatures: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.SHA256, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan signature row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM signatures").Scan(&n); err != nil {
		return 0, fmt.Errorf("count signatures: %w", err)
	}
	return n, nil
}

func (s *Store) rebuildPrefilter() error {
	rows, err := s.db.Query("SELECT sha256 FROM signatures")
	if err != nil {
		return err
	}
	defer rows.Close()

	var keys []uint64
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return err
		}
		keys = append(keys, fingerprintKey(fp))
	}
	if err := rows.Err(); err != nil {
		return err
	}

	var filter *xorfilter.Xor8
	if len(keys) > 0 {
		f, err := xorfilter.Populate(keys)
		if err != nil {
			return err
		}
		filter = f
	}

	s.mu.Lock()
	s.prefilter = filter
	s.mu.Unlock()
	return nil
}

// fingerprintKey folds the leading 16 hex digits of a fingerprint into a
// uint64 filter key. The digest bytes are already uniformly distributed.
func fingerprintKey(fingerprint string) uint64 {
	fingerprint = strings.ToLower(fingerprint)
	if len(fingerprint) < 16 {
		fingerprint = fingerprint + strings.Repeat("0", 16-len(fingerprint))
	}
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = hexByte(fingerprint[i*2])<<4 | hexByte(fingerprint[i*2+1])
	}
	return binary.BigEndian.Uint64(buf[:])
}

func hexByte(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	}
	return 0
}
