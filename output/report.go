// Package output writes scan reports. The report is streamed as it is
// produced so a scan over millions of files never holds all findings in
// memory; the file is valid JSON once Close has run.
package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"vigil/version"
)

const SchemaVersion = "1.0"

// Metrics summarizes one scan run. It is embedded at the end of the report.
type Metrics struct {
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	TotalFiles   int    `json:"total_files"`
	FilesScanned int    `json:"files_scanned"`
	Detections   int    `json:"detections"`
	Malicious    int    `json:"malicious"`
	Suspicious   int    `json:"suspicious"`
	Quarantined  int    `json:"quarantined"`
	ScanErrors   int    `json:"scan_errors"`
}

// Writer streams findings into a JSON report file. Write is safe for
// concurrent use by the scan workers.
type Writer struct {
	file  *os.File
	buf   *bufio.Writer
	mu    sync.Mutex
	first bool
	count int
}

func New(fileName string) (*Writer, error) {
	f, err := os.OpenFile(fileName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("creating report file %s: %w", fileName, err)
	}

	w := &Writer{
		file:  f,
		buf:   bufio.NewWriterSize(f, 1024*1024),
		first: true,
	}
	if err := w.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) writeHeader() error {
	if _, err := fmt.Fprintf(w.buf, "{\n  \"schema_version\": %q,\n", SchemaVersion); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w.buf, "  \"generator\": %q,\n", "vigil "+version.Version); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w.buf, "  \"started_at\": %q,\n", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	if _, err := w.buf.WriteString("  \"findings\": [\n"); err != nil {
		return err
	}
	return w.buf.Flush()
}

// Write appends one finding record to the report.
func (w *Writer) Write(record any) {
	raw, err := json.MarshalIndent(record, "    ", "  ")
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.first {
		_, _ = w.buf.WriteString(",\n")
	}
	_, _ = w.buf.WriteString("    ")
	_, _ = w.buf.Write(raw)
	w.first = false
	w.count++
	_ = w.buf.Flush()
}

// Written returns the number of findings emitted so far.
func (w *Writer) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close finishes the findings array, appends metrics, and syncs the file.
func (w *Writer) Close(m *Metrics) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, _ = w.buf.WriteString("\n  ]")
	if m != nil {
		raw, err := json.MarshalIndent(m, "  ", "  ")
		if err == nil {
			_, _ = w.buf.WriteString(",\n  \"metrics\": ")
			_, _ = w.buf.Write(raw)
		}
	}
	_, _ = w.buf.WriteString("\n}\n")

	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flushing report: %w", err)
	}
	_ = w.file.Sync()
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("closing report: %w", err)
	}
	return nil
}
