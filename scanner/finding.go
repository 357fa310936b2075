package scanner

import (
	"vigil/behavior"
	"vigil/heuristic"
	"vigil/reputation"
)

// Threat levels, in escalation order. A finding's level only ever moves
// toward malicious as engines report; later engines cannot downgrade an
// earlier verdict.
const (
	LevelClean      = "clean"
	LevelSuspicious = "suspicious"
	LevelMalicious  = "malicious"
)

var levelRank = map[string]int{
	LevelClean:      0,
	LevelSuspicious: 1,
	LevelMalicious:  2,
}

// Finding is the canonical per-file scan result record.
// It is intentionally typed to avoid hot-path map mutation costs.
type Finding struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	SHA256   string `json:"sha256,omitempty"`
	MimeType string `json:"mime_type,omitempty"`

	ThreatLevel      string   `json:"threat_level"`
	DetectionMethods []string `json:"detection_methods,omitempty"`
	ThreatNames      []string `json:"threat_names,omitempty"`

	SignatureMatch string             `json:"signature_match,omitempty"`
	VirusTotal     *reputation.Result `json:"virustotal,omitempty"`
	MalwareBazaar  *reputation.Result `json:"malwarebazaar,omitempty"`
	Heuristic      *heuristic.Result  `json:"heuristic,omitempty"`
	Behavior       *behavior.Result   `json:"behavior,omitempty"`

	ExtraHashes map[string]string `json:"extra_hashes,omitempty"`
	FuzzyHash   string            `json:"fuzzy_hash,omitempty"`
	Times       *FileTimes        `json:"times,omitempty"`

	QuarantineID string `json:"quarantine_id,omitempty"`

	ScanError bool   `json:"scan_error,omitempty"`
	ErrorText string `json:"error_text,omitempty"`
}

// IsDetected reports whether any engine raised the file above clean.
func (f *Finding) IsDetected() bool {
	return f.ThreatLevel != LevelClean
}

// IsConfirmedMalicious reports a full malicious verdict, not just suspicion.
func (f *Finding) IsConfirmedMalicious() bool {
	return f.ThreatLevel == LevelMalicious
}

// escalate raises the threat level, never lowers it.
func (f *Finding) escalate(level string) {
	if levelRank[level] > levelRank[f.ThreatLevel] {
		f.ThreatLevel = level
	}
}

// addMethod appends a detection method once, preserving engine order.
func (f *Finding) addMethod(method string) {
	for _, m := range f.DetectionMethods {
		if m == method {
			return
		}
	}
	f.DetectionMethods = append(f.DetectionMethods, method)
}

// addThreatName appends a threat name, dropping duplicates and blanks.
func (f *Finding) addThreatName(name string) {
	if name == "" {
		return
	}
	for _, n := range f.ThreatNames {
		if n == name {
			return
		}
	}
	f.ThreatNames = append(f.ThreatNames, name)
}
