// Package reputation looks up file digests against cloud threat-intelligence
// services. Every provider sits behind a shared on-disk response cache and a
// per-provider rate limiter so repeated scans do not burn API quota.
package reputation

import (
	"context"
	"time"
)

// Result is a normalized provider verdict for one file digest.
type Result struct {
	Found        bool      `json:"found"`
	Malicious    int       `json:"malicious"`
	Suspicious   int       `json:"suspicious"`
	Harmless     int       `json:"harmless"`
	Undetected   int       `json:"undetected"`
	TotalEngines int       `json:"total_engines"`
	ThreatNames  []string  `json:"threat_names,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// Client is one threat-intelligence provider. Lookup returns (nil, nil) when
// the provider is disabled; a found=false Result when the digest is unknown
// to the provider; and an error only on transport or protocol failures.
type Client interface {
	Name() string
	Enabled() bool
	Lookup(ctx context.Context, sha256 string) (*Result, error)
}

const maxThreatNames = 10

func clampThreatNames(names []string) []string {
	if len(names) > maxThreatNames {
		return names[:maxThreatNames]
	}
	return names
}
