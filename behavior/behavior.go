// Package behavior analyzes candidate files for runtime behavior. The real
// analysis runs on a remote detonation service; a local backend provides a
// static triage fallback and never executes samples.
package behavior

import (
	"context"

	"vigil/logger"
)

// Event is one observed runtime action, such as a network connection or a
// file or registry operation.
type Event struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// Result is the outcome of one behavioral analysis. Error carries soft
// failures (backend unavailable, sample not analyzable) so a failed analysis
// degrades the scan instead of aborting it.
type Result struct {
	Executed            bool     `json:"executed"`
	SuspiciousBehaviors []string `json:"suspicious_behaviors,omitempty"`
	NetworkEvents       []Event  `json:"network_events,omitempty"`
	FileEvents          []Event  `json:"file_events,omitempty"`
	RegistryEvents      []Event  `json:"registry_events,omitempty"`
	Score               int      `json:"score"`
	IsMalicious         bool     `json:"is_malicious"`
	Error               string   `json:"error,omitempty"`
}

// maliciousScore is the 0-100 score at which a behavioral result is treated
// as a malicious verdict.
const maliciousScore = 60

// Backend runs one flavor of behavioral analysis.
type Backend interface {
	Name() string
	Available() bool
	Analyze(ctx context.Context, path string) *Result
}

// Gateway routes analysis to the best available backend, preferring the
// remote detonation service and falling back to local triage when the
// remote run fails outright.
type Gateway struct {
	remote Backend
	local  Backend
}

func NewGateway(remote, local Backend) *Gateway {
	return &Gateway{remote: remote, local: local}
}

func (g *Gateway) Available() bool {
	return (g.remote != nil && g.remote.Available()) || (g.local != nil && g.local.Available())
}

func (g *Gateway) Analyze(ctx context.Context, path string) *Result {
	if g.remote != nil && g.remote.Available() {
		result := g.remote.Analyze(ctx, path)
		if result.Executed || result.Error == "" {
			return result
		}
		logger.Debugf("Remote behavioral analysis failed (%s), falling back to local triage", result.Error)
	}
	if g.local != nil && g.local.Available() {
		return g.local.Analyze(ctx, path)
	}
	return &Result{Error: "no behavioral backend available"}
}
