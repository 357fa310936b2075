package scanner

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/h2non/filetype"

	"vigil/behavior"
	"vigil/config"
	"vigil/fuzzy"
	"vigil/hasher"
	"vigil/heuristic"
	"vigil/logger"
	"vigil/quarantine"
	"vigil/reputation"
	"vigil/signature"
)

// VirusTotal verdict thresholds. A handful of fringe engines flagging a file
// is not enough for a malicious verdict on its own.
const (
	vtMaliciousEngines  = 3
	vtSuspiciousEngines = 2
	vtMaxNames          = 3
)

// heuristicMaliciousScore is the heuristic score at which a file is verdicted
// malicious outright instead of merely suspicious.
const heuristicMaliciousScore = 70

// Engine runs the full detection pipeline over single files. Engines fire in
// a fixed order: signature, VirusTotal, MalwareBazaar, heuristic, then
// behavioral analysis for files some earlier engine already flagged.
type Engine struct {
	cfg        *config.Config
	signatures *signature.Store
	virustotal reputation.Client
	bazaar     reputation.Client
	heuristics *heuristic.Engine
	sandbox    *behavior.Gateway
	vault      *quarantine.Vault
}

func NewEngine(
	cfg *config.Config,
	signatures *signature.Store,
	virustotal, bazaar reputation.Client,
	heuristics *heuristic.Engine,
	sandbox *behavior.Gateway,
	vault *quarantine.Vault,
) *Engine {
	return &Engine{
		cfg:        cfg,
		signatures: signatures,
		virustotal: virustotal,
		bazaar:     bazaar,
		heuristics: heuristics,
		sandbox:    sandbox,
		vault:      vault,
	}
}

// ScanFile runs every enabled engine against one file and aggregates their
// verdicts into a Finding. Engine failures degrade the finding rather than
// abort it; only a failed digest makes the whole scan of a file an error.
func (e *Engine) ScanFile(ctx context.Context, path string, info os.FileInfo) *Finding {
	finding := &Finding{Path: path, ThreatLevel: LevelClean}
	if info != nil {
		finding.Size = info.Size()
	}

	digest, err := hasher.SHA256File(path)
	if err != nil {
		logger.Warnf("Failed to hash %s: %v", path, err)
		finding.ScanError = true
		finding.ErrorText = err.Error()
		return finding
	}
	finding.SHA256 = digest

	if t, err := filetype.MatchFile(path); err == nil && t.MIME.Value != "" {
		finding.MimeType = t.MIME.Value
	}

	e.runSignature(finding)
	e.runReputation(ctx, finding)
	e.runHeuristic(finding)
	e.runBehavior(ctx, finding)
	e.enrich(finding)

	if finding.IsDetected() {
		logger.Warnf("Threat detected: %s level=%s methods=%s",
			path, finding.ThreatLevel, strings.Join(finding.DetectionMethods, ","))
	}

	e.maybeQuarantine(finding)
	return finding
}

func (e *Engine) runSignature(finding *Finding) {
	if !e.cfg.SignatureEnabled || e.signatures == nil {
		return
	}
	match, err := e.signatures.Lookup(finding.SHA256)
	if err != nil {
		logger.Warnf("Signature lookup failed for %s: %v", finding.Path, err)
		return
	}
	if match == nil {
		return
	}
	finding.SignatureMatch = match.Name
	finding.addMethod("signature")
	finding.addThreatName(match.Name)
	finding.escalate(LevelMalicious)
}

func (e *Engine) runReputation(ctx context.Context, finding *Finding) {
	if !e.cfg.CloudLookupEnabled {
		return
	}

	if e.virustotal != nil && e.virustotal.Enabled() {
		result, err := e.virustotal.Lookup(ctx, finding.SHA256)
		if err != nil {
			logger.Warnf("VirusTotal lookup failed for %s: %v", finding.Path, err)
		} else if result != nil {
			finding.VirusTotal = result
			if result.Found {
				switch {
				case result.Malicious >= vtMaliciousEngines:
					finding.addMethod("virustotal")
					finding.escalate(LevelMalicious)
					names := result.ThreatNames
					if len(names) > vtMaxNames {
						names = names[:vtMaxNames]
					}
					for _, name := range names {
						finding.addThreatName(name)
					}
				case result.Malicious+result.Suspicious >= vtSuspiciousEngines:
					finding.addMethod("virustotal")
					finding.escalate(LevelSuspicious)
				}
			}
		}
	}

	if e.bazaar != nil && e.bazaar.Enabled() {
		result, err := e.bazaar.Lookup(ctx, finding.SHA256)
		if err != nil {
			logger.Warnf("MalwareBazaar lookup failed for %s: %v", finding.Path, err)
		} else if result != nil {
			finding.MalwareBazaar = result
			if result.Found {
				finding.addMethod("malwarebazaar")
				finding.escalate(LevelMalicious)
				for _, name := range result.ThreatNames {
					finding.addThreatName(name)
				}
			}
		}
	}
}

func (e *Engine) runHeuristic(finding *Finding) {
	if !e.cfg.HeuristicEnabled || e.heuristics == nil {
		return
	}
	result := e.heuristics.AnalyzeFile(finding.Path)
	finding.Heuristic = result
	if !result.IsSuspicious {
		return
	}
	finding.addMethod("heuristic")

	// The heuristic engine never overrides a cloud or signature verdict.
	if finding.ThreatLevel != LevelClean {
		return
	}
	if result.TotalScore >= heuristicMaliciousScore {
		finding.escalate(LevelMalicious)
		finding.addThreatName("Heuristic:Generic")
	} else {
		finding.escalate(LevelSuspicious)
	}
}

// runBehavior detonates only files some earlier engine flagged; behavioral
// analysis is too expensive to run on clean files.
func (e *Engine) runBehavior(ctx context.Context, finding *Finding) {
	if !e.cfg.BehaviorEnabled || e.sandbox == nil || !finding.IsDetected() {
		return
	}
	result := e.sandbox.Analyze(ctx, finding.Path)
	finding.Behavior = result
	if result.IsMalicious {
		finding.addMethod("sandbox")
		finding.escalate(LevelMalicious)
		finding.addThreatName("Sandbox:Behavioral")
	}
}

// enrich adds extra digests to flagged findings so reports can be pivoted
// against feeds that key on other algorithms.
func (e *Engine) enrich(finding *Finding) {
	if !finding.IsDetected() {
		return
	}
	if len(e.cfg.ExtraHashes) > 0 {
		finding.ExtraHashes = hasher.ComputeHashes(finding.Path, e.cfg.ExtraHashes)
	}
	if ts, err := fileTimes(finding.Path); err == nil {
		finding.Times = ts
	}
	if e.cfg.FuzzyHash {
		if h, ok := fuzzy.Lookup("tlsh"); ok {
			digest, err := h.HashFile(finding.Path)
			if err != nil {
				logger.Debugf("Fuzzy hash failed for %s: %v", finding.Path, err)
			} else {
				finding.FuzzyHash = digest
			}
		}
	}
}

func (e *Engine) maybeQuarantine(finding *Finding) {
	if !e.cfg.AutoQuarantine || e.vault == nil || !finding.IsConfirmedMalicious() {
		return
	}

	threatName := "Unknown"
	if len(finding.ThreatNames) > 0 {
		threatName = finding.ThreatNames[0]
	}
	method := ""
	if len(finding.DetectionMethods) > 0 {
		method = finding.DetectionMethods[0]
	}

	entry, err := e.vault.Quarantine(finding.Path, threatName, method, finding.SHA256, map[string]string{
		"threat_level": finding.ThreatLevel,
		"methods":      strings.Join(finding.DetectionMethods, ","),
	})
	if err != nil {
		logger.Errorf("Failed to quarantine %s: %v", finding.Path, err)
		finding.ErrorText = fmt.Sprintf("quarantine failed: %v", err)
		return
	}
	finding.QuarantineID = entry.ID
}
