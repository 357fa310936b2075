// Package heuristic scores files for static suspicion signals: byte entropy,
// executable-structure anomalies, and embedded string patterns. The three
// sub-analyses are independent and order-insensitive; their contributions sum
// into one 0-100 score.
package heuristic

import (
	"fmt"
	"strings"
)

// Sensitivity thresholds: the minimum total score at which a file is marked
// suspicious.
var sensitivityThresholds = map[string]int{
	"low":      60,
	"medium":   40,
	"high":     25,
	"paranoid": 15,
}

const (
	entropyPoints     = 15
	structurePoints   = 25
	packedPoints      = 20
	stringPoints      = 20
	keywordPointsPer  = 5
	obfuscationPoints = 15
)

// Detection is one named heuristic finding.
type Detection struct {
	Category    string `json:"category"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// Result is the combined output of one heuristic pass over a file. It is
// derived fresh per scan and never persisted.
type Result struct {
	Enabled        bool        `json:"enabled"`
	IsSuspicious   bool        `json:"is_suspicious"`
	TotalScore     int         `json:"total_score"`
	EntropyScore   int         `json:"entropy_score"`
	StructureScore int         `json:"structure_score"`
	StringScore    int         `json:"string_score"`
	Entropy        float64     `json:"entropy"`
	IsPacked       bool        `json:"is_packed"`
	Confidence     string      `json:"confidence"`
	Detections     []Detection `json:"detections,omitempty"`
}

// Engine runs the static heuristic analysis. Construct one per scan
// configuration; it is safe for concurrent use.
type Engine struct {
	enabled   bool
	threshold int
}

func NewEngine(enabled bool, sensitivity string) *Engine {
	threshold, ok := sensitivityThresholds[strings.ToLower(sensitivity)]
	if !ok {
		threshold = sensitivityThresholds["medium"]
	}
	return &Engine{enabled: enabled, threshold: threshold}
}

// Threshold returns the score at which files are marked suspicious.
func (e *Engine) Threshold() int { return e.threshold }

// AnalyzeFile runs all three sub-analyzers over a file and fuses their
// contributions. A disabled engine returns a neutral, non-suspicious result.
// Sub-analyzer failures degrade to "no contribution"; they never abort the
// other sub-analyzers.
func (e *Engine) AnalyzeFile(path string) *Result {
	result := &Result{Enabled: e.enabled, Confidence: "none"}
	if !e.enabled {
		return result
	}

	entropy := analyzeEntropy(path)
	result.Entropy = entropy.Entropy
	if entropy.Suspicious {
		result.EntropyScore = entropyPoints
		result.Detections = append(result.Detections, Detection{
			Category:    "entropy",
			Severity:    "medium",
			Description: entropy.Reason,
		})
	}

	structure := analyzeStructure(path)
	if structure.Applicable {
		if structure.Suspicious {
			result.StructureScore += structurePoints
			for _, warning := range structure.Warnings {
				severity := "medium"
				if strings.Contains(strings.ToLower(warning), "inject") ||
					strings.Contains(warning, "writable+executable") {
					severity = "high"
				}
				result.Detections = append(result.Detections, Detection{
					Category:    "structure",
					Severity:    severity,
					Description: warning,
				})
			}
		}
		if structure.IsPacked {
			result.StructureScore += packedPoints
			result.IsPacked = true
		}
	}

	strs := analyzeStrings(path)
	if strs.Suspicious {
		if len(strs.FindingOrder) > 0 {
			result.StringScore += stringPoints
			for _, class := range strs.FindingOrder {
				matches := strs.Findings[class]
				preview := matches
				if len(preview) > 3 {
					preview = preview[:3]
				}
				result.Detections = append(result.Detections, Detection{
					Category:    "suspicious_strings",
					Severity:    "medium",
					Description: fmt.Sprintf("found %s: %s", class, strings.Join(preview, ", ")),
				})
			}
		}
		if len(strs.KeywordsFound) > 0 {
			result.StringScore += len(strs.KeywordsFound) * keywordPointsPer
			severity := "medium"
			if len(strs.KeywordsFound) > 3 {
				severity = "high"
			}
			preview := strs.KeywordsFound
			if len(preview) > 5 {
				preview = preview[:5]
			}
			result.Detections = append(result.Detections, Detection{
				Category:    "suspicious_keywords",
				Severity:    severity,
				Description: "suspicious keywords: " + strings.Join(preview, ", "),
			})
		}
	}

	obfuscation := checkObfuscation(path)
	if obfuscation.Obfuscated {
		result.StringScore += obfuscationPoints
		result.Detections = append(result.Detections, Detection{
			Category:    "obfuscation",
			Severity:    "medium",
			Description: "possible string obfuscation detected",
		})
	}

	result.TotalScore = result.EntropyScore + result.StructureScore + result.StringScore
	if result.TotalScore > 100 {
		result.TotalScore = 100
	}
	result.IsSuspicious = result.TotalScore >= e.threshold

	switch {
	case result.TotalScore >= 70:
		result.Confidence = "high"
	case result.TotalScore >= 40:
		result.Confidence = "medium"
	case result.TotalScore >= e.threshold:
		result.Confidence = "low"
	}

	return result
}
