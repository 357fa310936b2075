package heuristic

import (
	"bytes"
	"regexp"
	"sort"

	"github.com/cloudflare/ahocorasick"
)

const (
	minStringLength    = 4
	maxExtractedCount  = 1000
	obfuscationMinLen  = 8
	obfuscationSamples = 100
)

// patternClass pairs a class name with its compiled pattern. The slice order
// fixes the order findings are reported in.
type patternClass struct {
	name string
	re   *regexp.Regexp
}

var patternClasses = []patternClass{
	{"ip_address", regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
	{"url", regexp.MustCompile(`(?i)https?://[^\s]+`)},
	{"file_path", regexp.MustCompile(`[A-Za-z]:\\[^:*?"<>|\r\n]+`)},
	{"registry_key", regexp.MustCompile(`HKEY_[A-Z_]+\\[^\s]+`)},
	{"crypto_wallet", regexp.MustCompile(`\b[13][a-km-zA-HJ-NP-Z1-9]{25,34}\b`)},
	{"webhook_url", regexp.MustCompile(`https://discord(?:app)?\.com/api/webhooks/\d+/[A-Za-z0-9_-]+`)},
}

// Credential theft, keylogging, ransom, injection, and rootkit vocabulary.
// Matched case-insensitively as substrings.
var suspiciousKeywords = []string{
	"backdoor", "bitcoin", "cookie", "credential", "crypto",
	"encrypt", "hook", "inject", "keylog", "miner",
	"password", "payload", "ransom", "rat", "rootkit",
	"shellcode", "stealer", "token", "trojan", "wallet",
}

var keywordMatcher = ahocorasick.NewStringMatcher(suspiciousKeywords)

type stringResult struct {
	TotalStrings  int                 `json:"total_strings"`
	Suspicious    bool                `json:"suspicious"`
	Findings      map[string][]string `json:"findings,omitempty"`
	FindingOrder  []string            `json:"-"`
	KeywordsFound []string            `json:"keywords_found,omitempty"`
}

type obfuscationResult struct {
	Obfuscated  bool    `json:"obfuscated"`
	AvgLength   float64 `json:"avg_string_length"`
	RandomRatio float64 `json:"random_ratio"`
}

// extractStrings pulls printable ASCII runs out of the first 10 MiB of a
// file. Both the read window and the match count are bounded so the result
// is deterministic and cheap regardless of file size.
func extractStrings(path string, minLength, maxCount int) []string {
	data, err := readSample(path, maxAnalyzeBytes)
	if err != nil || len(data) == 0 {
		return nil
	}
	return extractStringsFromBytes(data, minLength, maxCount)
}

func extractStringsFromBytes(data []byte, minLength, maxCount int) []string {
	var strs []string
	start := -1
	for i := 0; i <= len(data); i++ {
		printable := i < len(data) && data[i] >= 0x20 && data[i] <= 0x7e
		if printable {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 && i-start >= minLength {
			strs = append(strs, string(data[start:i]))
			if len(strs) >= maxCount {
				return strs
			}
		}
		start = -1
	}
	return strs
}

// analyzeStrings matches extracted strings against the suspicious pattern
// classes and the keyword list.
func analyzeStrings(path string) stringResult {
	strs := extractStrings(path, minStringLength, maxExtractedCount)
	result := stringResult{TotalStrings: len(strs)}
	if len(strs) == 0 {
		return result
	}

	joined := []byte(nil)
	for i, s := range strs {
		if i > 0 {
			joined = append(joined, ' ')
		}
		joined = append(joined, s...)
	}

	for _, class := range patternClasses {
		var matches []string
		seen := make(map[string]struct{})
		for _, s := range strs {
			for _, m := range class.re.FindAllString(s, -1) {
				if _, ok := seen[m]; ok {
					continue
				}
				seen[m] = struct{}{}
				matches = append(matches, m)
				if len(matches) >= 10 {
					break
				}
			}
			if len(matches) >= 10 {
				break
			}
		}
		if len(matches) > 0 {
			if result.Findings == nil {
				result.Findings = make(map[string][]string)
			}
			result.Findings[class.name] = matches
			result.FindingOrder = append(result.FindingOrder, class.name)
			result.Suspicious = true
		}
	}

	lowered := bytes.ToLower(joined)
	hits := keywordMatcher.MatchThreadSafe(lowered)
	if len(hits) > 0 {
		distinct := make(map[string]struct{}, len(hits))
		for _, idx := range hits {
			if idx >= 0 && idx < len(suspiciousKeywords) {
				distinct[suspiciousKeywords[idx]] = struct{}{}
			}
		}
		for kw := range distinct {
			result.KeywordsFound = append(result.KeywordsFound, kw)
		}
		sort.Strings(result.KeywordsFound)
		result.Suspicious = true
	}

	return result
}

// checkObfuscation samples longer strings and flags obfuscation when they
// are unusually short on average or mostly random-looking.
func checkObfuscation(path string) obfuscationResult {
	strs := extractStrings(path, obfuscationMinLen, maxExtractedCount)
	if len(strs) == 0 {
		return obfuscationResult{}
	}

	totalLen := 0
	for _, s := range strs {
		totalLen += len(s)
	}
	avgLength := float64(totalLen) / float64(len(strs))

	sample := strs
	if len(sample) > obfuscationSamples {
		sample = sample[:obfuscationSamples]
	}
	randomCount := 0
	for _, s := range sample {
		if looksRandom(s) {
			randomCount++
		}
	}
	randomRatio := float64(randomCount) / float64(len(sample))

	return obfuscationResult{
		Obfuscated:  randomRatio > 0.5 || avgLength < 6,
		AvgLength:   avgLength,
		RandomRatio: randomRatio,
	}
}

// looksRandom flags tokens mixing upper, lower, and digits, or tokens that
// are mostly non-alphanumeric.
func looksRandom(s string) bool {
	if len(s) < obfuscationMinLen {
		return false
	}
	var upper, lower, digits, nonAlnum int
	for _, c := range []byte(s) {
		switch {
		case c >= 'A' && c <= 'Z':
			upper++
		case c >= 'a' && c <= 'z':
			lower++
		case c >= '0' && c <= '9':
			digits++
		default:
			nonAlnum++
		}
	}
	if upper > 0 && lower > 0 && digits > 0 {
		return true
	}
	return float64(nonAlnum)/float64(len(s)) > 0.3
}
