package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"vigil/logger"
)

const vtProviderName = "virustotal"

// VirusTotalClient queries the VirusTotal v3 file-report endpoint. A missing
// API key disables the client rather than failing lookups.
type VirusTotalClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	cache   *Cache
	limiter *SlidingLimiter
}

func NewVirusTotalClient(apiKey, baseURL string, ratePerMinute int, cache *Cache) *VirusTotalClient {
	if apiKey == "" {
		logger.Warn("VirusTotal client disabled: API key not configured")
	}
	return &VirusTotalClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		cache:   cache,
		limiter: NewSlidingLimiter(ratePerMinute, time.Minute),
	}
}

func (c *VirusTotalClient) Name() string  { return vtProviderName }
func (c *VirusTotalClient) Enabled() bool { return c.apiKey != "" }

// Lookup fetches the analysis report for a SHA-256 digest. Unknown hashes
// are cached as negative results so subsequent scans skip the network.
func (c *VirusTotalClient) Lookup(ctx context.Context, sha256 string) (*Result, error) {
	if !c.Enabled() {
		return nil, nil
	}

	if cached, ok := c.cache.Get(vtProviderName, sha256); ok {
		logger.Debugf("VirusTotal cache hit for %.16s", sha256)
		return cached, nil
	}

	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("waiting for VirusTotal rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files/"+sha256, nil)
	if err != nil {
		return nil, fmt.Errorf("building VirusTotal request: %w", err)
	}
	req.Header.Set("x-apikey", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying VirusTotal: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		result := &Result{Found: false, FetchedAt: time.Now()}
		c.cache.Set(vtProviderName, sha256, result)
		return result, nil
	default:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("VirusTotal returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading VirusTotal response: %w", err)
	}

	result, err := parseVTReport(body)
	if err != nil {
		return nil, fmt.Errorf("parsing VirusTotal response: %w", err)
	}

	c.cache.Set(vtProviderName, sha256, result)
	return result, nil
}

type vtReport struct {
	Data struct {
		Attributes struct {
			LastAnalysisStats   map[string]int `json:"last_analysis_stats"`
			LastAnalysisResults map[string]struct {
				Category string `json:"category"`
				Result   string `json:"result"`
			} `json:"last_analysis_results"`
		} `json:"attributes"`
	} `json:"data"`
}

func parseVTReport(body []byte) (*Result, error) {
	var report vtReport
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, err
	}

	stats := report.Data.Attributes.LastAnalysisStats
	total := 0
	for _, n := range stats {
		total += n
	}

	result := &Result{
		Found:        true,
		Malicious:    stats["malicious"],
		Suspicious:   stats["suspicious"],
		Harmless:     stats["harmless"],
		Undetected:   stats["undetected"],
		TotalEngines: total,
		FetchedAt:    time.Now(),
	}

	seen := make(map[string]bool)
	for _, verdict := range report.Data.Attributes.LastAnalysisResults {
		if verdict.Category != "malicious" && verdict.Category != "suspicious" {
			continue
		}
		if verdict.Result == "" || seen[verdict.Result] {
			continue
		}
		seen[verdict.Result] = true
		result.ThreatNames = append(result.ThreatNames, verdict.Result)
	}
	sort.Strings(result.ThreatNames)
	result.ThreatNames = clampThreatNames(result.ThreatNames)

	return result, nil
}
