package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"vigil/logger"
)

const mbProviderName = "malwarebazaar"

// MalwareBazaarClient queries the abuse.ch MalwareBazaar hash endpoint. Any
// hit in that corpus is treated as a confirmed malware sample.
type MalwareBazaarClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	cache   *Cache
	limiter *SlidingLimiter
}

func NewMalwareBazaarClient(apiKey, baseURL string, ratePerMinute int, cache *Cache) *MalwareBazaarClient {
	if apiKey == "" {
		logger.Debug("MalwareBazaar client running without an API key")
	}
	return &MalwareBazaarClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		cache:   cache,
		limiter: NewSlidingLimiter(ratePerMinute, time.Minute),
	}
}

func (c *MalwareBazaarClient) Name() string { return mbProviderName }

// Enabled is always true: the hash query endpoint works without a key, and
// the key only identifies the caller when one is configured.
func (c *MalwareBazaarClient) Enabled() bool { return true }

// Lookup posts a get_info query for a SHA-256 digest. hash_not_found is a
// valid negative answer and is cached like a positive one.
func (c *MalwareBazaarClient) Lookup(ctx context.Context, sha256 string) (*Result, error) {
	if cached, ok := c.cache.Get(mbProviderName, sha256); ok {
		logger.Debugf("MalwareBazaar cache hit for %.16s", sha256)
		return cached, nil
	}

	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("waiting for MalwareBazaar rate limit: %w", err)
	}

	form := url.Values{}
	form.Set("query", "get_info")
	form.Set("hash", sha256)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building MalwareBazaar request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.apiKey != "" {
		req.Header.Set("Auth-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying MalwareBazaar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("MalwareBazaar returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading MalwareBazaar response: %w", err)
	}

	result, err := parseMBReport(body)
	if err != nil {
		return nil, fmt.Errorf("parsing MalwareBazaar response: %w", err)
	}

	c.cache.Set(mbProviderName, sha256, result)
	return result, nil
}

type mbReport struct {
	QueryStatus string `json:"query_status"`
	Data        []struct {
		Signature string   `json:"signature"`
		Tags      []string `json:"tags"`
	} `json:"data"`
}

func parseMBReport(body []byte) (*Result, error) {
	var report mbReport
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, err
	}

	switch report.QueryStatus {
	case "hash_not_found", "no_results":
		return &Result{Found: false, FetchedAt: time.Now()}, nil
	case "ok":
	default:
		return nil, fmt.Errorf("unexpected query_status %q", report.QueryStatus)
	}

	result := &Result{
		Found:     true,
		Malicious: 1,
		FetchedAt: time.Now(),
	}
	seen := make(map[string]bool)
	for _, sample := range report.Data {
		if sample.Signature == "" || seen[sample.Signature] {
			continue
		}
		seen[sample.Signature] = true
		result.ThreatNames = append(result.ThreatNames, sample.Signature)
	}
	result.ThreatNames = clampThreatNames(result.ThreatNames)

	return result, nil
}
