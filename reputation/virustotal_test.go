package reputation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const vtSampleReport = `{
  "data": {
    "attributes": {
      "last_analysis_stats": {
        "malicious": 5,
        "suspicious": 1,
        "harmless": 60,
        "undetected": 4
      },
      "last_analysis_results": {
        "EngineA": {"category": "malicious", "result": "Trojan.Generic"},
        "EngineB": {"category": "malicious", "result": "Win32.Agent"},
        "EngineC": {"category": "harmless", "result": ""},
        "EngineD": {"category": "suspicious", "result": "Trojan.Generic"}
      }
    }
  }
}`

func TestVirusTotalLookup(t *testing.T) {
	digest := strings.Repeat("ab", 32)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files/"+digest, r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-apikey"))
		w.Write([]byte(vtSampleReport))
	}))
	defer server.Close()

	cache, err := NewCache(t.TempDir(), time.Hour)
	require.NoError(t, err)
	client := NewVirusTotalClient("test-key", server.URL, 60, cache)

	result, err := client.Lookup(context.Background(), digest)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Found)
	assert.Equal(t, 5, result.Malicious)
	assert.Equal(t, 1, result.Suspicious)
	assert.Equal(t, 70, result.TotalEngines)
	assert.ElementsMatch(t, []string{"Trojan.Generic", "Win32.Agent"}, result.ThreatNames,
		"threat names must be deduplicated")
}

func TestVirusTotalNotFoundIsCachedNegative(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cache, err := NewCache(t.TempDir(), time.Hour)
	require.NoError(t, err)
	client := NewVirusTotalClient("test-key", server.URL, 60, cache)

	digest := strings.Repeat("ab", 32)
	for i := 0; i < 2; i++ {
		result, err := client.Lookup(context.Background(), digest)
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.False(t, result.Found)
	}
	assert.Equal(t, 1, calls, "negative result must be served from cache")
}

func TestVirusTotalDisabledWithoutKey(t *testing.T) {
	cache, err := NewCache(t.TempDir(), time.Hour)
	require.NoError(t, err)
	client := NewVirusTotalClient("", "http://unused.invalid", 60, cache)

	assert.False(t, client.Enabled())
	result, err := client.Lookup(context.Background(), strings.Repeat("ab", 32))
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestVirusTotalServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	cache, err := NewCache(t.TempDir(), time.Hour)
	require.NoError(t, err)
	client := NewVirusTotalClient("test-key", server.URL, 60, cache)

	_, err = client.Lookup(context.Background(), strings.Repeat("ab", 32))
	assert.Error(t, err)
}

func TestParseVTReportClampsThreatNames(t *testing.T) {
	var sb strings.Builder
	sb.WriteString(`{"data":{"attributes":{"last_analysis_stats":{"malicious":12},"last_analysis_results":{`)
	for i := 0; i < 12; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`"Engine` + string(rune('A'+i)) + `":{"category":"malicious","result":"Family.` + string(rune('A'+i)) + `"}`)
	}
	sb.WriteString(`}}}}`)

	result, err := parseVTReport([]byte(sb.String()))
	require.NoError(t, err)
	assert.Len(t, result.ThreatNames, maxThreatNames)
}
