package behavior

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeExe(t *testing.T, name string, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o600))
	return path
}

func TestLocalTriageRejectsNonExecutable(t *testing.T) {
	triage := NewLocalTriage(true)
	result := triage.Analyze(context.Background(), writeExe(t, "notes.txt", 100))
	assert.False(t, result.Executed)
	assert.NotEmpty(t, result.Error)
}

func TestLocalTriageTinyExecutable(t *testing.T) {
	triage := NewLocalTriage(true)
	result := triage.Analyze(context.Background(), writeExe(t, "dropper.exe", 200))
	assert.Empty(t, result.Error)
	assert.Contains(t, result.SuspiciousBehaviors, "unusually small executable")
	assert.False(t, result.Executed, "local triage never executes samples")
	assert.False(t, result.IsMalicious, "one static signal is not a malicious verdict")
}

func TestLocalTriageNormalExecutable(t *testing.T) {
	triage := NewLocalTriage(true)
	result := triage.Analyze(context.Background(), writeExe(t, "tool.exe", 64*1024))
	assert.Empty(t, result.Error)
	assert.Empty(t, result.SuspiciousBehaviors)
	assert.Zero(t, result.Score)
}

func TestLocalTriageDisabled(t *testing.T) {
	triage := NewLocalTriage(false)
	assert.False(t, triage.Available())
	result := triage.Analyze(context.Background(), writeExe(t, "tool.exe", 64*1024))
	assert.NotEmpty(t, result.Error)
}

type stubBackend struct {
	name      string
	available bool
	result    *Result
}

func (b *stubBackend) Name() string                            { return b.name }
func (b *stubBackend) Available() bool                         { return b.available }
func (b *stubBackend) Analyze(context.Context, string) *Result { return b.result }

func TestGatewayPrefersRemote(t *testing.T) {
	remote := &stubBackend{name: "remote", available: true, result: &Result{Executed: true, Score: 80, IsMalicious: true}}
	local := &stubBackend{name: "local", available: true, result: &Result{Score: 0}}

	result := NewGateway(remote, local).Analyze(context.Background(), "sample.exe")
	assert.True(t, result.Executed)
	assert.True(t, result.IsMalicious)
}

func TestGatewayFallsBackOnRemoteFailure(t *testing.T) {
	remote := &stubBackend{name: "remote", available: true, result: &Result{Error: "submit failed: connection refused"}}
	local := &stubBackend{name: "local", available: true, result: &Result{Score: 15}}

	result := NewGateway(remote, local).Analyze(context.Background(), "sample.exe")
	assert.Empty(t, result.Error)
	assert.Equal(t, 15, result.Score)
}

func TestGatewayNoBackend(t *testing.T) {
	gw := NewGateway(nil, nil)
	assert.False(t, gw.Available())
	result := gw.Analyze(context.Background(), "sample.exe")
	assert.NotEmpty(t, result.Error)
}

func TestParseSandboxReport(t *testing.T) {
	raw := `{
	  "info": {"score": 7.5},
	  "signatures": [
	    {"severity": 3, "description": "Creates autorun registry keys"},
	    {"severity": 1, "description": "Reads its own binary"}
	  ],
	  "network": {"tcp": [{"dst": "203.0.113.7", "dport": 443}]},
	  "behavior": {"processes": [{"calls": [
	    {"category": "file", "api": "NtWriteFile"},
	    {"category": "registry", "api": "RegSetValueExW"},
	    {"category": "misc", "api": "Sleep"}
	  ]}]}
	}`
	var report sandboxReport
	require.NoError(t, json.Unmarshal([]byte(raw), &report))

	result := &Result{}
	parseSandboxReport(&report, result)

	assert.Equal(t, 75, result.Score, "service scores 0-10, result is 0-100")
	assert.True(t, result.IsMalicious)
	assert.Equal(t, []string{"Creates autorun registry keys"}, result.SuspiciousBehaviors,
		"low-severity signatures are dropped")
	require.Len(t, result.NetworkEvents, 1)
	assert.Equal(t, "203.0.113.7:443", result.NetworkEvents[0].Detail)
	assert.Len(t, result.FileEvents, 1)
	assert.Len(t, result.RegistryEvents, 1)
}

func TestParseSandboxReportScoreCap(t *testing.T) {
	report := &sandboxReport{}
	report.Info.Score = 12.0
	result := &Result{}
	parseSandboxReport(report, result)
	assert.Equal(t, 100, result.Score)
}
