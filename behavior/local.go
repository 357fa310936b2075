package behavior

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var triageExtensions = map[string]bool{
	".exe": true,
	".dll": true,
	".bat": true,
	".cmd": true,
	".ps1": true,
	".vbs": true,
	".js":  true,
}

const (
	tinyExecutableBytes  = 1024
	largeExecutableBytes = 50 * 1024 * 1024
	behaviorPoints       = 15
)

// LocalTriage is the fallback backend. It inspects static file properties
// only and never executes the sample.
type LocalTriage struct {
	enabled bool
}

func NewLocalTriage(enabled bool) *LocalTriage {
	return &LocalTriage{enabled: enabled}
}

func (t *LocalTriage) Name() string    { return "local" }
func (t *LocalTriage) Available() bool { return t.enabled }

func (t *LocalTriage) Analyze(_ context.Context, path string) *Result {
	result := &Result{}
	if !t.enabled {
		result.Error = "local triage disabled"
		return result
	}

	if !triageExtensions[strings.ToLower(filepath.Ext(path))] {
		result.Error = "file is not executable"
		return result
	}

	info, err := os.Stat(path)
	if err != nil {
		result.Error = fmt.Sprintf("stat failed: %v", err)
		return result
	}

	if info.Size() < tinyExecutableBytes {
		result.SuspiciousBehaviors = append(result.SuspiciousBehaviors, "unusually small executable")
	}
	if info.Size() > largeExecutableBytes {
		result.SuspiciousBehaviors = append(result.SuspiciousBehaviors, "unusually large executable")
	}

	result.Score = len(result.SuspiciousBehaviors) * behaviorPoints
	if result.Score > 100 {
		result.Score = 100
	}
	result.IsMalicious = result.Score >= maliciousScore
	return result
}
