package behavior

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteSandboxFullRun(t *testing.T) {
	var views atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sandbox-key", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/tasks/create/file":
			require.NoError(t, r.ParseMultipartForm(1<<20))
			_, _, err := r.FormFile("file")
			require.NoError(t, err)
			w.Write([]byte(`{"task_id": 42}`))
		case "/tasks/view/42":
			// First poll still pending, second poll reported.
			if views.Add(1) == 1 {
				w.Write([]byte(`{"task": {"status": "running"}}`))
			} else {
				w.Write([]byte(`{"task": {"status": "reported"}}`))
			}
		case "/tasks/report/42":
			w.Write([]byte(`{"info": {"score": 8.0}, "signatures": [{"severity": 3, "description": "Injects code into other processes"}]}`))
		default:
			t.Errorf("unexpected request: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	sandbox := NewRemoteSandbox(server.URL, "sandbox-key", 5*time.Second, 10*time.Millisecond)
	result := sandbox.Analyze(context.Background(), writeExe(t, "dropper.exe", 2048))

	assert.Empty(t, result.Error)
	assert.True(t, result.Executed)
	assert.Equal(t, 80, result.Score)
	assert.True(t, result.IsMalicious)
	assert.Contains(t, result.SuspiciousBehaviors, "Injects code into other processes")
}

func TestRemoteSandboxTimeoutIsSoftFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tasks/create/file":
			w.Write([]byte(`{"task_id": 7}`))
		default:
			w.Write([]byte(`{"task": {"status": "running"}}`))
		}
	}))
	defer server.Close()

	sandbox := NewRemoteSandbox(server.URL, "", 150*time.Millisecond, 20*time.Millisecond)
	result := sandbox.Analyze(context.Background(), writeExe(t, "slow.exe", 2048))

	assert.False(t, result.Executed)
	assert.NotEmpty(t, result.Error)
}

func TestRemoteSandboxUnavailableWithoutURL(t *testing.T) {
	sandbox := NewRemoteSandbox("", "", time.Second, time.Second)
	assert.False(t, sandbox.Available())
}
