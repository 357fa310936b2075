package behavior

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"vigil/logger"
)

// RemoteSandbox submits samples to a Cuckoo-compatible detonation service
// and polls until the report is ready. All failures are soft: they come back
// in Result.Error rather than as hard errors, so the rest of the scan
// pipeline keeps running.
type RemoteSandbox struct {
	baseURL   string
	apiKey    string
	timeout   time.Duration
	pollEvery time.Duration
	http      *http.Client
}

func NewRemoteSandbox(baseURL, apiKey string, timeout, pollEvery time.Duration) *RemoteSandbox {
	return &RemoteSandbox{
		baseURL:   baseURL,
		apiKey:    apiKey,
		timeout:   timeout,
		pollEvery: pollEvery,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *RemoteSandbox) Name() string    { return "remote" }
func (s *RemoteSandbox) Available() bool { return s.baseURL != "" }

func (s *RemoteSandbox) Analyze(ctx context.Context, path string) *Result {
	result := &Result{}
	if s.baseURL == "" {
		result.Error = "sandbox URL not configured"
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	taskID, err := s.submit(ctx, path)
	if err != nil {
		result.Error = fmt.Sprintf("submit failed: %v", err)
		return result
	}
	logger.Debugf("Sandbox task %d created for %s", taskID, filepath.Base(path))

	report, err := s.waitForReport(ctx, taskID)
	if err != nil {
		result.Error = fmt.Sprintf("analysis incomplete: %v", err)
		return result
	}

	parseSandboxReport(report, result)
	result.Executed = true
	return result
}

func (s *RemoteSandbox) submit(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening sample: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return 0, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return 0, fmt.Errorf("reading sample: %w", err)
	}
	if err := mw.Close(); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/tasks/create/file", &body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	s.authorize(req)

	resp, err := s.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return 0, fmt.Errorf("sandbox returned status %d", resp.StatusCode)
	}

	var created struct {
		TaskID int `json:"task_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return 0, fmt.Errorf("decoding submit response: %w", err)
	}
	if created.TaskID == 0 {
		return 0, fmt.Errorf("sandbox did not return a task id")
	}
	return created.TaskID, nil
}

func (s *RemoteSandbox) waitForReport(ctx context.Context, taskID int) (*sandboxReport, error) {
	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()

	for {
		status, err := s.taskStatus(ctx, taskID)
		if err != nil {
			logger.Debugf("Sandbox status check failed for task %d: %v", taskID, err)
		} else if status == "reported" {
			return s.fetchReport(ctx, taskID)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *RemoteSandbox) taskStatus(ctx context.Context, taskID int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/tasks/view/%d", s.baseURL, taskID), nil)
	if err != nil {
		return "", err
	}
	s.authorize(req)

	resp, err := s.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	var view struct {
		Task struct {
			Status string `json:"status"`
		} `json:"task"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return "", err
	}
	return view.Task.Status, nil
}

func (s *RemoteSandbox) fetchReport(ctx context.Context, taskID int) (*sandboxReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/tasks/report/%d", s.baseURL, taskID), nil)
	if err != nil {
		return nil, err
	}
	s.authorize(req)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("report fetch returned status %d", resp.StatusCode)
	}

	var report sandboxReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decoding report: %w", err)
	}
	return &report, nil
}

func (s *RemoteSandbox) authorize(req *http.Request) {
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
}

type sandboxReport struct {
	Info struct {
		Score float64 `json:"score"`
	} `json:"info"`
	Signatures []struct {
		Severity    int    `json:"severity"`
		Description string `json:"description"`
	} `json:"signatures"`
	Network struct {
		TCP []sandboxConn `json:"tcp"`
		UDP []sandboxConn `json:"udp"`
	} `json:"network"`
	Behavior struct {
		Processes []struct {
			Calls []struct {
				Category string `json:"category"`
				API      string `json:"api"`
			} `json:"calls"`
		} `json:"processes"`
	} `json:"behavior"`
}

type sandboxConn struct {
	Dst   string `json:"dst"`
	Dport int    `json:"dport"`
}

// parseSandboxReport flattens a detonation report into a Result. The service
// scores 0-10; the pipeline works on a 0-100 scale.
func parseSandboxReport(report *sandboxReport, result *Result) {
	for _, sig := range report.Signatures {
		if sig.Severity >= 2 && sig.Description != "" {
			result.SuspiciousBehaviors = append(result.SuspiciousBehaviors, sig.Description)
		}
	}

	for _, conn := range report.Network.TCP {
		result.NetworkEvents = append(result.NetworkEvents, Event{
			Kind:   "tcp",
			Detail: fmt.Sprintf("%s:%d", conn.Dst, conn.Dport),
		})
	}
	for _, conn := range report.Network.UDP {
		result.NetworkEvents = append(result.NetworkEvents, Event{
			Kind:   "udp",
			Detail: fmt.Sprintf("%s:%d", conn.Dst, conn.Dport),
		})
	}

	for _, proc := range report.Behavior.Processes {
		for _, call := range proc.Calls {
			switch call.Category {
			case "file", "filesystem":
				result.FileEvents = append(result.FileEvents, Event{Kind: call.Category, Detail: call.API})
			case "registry":
				result.RegistryEvents = append(result.RegistryEvents, Event{Kind: call.Category, Detail: call.API})
			}
		}
	}

	result.Score = int(report.Info.Score * 10)
	if result.Score > 100 {
		result.Score = 100
	}
	result.IsMalicious = result.Score >= maliciousScore
}
