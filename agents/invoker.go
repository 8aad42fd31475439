package agents

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"
)

// ── Local ────────────────────────────────────────────────────────────────────

// LocalFunc is the signature of an in-process agent implementation.
type LocalFunc func(ctx context.Context, req InvokeRequest) (*InvokeResponse, error)

// LocalInvoker dispatches to an in-process function.
type LocalInvoker struct {
	agent string
	fn    LocalFunc
}

// NewLocalInvoker wraps fn as an invoker for the named agent.
func NewLocalInvoker(agent string, fn LocalFunc) *LocalInvoker {
	return &LocalInvoker{agent: agent, fn: fn}
}

// Invoke calls the wrapped function. Errors it returns are classified by
// the function itself; plain errors pass through unwrapped.
func (l *LocalInvoker) Invoke(ctx context.Context, req InvokeRequest) (*InvokeResponse, error) {
	return l.fn(ctx, req)
}

// ── Subprocess ───────────────────────────────────────────────────────────────

// SubprocessInvoker runs an agent as a one-shot subprocess, writing the
// request as a single JSON line on stdin and reading a single JSON line
// response from stdout. The process is killed when ctx is cancelled.
type SubprocessInvoker struct {
	agent string
	path  string
	args  []string
}

// NewSubprocessInvoker creates an invoker that executes path with args per
// invocation.
func NewSubprocessInvoker(agent, path string, args ...string) *SubprocessInvoker {
	return &SubprocessInvoker{agent: agent, path: path, args: args}
}

// Invoke starts the subprocess, exchanges one newline-delimited JSON
// message, and waits for exit.
func (s *SubprocessInvoker) Invoke(ctx context.Context, req InvokeRequest) (*InvokeResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, PermanentInvokeError(s.agent, fmt.Errorf("marshal request: %w", err))
	}
	payload = append(payload, '\n')

	cmd := exec.CommandContext(ctx, s.path, s.args...) //nolint:gosec
	cmd.Stdin = bytes.NewReader(payload)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, PermanentInvokeError(s.agent, fmt.Errorf("stdout pipe: %w", err))
	}
	if err := cmd.Start(); err != nil {
		if ctx.Err() != nil {
			return nil, TransientInvokeError(s.agent, ctx.Err())
		}
		return nil, PermanentInvokeError(s.agent, fmt.Errorf("start %s: %w", s.path, err))
	}

	line, readErr := bufio.NewReader(stdout).ReadBytes('\n')
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return nil, TransientInvokeError(s.agent, ctx.Err())
	}
	if readErr != nil && readErr != io.EOF {
		return nil, TransientInvokeError(s.agent, fmt.Errorf("read response: %w", readErr))
	}
	if waitErr != nil && len(bytes.TrimSpace(line)) == 0 {
		return nil, TransientInvokeError(s.agent, fmt.Errorf("subprocess exited: %w", waitErr))
	}

	var resp InvokeResponse
	if err := json.Unmarshal(bytes.TrimSpace(line), &resp); err != nil {
		return nil, PermanentInvokeError(s.agent, fmt.Errorf("decode response: %w", err))
	}
	return &resp, nil
}

// ── HTTP ─────────────────────────────────────────────────────────────────────

// HTTPInvoker posts JSON requests to a remote agent endpoint.
type HTTPInvoker struct {
	agent      string
	url        string
	healthURL  string
	httpClient *http.Client
}

// NewHTTPInvoker creates an invoker posting to url. healthURL may be empty,
// in which case health probes report OK without a network round trip.
func NewHTTPInvoker(agent, url, healthURL string) *HTTPInvoker {
	return &HTTPInvoker{
		agent:      agent,
		url:        strings.TrimRight(url, "/"),
		healthURL:  healthURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Invoke posts the request and decodes the uniform response. 5xx responses
// are transient, 4xx permanent.
func (h *HTTPInvoker) Invoke(ctx context.Context, req InvokeRequest) (*InvokeResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, PermanentInvokeError(h.agent, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, PermanentInvokeError(h.agent, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return nil, TransientInvokeError(h.agent, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, TransientInvokeError(h.agent, fmt.Errorf("read response: %w", err))
	}

	if httpResp.StatusCode >= 500 {
		return nil, TransientInvokeError(h.agent,
			fmt.Errorf("agent endpoint returned %d: %s", httpResp.StatusCode, truncate(respBody, 200)))
	}
	if httpResp.StatusCode >= 400 {
		return nil, PermanentInvokeError(h.agent,
			fmt.Errorf("agent endpoint returned %d: %s", httpResp.StatusCode, truncate(respBody, 200)))
	}

	var resp InvokeResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, PermanentInvokeError(h.agent, fmt.Errorf("decode response: %w", err))
	}
	return &resp, nil
}

// Healthy implements Healther by GETting the configured health URL.
func (h *HTTPInvoker) Healthy(ctx context.Context) error {
	if h.healthURL == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.healthURL, nil)
	if err != nil {
		return err
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
