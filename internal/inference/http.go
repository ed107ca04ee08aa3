package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dkoval/atelier/internal/task"
)

// HTTPEngine forwards a task to a remote stylization endpoint. Assets travel
// base64-inlined in a single JSON request; results come back the same way
// and are written into the task's results directory.
type HTTPEngine struct {
	url    string
	client *http.Client
}

func NewHTTPEngine(url string, timeout time.Duration) *HTTPEngine {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &HTTPEngine{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type httpAsset struct {
	Name       string `json:"name"`
	DataBase64 string `json:"data_base64"`
}

type httpRunRequest struct {
	JobType string      `json:"job_type"`
	Assets  []httpAsset `json:"assets"`
}

type httpRunResponse struct {
	Results []httpAsset `json:"results"`
	Error   string      `json:"error,omitempty"`
	Kind    string      `json:"kind,omitempty"`
}

func (e *HTTPEngine) Run(ctx context.Context, t *task.Task) ([]string, error) {
	req, err := buildRunRequest(t)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := e.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 256<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var parsed httpRunResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("stylize endpoint status %d: unreadable body", res.StatusCode)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 || parsed.Error != "" {
		return nil, classifyHTTPFailure(res.StatusCode, parsed)
	}
	if len(parsed.Results) == 0 {
		return nil, fmt.Errorf("stylize endpoint returned no results")
	}

	for _, asset := range parsed.Results {
		data, err := base64.StdEncoding.DecodeString(asset.DataBase64)
		if err != nil {
			return nil, fmt.Errorf("decode result %q: %w", asset.Name, err)
		}
		name := filepath.Base(asset.Name)
		if name == "." || name == string(filepath.Separator) {
			return nil, fmt.Errorf("invalid result name %q", asset.Name)
		}
		if err := os.WriteFile(filepath.Join(t.ResultsDir(), name), data, 0o644); err != nil {
			return nil, err
		}
	}
	return t.Results()
}

func buildRunRequest(t *task.Task) (httpRunRequest, error) {
	entries, err := os.ReadDir(t.InputDir())
	if err != nil {
		return httpRunRequest{}, err
	}
	req := httpRunRequest{JobType: t.JobType.Shortcut()}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(t.InputDir(), entry.Name()))
		if err != nil {
			return httpRunRequest{}, err
		}
		req.Assets = append(req.Assets, httpAsset{
			Name:       entry.Name(),
			DataBase64: base64.StdEncoding.EncodeToString(data),
		})
	}
	return req, nil
}

func classifyHTTPFailure(status int, parsed httpRunResponse) error {
	switch parsed.Kind {
	case string(KindTooBig):
		return fmt.Errorf("%w: %s", ErrImageTooBig, parsed.Error)
	case string(KindTooSmall):
		return fmt.Errorf("%w: %s", ErrImageTooSmall, parsed.Error)
	}
	if parsed.Error != "" {
		return fmt.Errorf("stylize endpoint status %d: %s", status, parsed.Error)
	}
	return fmt.Errorf("stylize endpoint status %d", status)
}
