package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPClient invokes an executor service over HTTP, modeled on the teacher's
// clients.HTTPClient context-aware request wrapper: one POST per invocation,
// one best-effort POST per cancellation.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a Client that calls baseURL + "/invoke" and
// baseURL + "/cancel". A nil http.Client gets a 30s-timeout default.
func NewHTTPClient(baseURL string, client *http.Client) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{baseURL: baseURL, client: client}
}

type invokeRequest struct {
	TaskID         string         `json:"task_id"`
	TaskVersion    string         `json:"task_version"`
	Input          map[string]any `json:"input"`
	TokenID        string         `json:"token_id"`
	RunID          string         `json:"run_id"`
	DeadlineMS     int64          `json:"deadline_ms,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

type invokeResponse struct {
	Success bool           `json:"success"`
	Output  map[string]any `json:"output,omitempty"`
	Error   *Error         `json:"error,omitempty"`
}

func (c *HTTPClient) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	body, err := json.Marshal(invokeRequest{
		TaskID:         inv.TaskID,
		TaskVersion:    inv.TaskVersion,
		Input:          inv.Input,
		TokenID:        inv.TokenID,
		RunID:          inv.RunID,
		DeadlineMS:     inv.DeadlineMS,
		IdempotencyKey: inv.IdempotencyKey,
	})
	if err != nil {
		return Result{}, fmt.Errorf("executor: marshal invocation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/invoke", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("executor: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// Transport errors are retryable by default (spec §4.5).
		return Result{}, &Error{Message: err.Error(), Code: "transport_error", Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, &Error{
			Message:   fmt.Sprintf("executor returned status %d", resp.StatusCode),
			Code:      "transport_error",
			Retryable: true,
		}
	}

	var out invokeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("executor: decode response: %w", err)
	}
	if !out.Success {
		if out.Error == nil {
			out.Error = &Error{Message: "executor reported failure with no error detail", Code: "unknown"}
		}
		return Result{Err: out.Error}, nil
	}
	return Result{Output: out.Output}, nil
}

func (c *HTTPClient) Cancel(ctx context.Context, tokenID string) {
	body, err := json.Marshal(map[string]string{"token_id": tokenID})
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/cancel", bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return // cancellation is best-effort (spec §4.5)
	}
	resp.Body.Close()
}
