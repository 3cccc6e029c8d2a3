package offlinequeue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Submitter delivers one queued entry to the backend.
type Submitter interface {
	Submit(ctx context.Context, entry *Entry) (*SubmitResult, error)
}

// HTTPSubmitter posts queued orders to the back office API. Failures come
// back as *SubmitError so the scheduler can classify them; transport-level
// errors (connection refused, timeout) carry StatusCode zero.
type HTTPSubmitter struct {
	baseURL string
	http    *http.Client
}

func NewHTTPSubmitter(baseURL string, timeout time.Duration) *HTTPSubmitter {
	if baseURL == "" {
		baseURL = strings.TrimSpace(os.Getenv("BACKOFFICE_API_BASE_URL"))
	}
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSubmitter{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type submitResponse struct {
	OrderId   int  `json:"order_id"`
	Duplicate bool `json:"duplicate"`
}

func (c *HTTPSubmitter) Submit(ctx context.Context, entry *Entry) (*SubmitResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/orders", bytes.NewReader(entry.Payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Idempotency-Key", entry.IdempotencyKey)
	req.Header.Set("X-Business-Id", entry.BusinessId)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &SubmitError{StatusCode: 0, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &SubmitError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	var parsed submitResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode submit response: %w", err)
	}
	return &SubmitResult{OrderId: parsed.OrderId, Duplicate: parsed.Duplicate}, nil
}
