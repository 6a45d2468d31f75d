package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/dairyledger/internal/model"
)

// IdempotencyHeader carries the idempotency key on HTTP submissions.
const IdempotencyHeader = "Idempotency-Key"

// submitResponse is the body returned by the remote API.
type submitResponse struct {
	Success  bool   `json:"success"`
	RemoteID string `json:"remote_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// HTTP submits records to a REST endpoint: POST {base}/api/{entity_type}.
type HTTP struct {
	base   string
	client *http.Client
}

// HTTPOption configures an HTTP remote.
type HTTPOption func(*HTTP)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) {
		h.client = c
	}
}

// NewHTTP creates a remote rooted at baseURL.
func NewHTTP(baseURL string, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Submit posts payload with the key in the Idempotency-Key header.
//
// 2xx with success=true is an acknowledgement. 408, 429 and 5xx are
// retriable; any other status is a rejection.
func (h *HTTP) Submit(ctx context.Context, entityType model.EntityType, key string, payload []byte) (Receipt, error) {
	const op = "remote.http.submit"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.base+"/api/"+string(entityType), bytes.NewReader(payload))
	if err != nil {
		return Receipt{}, model.NewRejectionError(op, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyHeader, key)

	resp, err := h.client.Do(req)
	if err != nil {
		return Receipt{}, Classify(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Receipt{}, Classify(op, err)
	}

	var out submitResponse
	decodeErr := json.Unmarshal(body, &out)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if decodeErr != nil {
			return Receipt{}, model.NewNetworkError(op, fmt.Errorf("decode response: %w", decodeErr))
		}
		if !out.Success {
			return Receipt{}, model.NewRejectionError(op, responseMessage(out, resp.Status))
		}
		return Receipt{RemoteID: out.RemoteID}, nil
	case retriableStatus(resp.StatusCode):
		return Receipt{}, model.NewNetworkError(op, fmt.Errorf("%s: %s", resp.Status, responseMessage(out, "")))
	default:
		return Receipt{}, model.NewRejectionError(op, responseMessage(out, resp.Status))
	}
}

// Ping issues HEAD {base}/health.
func (h *HTTP) Ping(ctx context.Context) error {
	const op = "remote.http.ping"
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, h.base+"/health", nil)
	if err != nil {
		return model.NewNetworkError(op, err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return Classify(op, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return model.NewNetworkError(op, fmt.Errorf("health check: %s", resp.Status))
	}
	return nil
}

func retriableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}

func responseMessage(r submitResponse, fallback string) string {
	if r.Error != "" {
		return r.Error
	}
	return fallback
}
