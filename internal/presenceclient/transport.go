package presenceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"presence-service/internal/dto"
)

// Sender delivers heartbeats and leaving signals to the presence API
type Sender interface {
	SendHeartbeat(ctx context.Context, req *dto.SetPresenceRequest) (*dto.SetPresenceResponse, error)
	SendLeave(ctx context.Context, req *dto.LeaveRequest) error
}

// StatusError is a non-2xx answer from the presence API
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("presence api: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("presence api: status=%d body=%s", e.StatusCode, e.Message)
}

// IsRetryable reports whether a failed send may succeed when repeated.
// Client errors are final except timeouts and rate limiting.
func IsRetryable(err error) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return true
	}
	switch {
	case statusErr.StatusCode == http.StatusRequestTimeout,
		statusErr.StatusCode == http.StatusTooManyRequests:
		return true
	case statusErr.StatusCode >= 400 && statusErr.StatusCode < 500:
		return false
	default:
		return true
	}
}

type httpSender struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPSender creates a Sender for the presence API at baseURL (including the base path)
func NewHTTPSender(baseURL, token string, timeout time.Duration) Sender {
	return &httpSender{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *httpSender) SendHeartbeat(ctx context.Context, req *dto.SetPresenceRequest) (*dto.SetPresenceResponse, error) {
	var envelope struct {
		Data dto.SetPresenceResponse `json:"data"`
	}
	if err := c.post(ctx, "/presence", req, &envelope); err != nil {
		return nil, err
	}
	return &envelope.Data, nil
}

func (c *httpSender) SendLeave(ctx context.Context, req *dto.LeaveRequest) error {
	return c.post(ctx, "/presence/offline", req, nil)
}

func (c *httpSender) post(ctx context.Context, path string, body, out interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		statusErr := &StatusError{StatusCode: resp.StatusCode, Message: string(raw)}
		var apiErr struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Code != "" {
			statusErr.Code = apiErr.Error.Code
			statusErr.Message = apiErr.Error.Message
		}
		return statusErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
