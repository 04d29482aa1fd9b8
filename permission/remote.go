package permission

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrRemoteUnauthorized is returned when the check function rejects the
// bearer token.
var ErrRemoteUnauthorized = errors.New("permission check unauthorized")

// CheckRequest is the body of the permission-check function.
type CheckRequest struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

// CheckResponse is its reply.
type CheckResponse struct {
	HasPermission bool      `json:"hasPermission"`
	Roles         []string  `json:"roles,omitempty"`
	Timestamp     time.Time `json:"timestamp,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// RemoteChecker calls the permission-check function over HTTP.
type RemoteChecker struct {
	URL    string
	Client *http.Client
}

func NewRemoteChecker(url string) *RemoteChecker {
	return &RemoteChecker{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Check asks whether the bearer of accessToken may perform action on
// resource.
func (c *RemoteChecker) Check(ctx context.Context, accessToken, resource, action string) (bool, error) {
	if c == nil || c.URL == "" {
		return false, errors.New("permission: remote checker not configured")
	}
	if accessToken == "" {
		return false, ErrRemoteUnauthorized
	}

	body, err := json.Marshal(CheckRequest{Resource: resource, Action: action})
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return false, ErrRemoteUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return false, fmt.Errorf("permission check returned %d", resp.StatusCode)
	}

	var out CheckResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return false, fmt.Errorf("decode permission check: %w", err)
	}
	return out.HasPermission, nil
}
