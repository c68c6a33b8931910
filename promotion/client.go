package promotion

// client functions for serving node HTTP API
//
// Copyright (c) 2023 - Valentin Kuznetsov <vkuznet@gmail.com>
//

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// AdminTokenHeader is HTTP header carrying admin credential
const AdminTokenHeader = "X-Admin-Token"

// Readiness represents serving node /ready response
type Readiness struct {
	Ready   bool   `json:"ready"`
	Version string `json:"model_version"`
}

// ReloadResponse represents serving node /admin/reload response
type ReloadResponse struct {
	Status  string `json:"status"`
	Version string `json:"model_version"`
}

// Node represents serving node as seen by orchestrators
type Node interface {
	Reload(ctx context.Context) (ReloadResponse, error)
	Ready(ctx context.Context) (Readiness, error)
}

// Client implements Node over serving node HTTP API
type Client struct {
	API   string       // serving node base URL, e.g. http://localhost:8000
	Token string       // admin token
	HTTP  *http.Client // HTTP client to use
}

// NewClient creates serving node client
func NewClient(api, token string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		API:   strings.TrimSuffix(api, "/"),
		Token: token,
		HTTP:  &http.Client{Timeout: timeout},
	}
}

// Reload triggers model reload on serving node
func (c *Client) Reload(ctx context.Context) (ReloadResponse, error) {
	var rec ReloadResponse
	headers := map[string]string{AdminTokenHeader: c.Token}
	err := c.call(ctx, http.MethodPost, "/admin/reload", headers, &rec)
	return rec, err
}

// Ready fetches serving node readiness
func (c *Client) Ready(ctx context.Context) (Readiness, error) {
	var rec Readiness
	err := c.call(ctx, http.MethodGet, "/ready", nil, &rec)
	return rec, err
}

// helper function to make HTTP call and decode JSON response
func (c *Client) call(ctx context.Context, method, path string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.API+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	rsp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer rsp.Body.Close()
	data, err := io.ReadAll(rsp.Body)
	if err != nil {
		return err
	}
	if rsp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d %s", rsp.StatusCode, strings.TrimSpace(string(data)))
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
