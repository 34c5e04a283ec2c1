// internal/client/client.go
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/MereWhiplash/gitmem/internal/api"
	"github.com/MereWhiplash/gitmem/internal/gitinfo"
	"github.com/MereWhiplash/gitmem/internal/types"
)

// Client is an HTTP client for the team API
type Client struct {
	baseURL string
	gitInfo *gitinfo.Info
	http    *http.Client
}

// New creates a new API client
func New(baseURL string, gitInfo *gitinfo.Info) *Client {
	return &Client{
		baseURL: baseURL,
		gitInfo: gitInfo,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")

	// Add git context headers
	if c.gitInfo != nil {
		if c.gitInfo.AuthorName != "" {
			req.Header.Set("X-Mem-Author-Name", c.gitInfo.AuthorName)
		}
		if c.gitInfo.AuthorEmail != "" {
			req.Header.Set("X-Mem-Author-Email", c.gitInfo.AuthorEmail)
		}
		if c.gitInfo.Repo != "" {
			req.Header.Set("X-Mem-Repo", c.gitInfo.Repo)
		}
	}

	return c.http.Do(req)
}

func decodeError(resp *http.Response) error {
	var errResp api.ErrorResponse
	json.NewDecoder(resp.Body).Decode(&errResp)
	if errResp.Error == "" {
		return fmt.Errorf("API error: status %d", resp.StatusCode)
	}
	if errResp.RecoveryAction != "" {
		return fmt.Errorf("API error: %s (%s)", errResp.Error, errResp.RecoveryAction)
	}
	return fmt.Errorf("API error: %s", errResp.Error)
}

// Search finds memories by query
func (c *Client) Search(ctx context.Context, query string, limit int, memType, spec string, tags []string) ([]types.MemoryResult, error) {
	req := api.SearchRequest{
		Query: query,
		Limit: limit,
		Type:  memType,
		Spec:  spec,
		Tags:  tags,
	}

	resp, err := c.doRequest(ctx, "POST", "/v1/memories/search", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var result api.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return result.Results, nil
}

// List returns recent memories
func (c *Client) List(ctx context.Context, limit int, memType, spec, status string) ([]types.Memory, error) {
	path := fmt.Sprintf("/v1/memories?limit=%d", limit)
	if memType != "" {
		path += "&type=" + url.QueryEscape(memType)
	}
	if spec != "" {
		path += "&spec=" + url.QueryEscape(spec)
	}
	if status != "" {
		path += "&status=" + url.QueryEscape(status)
	}

	resp, err := c.doRequest(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var result api.ListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return result.Memories, nil
}

// Get fetches a single memory by id
func (c *Client) Get(ctx context.Context, id string) (*types.Memory, error) {
	resp, err := c.doRequest(ctx, "GET", "/v1/memories/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, types.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var result api.GetResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result.Memory, nil
}

// UpdateStatus transitions a memory's lifecycle status
func (c *Client) UpdateStatus(ctx context.Context, id, status string) error {
	req := api.StatusRequest{Status: status}

	path := "/v1/memories/" + url.PathEscape(id) + "/status"
	resp, err := c.doRequest(ctx, "PUT", path, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	return nil
}

// Stats returns index statistics
func (c *Client) Stats(ctx context.Context) (*types.Stats, error) {
	resp, err := c.doRequest(ctx, "GET", "/v1/stats", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var result api.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result.Stats, nil
}
