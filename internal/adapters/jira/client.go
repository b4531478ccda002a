package jira

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/apeks827/JiraTasksUpdate/internal/pipeline"
)

// APIError is a non-2xx response from the Jira API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// Temporary reports whether the request is worth retrying.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client is a Jira API client
type Client struct {
	baseURL    string
	username   string
	apiToken   string
	platform   string
	httpClient *http.Client
}

// NewClient creates a new Jira client. With an empty username the token is
// sent as a Bearer personal access token (Server/Data Center); otherwise
// Basic auth with username:token is used.
func NewClient(baseURL, username, apiToken, platform string) *Client {
	baseURL = strings.TrimSuffix(baseURL, "/")

	return &Client{
		baseURL:  baseURL,
		username: username,
		apiToken: apiToken,
		platform: platform,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetTimeout overrides the HTTP timeout. Zero keeps the current value.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.httpClient.Timeout = d
	}
}

// BaseURL returns the Jira base URL without trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// apiPath returns the correct API path based on platform
func (c *Client) apiPath() string {
	if c.platform == PlatformCloud {
		return "/rest/api/3"
	}
	return "/rest/api/2"
}

func (c *Client) authorization() string {
	if c.username == "" {
		return "Bearer " + c.apiToken
	}
	auth := base64.StdEncoding.EncodeToString([]byte(c.username + ":" + c.apiToken))
	return "Basic " + auth
}

// doRequest performs an HTTP request to the Jira API. Responses that will
// not succeed on retry (4xx other than 429, undecodable bodies) are wrapped
// with pipeline.Permanent.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return pipeline.Permanent(fmt.Errorf("failed to marshal request body: %w", err))
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+c.apiPath()+path, bodyReader)
	if err != nil {
		return pipeline.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Authorization", c.authorization())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 512)}
		if apiErr.Temporary() {
			return apiErr
		}
		return pipeline.Permanent(apiErr)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return pipeline.Permanent(fmt.Errorf("failed to parse response: %w", err))
		}
	}

	return nil
}

// SearchIssues searches for issues using JQL
func (c *Client) SearchIssues(ctx context.Context, jql string, maxResults int) ([]*Issue, error) {
	if maxResults <= 0 {
		maxResults = 50
	}

	q := url.Values{}
	q.Set("jql", jql)
	q.Set("maxResults", strconv.Itoa(maxResults))
	q.Set("fields", strings.Join(searchFields, ","))

	var resp SearchResponse
	if err := c.doRequest(ctx, http.MethodGet, "/search?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Issues, nil
}

// GetTransitions fetches available transitions for an issue
func (c *Client) GetTransitions(ctx context.Context, issueKey string) ([]Transition, error) {
	path := fmt.Sprintf("/issue/%s/transitions", url.PathEscape(issueKey))
	var resp TransitionsResponse
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Transitions, nil
}

// TransitionIssue performs a workflow transition on an issue
func (c *Client) TransitionIssue(ctx context.Context, issueKey, transitionID string) error {
	path := fmt.Sprintf("/issue/%s/transitions", url.PathEscape(issueKey))
	reqBody := map[string]interface{}{
		"transition": map[string]string{
			"id": transitionID,
		},
	}
	return c.doRequest(ctx, http.MethodPost, path, reqBody, nil)
}

// AssignIssue sets the assignee. Cloud identifies users by account id,
// Server by username.
func (c *Client) AssignIssue(ctx context.Context, issueKey, user string) error {
	path := fmt.Sprintf("/issue/%s/assignee", url.PathEscape(issueKey))
	reqBody := map[string]string{"name": user}
	if c.platform == PlatformCloud {
		reqBody = map[string]string{"accountId": user}
	}
	return c.doRequest(ctx, http.MethodPut, path, reqBody, nil)
}

// Ping checks credentials against the myself endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.doRequest(ctx, http.MethodGet, "/myself", nil, nil)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
