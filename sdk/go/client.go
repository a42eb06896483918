// Package issuelabsdk is a minimal Go client for the issuelab HTTP API.
package issuelabsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to an issuelab server.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	ActorID     string // legacy X-Actor-Id fallback
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Issue is the API issue model (partial).
type Issue struct {
	Key        string `json:"key"`
	ProjectKey string `json:"project_key"`
	Type       string `json:"type"`
	Summary    string `json:"summary"`
	StatusID   string `json:"status_id"`
	Reporter   string `json:"reporter"`
	Assignee   string `json:"assignee,omitempty"`
	Created    string `json:"created"`
	Updated    string `json:"updated"`
}

// SearchResult is the paginated search envelope.
type SearchResult struct {
	Issues     []Issue `json:"issues"`
	Total      int     `json:"total"`
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
}

// Delivery is one record of the delivery ledger.
type Delivery struct {
	ID             int64  `json:"id"`
	WebhookID      int64  `json:"webhook_id"`
	EventID        string `json:"event_id"`
	EventType      string `json:"event_type"`
	Status         string `json:"status"`
	Attempts       int    `json:"attempts"`
	LastStatusCode int    `json:"last_status_code,omitempty"`
}

// Event is one audit log entry.
type Event struct {
	ID      string          `json:"id"`
	Seq     int64           `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	TS      string          `json:"ts"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateIssue creates an issue.
func (c *Client) CreateIssue(ctx context.Context, project, issueType, summary string) (Issue, error) {
	body := map[string]any{
		"project":   project,
		"issuetype": issueType,
		"summary":   summary,
	}
	var resp Issue
	err := c.do(ctx, http.MethodPost, "rest/api/2/issue", body, &resp)
	return resp, err
}

// GetIssue fetches an issue by key.
func (c *Client) GetIssue(ctx context.Context, key string) (Issue, error) {
	var resp Issue
	err := c.do(ctx, http.MethodGet, "rest/api/2/issue/"+url.PathEscape(key), nil, &resp)
	return resp, err
}

// ApplyTransition moves an issue along a workflow transition.
func (c *Client) ApplyTransition(ctx context.Context, key, transitionID string) (Issue, error) {
	body := map[string]any{"transition": map[string]string{"id": transitionID}}
	var resp Issue
	err := c.do(ctx, http.MethodPost, "rest/api/2/issue/"+url.PathEscape(key)+"/transitions", body, &resp)
	return resp, err
}

// AddComment appends a comment to an issue.
func (c *Client) AddComment(ctx context.Context, key string, commentBody any) error {
	return c.do(ctx, http.MethodPost, "rest/api/2/issue/"+url.PathEscape(key)+"/comment", map[string]any{"body": commentBody}, nil)
}

// Search evaluates a JQL filter.
func (c *Client) Search(ctx context.Context, jql string, startAt, maxResults int) (SearchResult, error) {
	q := url.Values{}
	q.Set("jql", jql)
	if startAt > 0 {
		q.Set("startAt", fmt.Sprintf("%d", startAt))
	}
	if maxResults > 0 {
		q.Set("maxResults", fmt.Sprintf("%d", maxResults))
	}
	var resp SearchResult
	err := c.do(ctx, http.MethodGet, "rest/api/2/search?"+q.Encode(), nil, &resp)
	return resp, err
}

// Events reads the audit log after a sequence number.
func (c *Client) Events(ctx context.Context, after int64, limit int) ([]Event, error) {
	var resp struct {
		Events []Event `json:"events"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("rest/events?after=%d&limit=%d", after, limit), nil, &resp)
	return resp.Events, err
}

// Deliveries lists delivery records, newest first.
func (c *Client) Deliveries(ctx context.Context, webhookID int64, limit int) ([]Delivery, error) {
	var resp struct {
		Deliveries []Delivery `json:"deliveries"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("rest/deliveries?webhook_id=%d&limit=%d", webhookID, limit), nil, &resp)
	return resp.Deliveries, err
}

// ReplayDelivery schedules a fresh attempt for a recorded delivery.
func (c *Client) ReplayDelivery(ctx context.Context, id int64) (Delivery, error) {
	var resp Delivery
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("rest/deliveries/%d/replay", id), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
