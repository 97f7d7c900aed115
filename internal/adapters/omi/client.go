// Package omi talks to the Omi integrations API: push notifications and
// timeline memories. Requests authenticate with the app secret as a bearer
// token.
package omi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/ewilliams-labs/mend/internal/core/domain"
	"github.com/ewilliams-labs/mend/internal/core/ports"
)

const (
	defaultBaseURL = "https://api.omi.me"
	requestTimeout = 10 * time.Second
)

// ErrMissingCredentials is returned when the app id or secret is empty.
var ErrMissingCredentials = errors.New("omi: missing app id or secret")

type Client struct {
	baseURL    string
	appID      string
	httpClient *http.Client
}

var (
	_ ports.Notifier     = (*Client)(nil)
	_ ports.MemoryWriter = (*Client)(nil)
)

type memoryRequest struct {
	UID        string         `json:"uid"`
	Title      string         `json:"title"`
	Content    string         `json:"content"`
	Structured map[string]any `json:"structured,omitempty"`
}

func NewClient(baseURL, appID, appSecret string) (*Client, error) {
	if appID == "" || appSecret == "" {
		return nil, ErrMissingCredentials
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: appSecret, TokenType: "Bearer"})
	httpClient := oauth2.NewClient(context.Background(), src)
	httpClient.Timeout = requestTimeout

	return &Client{
		baseURL:    baseURL,
		appID:      appID,
		httpClient: httpClient,
	}, nil
}

// SendNotification pushes message to the user's device. Only 200 counts as
// delivered.
func (c *Client) SendNotification(ctx context.Context, uid, message string) error {
	q := url.Values{}
	q.Set("uid", uid)
	q.Set("message", message)
	endpoint := fmt.Sprintf("%s/v2/integrations/%s/notification?%s", c.baseURL, url.PathEscape(c.appID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("omi: build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("omi: send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError("send notification", resp)
	}
	return nil
}

// CreateMemory writes an entry to the user's timeline.
func (c *Client) CreateMemory(ctx context.Context, uid string, memory domain.Memory) error {
	body, err := json.Marshal(memoryRequest{
		UID:        uid,
		Title:      memory.Title,
		Content:    memory.Content,
		Structured: memory.Structured,
	})
	if err != nil {
		return fmt.Errorf("omi: marshal memory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/memories", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("omi: build memory request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("omi: create memory: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return statusError("create memory", resp)
	}
	return nil
}

func statusError(action string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("omi: %s: unexpected status %d: %s", action, resp.StatusCode, strings.TrimSpace(string(snippet)))
}
