// Package zendesk posts comments and status changes to Zendesk tickets.
package zendesk

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

const defaultTimeout = 10 * time.Second

// Client calls the Zendesk tickets API with API token authentication.
type Client struct {
	baseURL string
	email   string
	apiKey  string
	http    *http.Client
}

// NewClient returns a client for host, which may be a bare host name such as
// "example.zendesk.com" or a full base URL.
func NewClient(host, email, apiKey string) *Client {
	base := strings.TrimRight(host, "/")
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return &Client{
		baseURL: base,
		email:   email,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

type ticketUpdate struct {
	Ticket ticketBody `json:"ticket"`
}

type ticketBody struct {
	Comment comment `json:"comment"`
	Status  string  `json:"status,omitempty"`
}

type comment struct {
	Body string `json:"body"`
}

// UpdateTicket adds message as a comment on the ticket and sets its status.
func (c *Client) UpdateTicket(ctx context.Context, ticketID, message, status string) error {
	body, err := json.Marshal(ticketUpdate{Ticket: ticketBody{Comment: comment{Body: message}, Status: status}})
	if err != nil {
		return fmt.Errorf("marshal ticket update: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v2/tickets/%s.json", c.baseURL, url.PathEscape(ticketID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.email+"/token", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("update ticket %s: %w", ticketID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("update ticket %s failed with status %s: %s", ticketID, resp.Status, strings.TrimSpace(string(snippet)))
	}
	return nil
}
