package api

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

	"relaydesk/internal/models"
)

// Client talks to the REST side of the platform on behalf of one session.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// SendMessage posts a message to a contact and returns the stored record.
func (c *Client) SendMessage(ctx context.Context, instanceID, contactID string, msg models.OutgoingMessage) (models.Message, error) {
	var out models.Message
	err := c.do(ctx, http.MethodPost, c.path("instances", instanceID, "contacts", contactID, "messages"), msg, &out)
	return out, err
}

// MoveContact puts a contact into another kanban column.
func (c *Client) MoveContact(ctx context.Context, contactID, columnID string) (models.Contact, error) {
	var out models.Contact
	err := c.do(ctx, http.MethodPut, c.path("contacts", contactID, "column"), MoveContactRequest{ColumnID: columnID}, &out)
	return out, err
}

func (c *Client) ListMessages(ctx context.Context, instanceID, contactID string) ([]models.Message, error) {
	var out []models.Message
	err := c.do(ctx, http.MethodGet, c.path("instances", instanceID, "contacts", contactID, "messages"), nil, &out)
	return out, err
}

func (c *Client) ListContacts(ctx context.Context, instanceID string) ([]models.Contact, error) {
	var out []models.Contact
	err := c.do(ctx, http.MethodGet, c.path("instances", instanceID, "contacts"), nil, &out)
	return out, err
}

func (c *Client) ListWorkflowContacts(ctx context.Context, workflowID string) ([]models.Contact, error) {
	var out []models.Contact
	err := c.do(ctx, http.MethodGet, c.path("workflows", workflowID, "contacts"), nil, &out)
	return out, err
}

func (c *Client) ListGroups(ctx context.Context, instanceID string) ([]models.Group, error) {
	var out []models.Group
	err := c.do(ctx, http.MethodGet, c.path("instances", instanceID, "groups"), nil, &out)
	return out, err
}

func (c *Client) path(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return c.baseURL + "/" + strings.Join(escaped, "/")
}

func (c *Client) do(ctx context.Context, method, u string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return err
	}
	req.Header.Set("token", c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &Error{Status: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", models.ErrNotFound, apiErr)
	}
	return apiErr
}
