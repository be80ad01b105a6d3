package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Client is the production Store implementation: a JSON/REST client for the
// backend's relational surface. Rows failing validation are dropped with a
// warning so one malformed row cannot block a whole sync window.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a remote store client for the given backend endpoint.
func NewClient(baseURL, apiKey string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%s %s: %w", method, path, ErrConflict)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, snippet)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

func (c *Client) ConversationsSince(ctx context.Context, orgID string, updatedAfter int64, limit int) ([]ConversationRow, error) {
	q := url.Values{}
	q.Set("org_id", orgID)
	q.Set("updated_after", strconv.FormatInt(updatedAfter, 10))
	q.Set("order", "updated_at.desc")
	q.Set("limit", strconv.Itoa(limit))

	var rows []ConversationRow
	if err := c.do(ctx, http.MethodGet, "/conversations", q, nil, &rows); err != nil {
		return nil, err
	}
	valid := rows[:0]
	for i := range rows {
		if err := rows[i].Validate(); err != nil {
			c.warn("dropping invalid conversation row", err)
			continue
		}
		valid = append(valid, rows[i])
	}
	return valid, nil
}

func (c *Client) MessagesSince(ctx context.Context, orgID string, updatedAfter int64, limit int) ([]MessageRow, error) {
	q := url.Values{}
	q.Set("org_id", orgID)
	q.Set("updated_after", strconv.FormatInt(updatedAfter, 10))
	q.Set("order", "updated_at.asc")
	q.Set("limit", strconv.Itoa(limit))
	return c.fetchMessages(ctx, q)
}

func (c *Client) RecentMessages(ctx context.Context, orgID, conversationID string, limit int) ([]MessageRow, error) {
	q := url.Values{}
	q.Set("org_id", orgID)
	q.Set("conversation_id", conversationID)
	q.Set("order", "created_at.desc")
	q.Set("limit", strconv.Itoa(limit))
	return c.fetchMessages(ctx, q)
}

func (c *Client) fetchMessages(ctx context.Context, q url.Values) ([]MessageRow, error) {
	var rows []MessageRow
	if err := c.do(ctx, http.MethodGet, "/messages", q, nil, &rows); err != nil {
		return nil, err
	}
	valid := rows[:0]
	for i := range rows {
		if err := rows[i].Validate(); err != nil {
			c.warn("dropping invalid message row", err)
			continue
		}
		valid = append(valid, rows[i])
	}
	return valid, nil
}

func (c *Client) Profiles(ctx context.Context, orgID string) ([]Profile, error) {
	q := url.Values{}
	q.Set("org_id", orgID)

	var rows []Profile
	if err := c.do(ctx, http.MethodGet, "/profiles", q, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) ReadStatuses(ctx context.Context, orgID, userID string) ([]ReadStatusRow, error) {
	q := url.Values{}
	q.Set("org_id", orgID)
	q.Set("user_id", userID)

	var rows []ReadStatusRow
	if err := c.do(ctx, http.MethodGet, "/read_status", q, nil, &rows); err != nil {
		return nil, err
	}
	valid := rows[:0]
	for i := range rows {
		if err := rows[i].Validate(); err != nil {
			c.warn("dropping invalid read status row", err)
			continue
		}
		valid = append(valid, rows[i])
	}
	return valid, nil
}

func (c *Client) FindDirectConversation(ctx context.Context, orgID, counterpartyID string) (*ConversationRow, error) {
	q := url.Values{}
	q.Set("org_id", orgID)
	q.Set("counterparty_id", counterpartyID)
	q.Set("type", "direct")
	q.Set("limit", "1")

	var rows []ConversationRow
	if err := c.do(ctx, http.MethodGet, "/conversations", q, nil, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if err := rows[0].Validate(); err != nil {
		return nil, fmt.Errorf("find direct conversation: %w", err)
	}
	return &rows[0], nil
}

func (c *Client) InsertConversation(ctx context.Context, ins ConversationInsert) (*ConversationRow, error) {
	var row ConversationRow
	if err := c.do(ctx, http.MethodPost, "/conversations", nil, ins, &row); err != nil {
		return nil, err
	}
	if err := row.Validate(); err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return &row, nil
}

func (c *Client) InsertMessage(ctx context.Context, ins MessageInsert) (*MessageRow, error) {
	var row MessageRow
	if err := c.do(ctx, http.MethodPost, "/messages", nil, ins, &row); err != nil {
		return nil, err
	}
	if err := row.Validate(); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &row, nil
}

func (c *Client) UpdateConversationMeta(ctx context.Context, conversationID string, lastMessageAt int64, preview string) error {
	body := map[string]any{
		"last_message_at":      lastMessageAt,
		"last_message_preview": preview,
	}
	return c.do(ctx, http.MethodPatch, "/conversations/"+url.PathEscape(conversationID), nil, body, nil)
}

func (c *Client) UpsertReadStatus(ctx context.Context, row ReadStatusRow) error {
	return c.do(ctx, http.MethodPut, "/read_status", nil, row, nil)
}

func (c *Client) warn(msg string, err error) {
	if c.logger != nil {
		c.logger.Warn(msg, zap.Error(err))
	}
}

var _ Store = (*Client)(nil)
