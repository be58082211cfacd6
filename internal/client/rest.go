package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tripchat/internal/events"
	"tripchat/internal/models"
)

// RESTClient talks to the snapshot and write endpoints with a bearer token.
type RESTClient struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// NewRESTClient returns a client for the API rooted at baseURL.
func NewRESTClient(baseURL, token string) *RESTClient {
	return &RESTClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Conversations fetches the conversation list, most recent first.
func (c *RESTClient) Conversations(ctx context.Context) ([]events.Conversation, error) {
	var out []events.Conversation
	err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &out)
	return out, err
}

// Messages fetches the newest page of a conversation, oldest first.
func (c *RESTClient) Messages(ctx context.Context, conversationID uint, limit int) ([]events.Message, error) {
	path := fmt.Sprintf("/api/conversations/%d/messages", conversationID)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []events.Message
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Notifications fetches the newest notifications.
func (c *RESTClient) Notifications(ctx context.Context, limit int) ([]events.Notification, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/notifications"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []events.Notification
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// SendMessage posts a message. A replayed client token returns the stored message.
func (c *RESTClient) SendMessage(ctx context.Context, conversationID uint, req SendRequest) (events.Message, error) {
	var out events.Message
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/conversations/%d/messages", conversationID), req, &out)
	return out, err
}

// MarkRead marks the conversation read for the caller.
func (c *RESTClient) MarkRead(ctx context.Context, conversationID uint) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/conversations/%d/read", conversationID), nil, nil)
}

// IssueTicket requests a single-use gateway ticket.
func (c *RESTClient) IssueTicket(ctx context.Context) (string, error) {
	var out struct {
		Ticket string `json:"ticket"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/ws/ticket", nil, &out); err != nil {
		return "", err
	}
	if out.Ticket == "" {
		return "", errors.New("empty ws ticket")
	}
	return out.Ticket, nil
}

func (c *RESTClient) do(ctx context.Context, method, path string, body, dest any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return models.NewConnectionLostError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return responseError(resp)
	}
	if dest == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return models.NewConnectionLostError(fmt.Errorf("decode %s %s: %w", method, path, err))
	}
	return nil
}

// responseError turns an error response into an AppError. Server-side and
// gateway failures are reported as ConnectionLost so callers retry them.
func responseError(resp *http.Response) error {
	var body models.ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	msg := body.Error
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	if resp.StatusCode >= 500 {
		return models.NewConnectionLostError(fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}
	code := body.Code
	if code == "" {
		switch resp.StatusCode {
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			code = models.CodeValidation
		case http.StatusUnauthorized:
			code = models.CodeUnauthorized
		case http.StatusForbidden:
			code = models.CodeForbidden
		case http.StatusNotFound:
			code = models.CodeNotFound
		case http.StatusTooManyRequests:
			code = models.CodeRateLimited
		default:
			code = models.CodeInternal
		}
	}
	return &models.AppError{Code: code, Message: msg}
}
