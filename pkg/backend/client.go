package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/duetchat/duet/pkg/chat"
	"github.com/google/uuid"
)

// TokenProvider supplies the bearer token for backend calls. An empty token
// with a nil error means "unauthenticated": callers must not start a stream.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider returning a fixed token.
type StaticToken string

func (t StaticToken) AccessToken(ctx context.Context) (string, error) {
	return string(t), nil
}

// Client talks to the chat backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenProvider
}

// NewClient creates a backend client. The timeout applies to plain REST
// calls; streaming requests manage their own lifetime via context.
func NewClient(baseURL string, tokens TokenProvider, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		tokens: tokens,
	}
}

// HistoryMessage is one prior turn echoed back to the server on a send.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatStreamRequest is the body of a streaming send.
type ChatStreamRequest struct {
	Message            string           `json:"message"`
	SessionID          *uuid.UUID       `json:"session_id,omitempty"`
	ChatHistory        []HistoryMessage `json:"chat_history,omitempty"`
	PreviousResponseID string           `json:"previous_response_id,omitempty"`
}

// PartnerStreamRequest is the body of a partner-forward send.
type PartnerStreamRequest struct {
	Message   string    `json:"message"`
	SessionID uuid.UUID `json:"session_id"`
}

// SessionDTO is the wire shape of a chat session.
type SessionDTO struct {
	ID    uuid.UUID `json:"id"`
	Title string    `json:"title,omitempty"`
}

// CreateSession pre-creates an empty session so a send has a session id
// before streaming begins.
func (c *Client) CreateSession(ctx context.Context, accessToken string) (SessionDTO, error) {
	body, err := json.Marshal(struct {
		Title *string `json:"title"`
	}{})
	if err != nil {
		return SessionDTO{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("chat", "sessions"), bytes.NewReader(body))
	if err != nil {
		return SessionDTO{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SessionDTO{}, fmt.Errorf("create session request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SessionDTO{}, statusError("create session", resp)
	}

	var dto SessionDTO
	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		return SessionDTO{}, fmt.Errorf("failed to decode session response: %w", err)
	}
	return dto, nil
}

// FetchMessages loads the persisted transcript for a session.
func (c *Client) FetchMessages(ctx context.Context, sessionID uuid.UUID, accessToken string, currentUserID uuid.UUID) ([]chat.Message, error) {
	endpoint := c.endpoint("chat", "sessions", sessionID.String(), "messages")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch messages request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError("fetch messages", resp)
	}

	var body struct {
		Messages []MessageDTO `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode messages response: %w", err)
	}

	messages := make([]chat.Message, 0, len(body.Messages))
	for _, dto := range body.Messages {
		messages = append(messages, dto.ToMessage(currentUserID))
	}
	return messages, nil
}

func (c *Client) endpoint(parts ...string) string {
	u := c.baseURL
	for _, p := range parts {
		u = u + "/" + url.PathEscape(p)
	}
	return u
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var detail struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &detail) == nil && detail.Detail != "" {
		return fmt.Errorf("%s failed with status %d: %s", op, resp.StatusCode, detail.Detail)
	}
	return fmt.Errorf("%s failed with status %d", op, resp.StatusCode)
}
