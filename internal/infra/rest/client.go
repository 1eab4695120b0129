package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"sokochat/internal/domain/chat"
)

// Config defines REST client settings.
type Config struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
}

// Client wraps the marketplace REST API used by the conversation core.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient returns a typed client for the marketplace API.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("rest: base URL required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.AccessToken,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

// SetAccessToken swaps the bearer token, e.g. after a login.
func (c *Client) SetAccessToken(token string) {
	c.token = token
}

type createConversationRequest struct {
	SellerID  chat.SellerID   `json:"seller_id"`
	ProductID *chat.ProductID `json:"product_id,omitempty"`
}

// CreateConversation issues the create-or-get call. The server returns the
// existing conversation for the (buyer, seller[, product]) tuple or creates
// one atomically.
func (c *Client) CreateConversation(ctx context.Context, sellerID chat.SellerID, productID *chat.ProductID) (chat.Conversation, error) {
	var conv chat.Conversation
	req := createConversationRequest{SellerID: sellerID, ProductID: productID}
	if err := c.post(ctx, "/api/conversations/", req, &conv); err != nil {
		return chat.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// GetConversation fetches a conversation with its full message history and
// participant states nested in one response.
func (c *Client) GetConversation(ctx context.Context, id chat.ConversationID) (chat.Conversation, error) {
	var conv chat.Conversation
	if err := c.get(ctx, fmt.Sprintf("/api/conversations/%d/", id), &conv); err != nil {
		return chat.Conversation{}, fmt.Errorf("load conversation %d: %w", id, err)
	}
	return conv, nil
}

// MarkSeen tells the server the viewer has seen the conversation. Callers
// treat this as best-effort; the response body carries nothing of interest.
func (c *Client) MarkSeen(ctx context.Context, id chat.ConversationID) error {
	if err := c.post(ctx, fmt.Sprintf("/api/conversations/%d/mark_seen/", id), struct{}{}, nil); err != nil {
		return fmt.Errorf("mark seen %d: %w", id, err)
	}
	return nil
}

type sendMessageRequest struct {
	Conversation chat.ConversationID `json:"conversation"`
	Text         string              `json:"text"`
}

// SendMessage posts a message and returns the server-assigned record.
func (c *Client) SendMessage(ctx context.Context, id chat.ConversationID, text string) (chat.Message, error) {
	var msg chat.Message
	req := sendMessageRequest{Conversation: id, Text: text}
	if err := c.post(ctx, "/api/messages/", req, &msg); err != nil {
		return chat.Message{}, fmt.Errorf("send message: %w", err)
	}
	return msg, nil
}

// GetProduct fetches product context when no conversation is resolved yet.
func (c *Client) GetProduct(ctx context.Context, id chat.ProductID) (chat.Product, error) {
	var product chat.Product
	if err := c.get(ctx, fmt.Sprintf("/api/products/%d/", id), &product); err != nil {
		return chat.Product{}, fmt.Errorf("load product %d: %w", id, err)
	}
	return product, nil
}

// GetSeller fetches seller context when no conversation is resolved yet.
func (c *Client) GetSeller(ctx context.Context, id chat.SellerID) (chat.Seller, error) {
	var seller chat.Seller
	if err := c.get(ctx, fmt.Sprintf("/api/sellers/%d/", id), &seller); err != nil {
		return chat.Seller{}, fmt.Errorf("load seller %d: %w", id, err)
	}
	return seller, nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the auth bootstrap payload.
type LoginResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Login exchanges credentials for tokens and installs the access token on
// the client.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResponse, error) {
	var resp LoginResponse
	if err := c.post(ctx, "/api/auth/login/", loginRequest{Username: username, Password: password}, &resp); err != nil {
		return LoginResponse{}, fmt.Errorf("login: %w", err)
	}
	c.token = resp.Access
	return resp, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, payload, out)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost {
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return c.apiError(resp, method, path)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type apiErrorBody struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

// apiError maps failure responses onto the domain taxonomy. The
// self-conversation detail string is matched verbatim so callers can show a
// distinct friendly message.
func (c *Client) apiError(resp *http.Response, method, path string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body apiErrorBody
	_ = json.Unmarshal(raw, &body)
	detail := body.Detail
	if detail == "" {
		detail = body.Error
	}

	if c.logger != nil {
		c.logger.Warn("api call failed",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
			"detail", detail,
		)
	}

	if detail == chat.SelfConversationDetail {
		return chat.ErrSelfConversation
	}
	if resp.StatusCode == http.StatusForbidden {
		return chat.ErrNotParticipant
	}
	if detail != "" {
		return fmt.Errorf("api %s %s: %s (status %d)", method, path, detail, resp.StatusCode)
	}
	return fmt.Errorf("api %s %s: status %d", method, path, resp.StatusCode)
}
