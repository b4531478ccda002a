package telegram

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
	"time"
)

const (
	telegramAPIURL = "https://api.telegram.org"
)

// ErrConflict is returned when another bot instance is already polling.
var ErrConflict = errors.New("telegram: another bot instance is polling getUpdates")

// APIError is a Bot API response with ok=false.
type APIError struct {
	Code        int
	Description string
	RetryAfter  int // seconds, set on 429
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram API error: %s (code: %d)", e.Description, e.Code)
}

// Temporary reports whether the call may succeed on retry.
func (e *APIError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// RetryDelay is the wait Telegram asked for on a 429; zero otherwise.
func (e *APIError) RetryDelay() time.Duration {
	return time.Duration(e.RetryAfter) * time.Second
}

// Client is a Telegram Bot API client
type Client struct {
	botToken   string
	apiURL     string
	httpClient *http.Client
}

// NewClient creates a new Telegram client
func NewClient(botToken string) *Client {
	return NewClientWithBaseURL(botToken, telegramAPIURL)
}

// NewClientWithBaseURL creates a client against a different API host, used
// by tests and self-hosted Bot API servers.
func NewClientWithBaseURL(botToken, baseURL string) *Client {
	return &Client{
		botToken: botToken,
		apiURL:   baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (c *Client) methodURL(method string) string {
	return c.apiURL + "/bot" + c.botToken + "/" + method
}

// SendMessageRequest represents a Telegram sendMessage request
type SendMessageRequest struct {
	ChatID                string      `json:"chat_id"`
	Text                  string      `json:"text"`
	ParseMode             string      `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool        `json:"disable_web_page_preview,omitempty"`
	ReplyMarkup           interface{} `json:"reply_markup,omitempty"`
}

// ReplyKeyboardMarkup is a custom keyboard shown under the input field.
type ReplyKeyboardMarkup struct {
	Keyboard       [][]KeyboardButton `json:"keyboard"`
	ResizeKeyboard bool               `json:"resize_keyboard,omitempty"`
}

// ReplyKeyboardRemove hides a custom keyboard.
type ReplyKeyboardRemove struct {
	RemoveKeyboard bool `json:"remove_keyboard"`
}

// KeyboardButton is one reply keyboard button.
type KeyboardButton struct {
	Text string `json:"text"`
}

// ResponseParameters carries extra error information.
type ResponseParameters struct {
	RetryAfter int `json:"retry_after,omitempty"`
}

// SendMessageResponse represents the response from sending a message
type SendMessageResponse struct {
	OK          bool                `json:"ok"`
	Result      *Message            `json:"result,omitempty"`
	Description string              `json:"description,omitempty"`
	ErrorCode   int                 `json:"error_code,omitempty"`
	Parameters  *ResponseParameters `json:"parameters,omitempty"`
}

// Update represents a Telegram update from getUpdates
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message represents a Telegram message
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      *Chat  `json:"chat"`
	Date      int64  `json:"date"`
	Text      string `json:"text,omitempty"`
}

// User represents a Telegram user
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot,omitempty"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Chat represents a Telegram chat
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// GetUpdatesResponse represents the response from getUpdates
type GetUpdatesResponse struct {
	OK          bool      `json:"ok"`
	Result      []*Update `json:"result,omitempty"`
	Description string    `json:"description,omitempty"`
	ErrorCode   int       `json:"error_code,omitempty"`
}

type getMeResponse struct {
	OK          bool   `json:"ok"`
	Result      *User  `json:"result,omitempty"`
	Description string `json:"description,omitempty"`
	ErrorCode   int    `json:"error_code,omitempty"`
}

// do performs a Bot API call and decodes the envelope into result.
func (c *Client) do(ctx context.Context, method, httpMethod string, query url.Values, body interface{}, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	u := c.methodURL(method)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, httpMethod, u, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		if resp.StatusCode >= 500 {
			return &APIError{Code: resp.StatusCode, Description: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// GetUpdates retrieves updates using long polling
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]*Update, error) {
	q := url.Values{}
	q.Set("offset", strconv.FormatInt(offset, 10))
	q.Set("timeout", strconv.Itoa(timeout))

	var result GetUpdatesResponse
	if err := c.do(ctx, "getUpdates", http.MethodGet, q, nil, &result); err != nil {
		return nil, err
	}
	if !result.OK {
		if result.ErrorCode == http.StatusConflict {
			return nil, ErrConflict
		}
		return nil, &APIError{Code: result.ErrorCode, Description: result.Description}
	}
	return result.Result, nil
}

// CheckSingleton makes a non-blocking getUpdates call and returns
// ErrConflict when another instance holds the long poll.
func (c *Client) CheckSingleton(ctx context.Context) error {
	_, err := c.GetUpdates(ctx, -1, 0)
	return err
}

// GetMe returns the bot account, used to validate the token at startup.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var result getMeResponse
	if err := c.do(ctx, "getMe", http.MethodGet, nil, nil, &result); err != nil {
		return nil, err
	}
	if !result.OK || result.Result == nil {
		return nil, &APIError{Code: result.ErrorCode, Description: result.Description}
	}
	return result.Result, nil
}

// SendMessage sends a message to a chat
func (c *Client) SendMessage(ctx context.Context, chatID, text, parseMode string) (*SendMessageResponse, error) {
	return c.SendMessageWithMarkup(ctx, chatID, text, parseMode, nil)
}

// SendMessageWithMarkup sends a message with a reply markup (keyboard).
func (c *Client) SendMessageWithMarkup(ctx context.Context, chatID, text, parseMode string, markup interface{}) (*SendMessageResponse, error) {
	req := SendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             parseMode,
		DisableWebPagePreview: true,
		ReplyMarkup:           markup,
	}

	var result SendMessageResponse
	if err := c.do(ctx, "sendMessage", http.MethodPost, nil, req, &result); err != nil {
		return nil, err
	}
	if !result.OK {
		apiErr := &APIError{Code: result.ErrorCode, Description: result.Description}
		if result.Parameters != nil {
			apiErr.RetryAfter = result.Parameters.RetryAfter
		}
		return nil, apiErr
	}
	return &result, nil
}
