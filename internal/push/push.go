package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// DefaultURL is the Expo push service endpoint.
const DefaultURL = "https://exp.host/--/api/v2/push/send"

// deviceNotRegistered is the provider's error code for a token whose device
// has uninstalled the app or revoked permission. The token should be deleted.
const deviceNotRegistered = "DeviceNotRegistered"

// Message is one push notification addressed to a single device token.
type Message struct {
	To    string         `json:"to"`
	Sound string         `json:"sound"`
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
}

// Ticket is the provider's per-message receipt, aligned by index with the
// request batch.
type Ticket struct {
	Status  string         `json:"status"`
	ID      string         `json:"id,omitempty"`
	Message string         `json:"message,omitempty"`
	Details *TicketDetails `json:"details,omitempty"`
}

type TicketDetails struct {
	Error string `json:"error,omitempty"`
}

// DeviceNotRegistered reports whether the ticket marks its token as dead.
func (t Ticket) DeviceNotRegistered() bool {
	return t.Details != nil && t.Details.Error == deviceNotRegistered
}

// IsValidToken reports whether the string looks like a provider push token.
// Tokens that fail this check are skipped rather than sent.
func IsValidToken(token string) bool {
	return strings.HasPrefix(token, "ExponentPushToken[") && strings.HasSuffix(token, "]")
}

// Client sends batched push notifications to the provider.
type Client struct {
	url        string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(url string, opts ...Option) *Client {
	if url == "" {
		url = DefaultURL
	}
	c := &Client{
		url:        url,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type sendResponse struct {
	Data []Ticket `json:"data"`
}

// SendBatch submits all messages in one request and returns the per-message
// tickets, aligned by index with the input. Transient failures (network
// errors, 5xx) are retried with exponential backoff before giving up.
func (c *Client) SendBatch(ctx context.Context, messages []Message) ([]Ticket, error) {
	if len(messages) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("marshal push batch: %w", err)
	}

	var tickets []Ticket
	backoff := retry.WithMaxRetries(2, retry.NewExponential(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("send push batch: %w", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("push service returned %d", resp.StatusCode))
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("push service returned %d", resp.StatusCode)
		}

		var parsed sendResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("decode push response: %w", err)
		}
		if len(parsed.Data) != len(messages) {
			return fmt.Errorf("push response has %d tickets for %d messages", len(parsed.Data), len(messages))
		}

		tickets = parsed.Data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tickets, nil
}
