package mailbox

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	ErrRateLimited = errors.New("mailbox: server responded 429 rate limited")
	ErrAuthFailed  = errors.New("mailbox: server rejected bearer token")
)

// Client is the controller/host-side HTTP client for a mailbox server,
// implementing the send/recv/is_connected shape of a ControlPlaneTransport
// (spec §4.7) over store-and-forward HTTP rather than a live connection.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	WaitMs      int64
}

// NewClient builds a client against baseURL (e.g. "https://mailbox.example.com").
func NewClient(baseURL, bearerToken string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: bearerToken,
		HTTPClient:  &http.Client{Timeout: 70 * time.Second},
		WaitMs:      25_000,
	}
}

// Send posts envelope bytes to recipient's mailbox.
func (c *Client) Send(ctx context.Context, recipient [32]byte, envelope []byte) error {
	url := fmt.Sprintf("%s/v1/mailbox/%s", c.BaseURL, hex.EncodeToString(recipient[:]))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(envelope))
	if err != nil {
		return err
	}
	c.setAuth(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("mailbox: post: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		return nil
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthFailed
	case http.StatusRequestEntityTooLarge:
		return fmt.Errorf("mailbox: envelope too large: %w", ErrEnvelopeTooLarge)
	case http.StatusInsufficientStorage:
		return fmt.Errorf("mailbox: recipient queue full: %w", ErrQueueFull)
	default:
		return fmt.Errorf("mailbox: unexpected status %d", resp.StatusCode)
	}
}

// Recv long-polls for the next envelope addressed to self, returning
// ok=false if none arrived within the wait window.
func (c *Client) Recv(ctx context.Context, self [32]byte) (envelope []byte, ok bool, err error) {
	url := fmt.Sprintf("%s/v1/mailbox/%s?wait_ms=%d", c.BaseURL, hex.EncodeToString(self[:]), c.WaitMs)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	c.setAuth(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("mailbox: get: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, false, err
		}
		return body, true, nil
	case http.StatusNoContent:
		return nil, false, nil
	case http.StatusTooManyRequests:
		return nil, false, ErrRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, false, ErrAuthFailed
	default:
		return nil, false, fmt.Errorf("mailbox: unexpected status %d", resp.StatusCode)
	}
}

// IsConnected reports true whenever an HTTP client is configured: store-and-
// forward delivery does not require a live connection, matching spec
// §4.7's ControlPlaneTransport contract where Mailbox's is_connected() is
// vacuously satisfied by HTTP reachability rather than session state.
func (c *Client) IsConnected() bool { return c.HTTPClient != nil }

// TransportType identifies this transport for the session negotiation log.
func (c *Client) TransportType() string { return "mailbox" }

func (c *Client) setAuth(req *http.Request) {
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
}
