package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

var (
	// ErrTimeout means the processor did not answer in time. The order is left untouched
	// and the caller may retry later.
	ErrTimeout = errors.New("payment gateway timeout")

	// ErrInvoiceNotFound is returned when the processor does not know the invoice id.
	ErrInvoiceNotFound = errors.New("invoice not found at payment gateway")
)

// HTTPError represents a non-2xx gateway response.
type HTTPError struct {
	StatusCode int
	Message    string
	ErrorCode  string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("gateway HTTP %d: %s - %s", e.StatusCode, e.ErrorCode, e.Message)
}

// Client talks to the payment processor's invoice API.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a gateway client. timeout bounds every call, including ones made with a
// context that has no deadline.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

// CreateInvoice initiates a payment for an order.
func (c *Client) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error) {
	return c.do(ctx, http.MethodPost, "/v2/invoices", req)
}

// GetInvoice returns the current invoice state.
func (c *Client) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	return c.do(ctx, http.MethodGet, "/v2/invoices/"+url.PathEscape(invoiceID), nil)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (*Invoice, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.SetBasicAuth(c.apiKey, "")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%s %s: %w", method, path, ErrTimeout)
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%s %s: %w", method, path, ErrTimeout)
		}
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound && method == http.MethodGet {
		return nil, ErrInvoiceNotFound
	}
	if resp.StatusCode >= 400 {
		var errResp errorResponse
		if err := json.Unmarshal(respBody, &errResp); err != nil {
			return nil, &HTTPError{StatusCode: resp.StatusCode, Message: string(respBody)}
		}
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    errResp.Message,
			ErrorCode:  errResp.ErrorCode,
		}
	}

	var inv Invoice
	if err := json.Unmarshal(respBody, &inv); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	inv.Raw = json.RawMessage(respBody)
	return &inv, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
