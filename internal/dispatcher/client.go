package dispatcher

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

const (
	userAgent = "VeriBits-Webhook/1.0"

	HeaderEvent     = "X-VeriBits-Event"
	HeaderSignature = "X-VeriBits-Signature"
	HeaderDelivery  = "X-VeriBits-Delivery"

	// maxResponseBody bounds how much of the subscriber's response is kept
	// for the error audit trail.
	maxResponseBody = 1000
)

// Result captures one delivery attempt. StatusCode is nil when no response
// was received (transport error or timeout).
type Result struct {
	StatusCode *int
	LatencyMs  int64
	Body       string
	Err        error
}

// Success reports whether a response was received with a 2xx status.
func (r *Result) Success() bool {
	return r.Err == nil && r.StatusCode != nil && *r.StatusCode >= 200 && *r.StatusCode < 300
}

// ResponseCode returns the status code, or 0 when none was received.
func (r *Result) ResponseCode() int {
	if r.StatusCode == nil {
		return 0
	}
	return *r.StatusCode
}

// Client performs the outbound signed POSTs.
type Client struct {
	http *http.Client
}

func NewClient(timeout time.Duration) *Client {
	return &Client{
		http: &http.Client{Timeout: timeout},
	}
}

// Post delivers payload to url with the VeriBits delivery headers. The
// client timeout is the only cancellation of an in-flight request.
func (c *Client) Post(ctx context.Context, url string, payload []byte, eventType, sig, deliveryID string) *Result {
	result := &Result{}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		result.Err = err
		return result
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderEvent, eventType)
	req.Header.Set(HeaderSignature, sig)
	req.Header.Set(HeaderDelivery, deliveryID)

	start := time.Now()
	resp, err := c.http.Do(req)
	result.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Err = err
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = &resp.StatusCode

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err == nil {
		result.Body = string(body)
	}
	return result
}
