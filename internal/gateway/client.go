// Package gateway wraps the external payment gateway: order creation over
// its HTTP API and verification of the signatures it issues.  The client
// is constructed once at process start and injected into the settlement
// engine; no package-level state is kept.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrUnavailable is returned when the gateway cannot be reached or
// rejects an order creation call.  No local record is written in that
// case, so the caller may simply retry.
var ErrUnavailable = errors.New("payment gateway unavailable")

// Client talks to the payment gateway's REST API using key-pair basic
// auth.  The same key secret signs the verification assertion the client
// browser returns after checkout.
type Client struct {
	baseURL       string
	keyID         string
	keySecret     string
	webhookSecret string
	httpc         *http.Client
}

// NewClient constructs a gateway client.  Order creation calls time out
// after ten seconds so a slow gateway never stalls local transitions on
// unrelated seats.
func NewClient(baseURL, keyID, keySecret, webhookSecret string) *Client {
	return &Client{
		baseURL:       baseURL,
		keyID:         keyID,
		keySecret:     keySecret,
		webhookSecret: webhookSecret,
		httpc:         &http.Client{Timeout: 10 * time.Second},
	}
}

// KeyID returns the public key id clients need to open the gateway's
// checkout flow.
func (c *Client) KeyID() string { return c.keyID }

// orderRequest is the payload for POST /v1/orders.  Amounts are in the
// smallest currency unit.
type orderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt,omitempty"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type orderResponse struct {
	ID string `json:"id"`
}

// CreateOrder asks the gateway for a new payment order and returns its
// identifier.  Any transport or non-2xx failure is reported as
// ErrUnavailable with the cause wrapped, so handlers can map it to a
// retryable response without leaking gateway internals.
func (c *Client) CreateOrder(ctx context.Context, amountCents int64, currency string, notes map[string]string) (string, error) {
	body, err := json.Marshal(orderRequest{Amount: amountCents, Currency: currency, Notes: notes})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	var out orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("%w: empty order id", ErrUnavailable)
	}
	return out.ID, nil
}

// VerifySignature checks the assertion the client supplies after paying
// in the browser.  The expected value is HMAC-SHA256 over
// "orderID|paymentID" keyed by the api secret.  Comparison is constant
// time; a short-circuiting equality check would leak how many leading
// bytes of a forged signature were correct.
func (c *Client) VerifySignature(orderID, paymentID, signature string) bool {
	return hmacMatches(c.keySecret, orderID+"|"+paymentID, signature)
}

// VerifyWebhook checks the signature header of an asynchronous gateway
// event against the raw request body.
func (c *Client) VerifyWebhook(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func hmacMatches(secret, payload, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
