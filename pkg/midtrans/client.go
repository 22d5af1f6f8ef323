// pkg/midtrans/client.go
package midtrans

import (
	"bytes"
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	sandboxSnapURL    = "https://app.sandbox.midtrans.com/snap/v1"
	productionSnapURL = "https://app.midtrans.com/snap/v1"
	sandboxAPIURL     = "https://api.sandbox.midtrans.com/v2"
	productionAPIURL  = "https://api.midtrans.com/v2"
)

// Client talks to the Midtrans Snap and Core APIs.
type Client struct {
	serverKey string
	snapURL   string
	apiURL    string
	http      *http.Client
}

func NewClient(serverKey string, production bool) *Client {
	snapURL, apiURL := sandboxSnapURL, sandboxAPIURL
	if production {
		snapURL, apiURL = productionSnapURL, productionAPIURL
	}
	return &Client{
		serverKey: serverKey,
		snapURL:   snapURL,
		apiURL:    apiURL,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

// SnapSession is a created payment session the frontend can open.
type SnapSession struct {
	Token       string `json:"token"`
	RedirectURL string `json:"redirect_url"`
}

// CreateTransaction opens a Snap payment session for the order. Gross amount
// is in whole IDR; Midtrans rejects fractional rupiah.
func (c *Client) CreateTransaction(ctx context.Context, orderID string, grossAmount int64) (*SnapSession, error) {
	payload := map[string]any{
		"transaction_details": map[string]any{
			"order_id":     orderID,
			"gross_amount": grossAmount,
		},
		"credit_card": map[string]any{
			"secure": true,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("midtrans: marshal snap request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.snapURL+"/transactions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("midtrans: build snap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.serverKey, "")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("midtrans: snap request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("midtrans: read snap response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("midtrans: snap returned status %d: %s", resp.StatusCode, raw)
	}

	var session SnapSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("midtrans: decode snap response: %w", err)
	}
	if session.Token == "" {
		return nil, fmt.Errorf("midtrans: snap response missing token")
	}
	return &session, nil
}

// Notification is the webhook payload Midtrans posts on payment events.
type Notification struct {
	OrderID           string `json:"order_id"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	SignatureKey      string `json:"signature_key"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	PaymentType       string `json:"payment_type"`
}

// Status fetches the current transaction status for an order, used to
// re-check a webhook against the API instead of trusting the payload alone.
func (c *Client) Status(ctx context.Context, orderID string) (*Notification, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/"+orderID+"/status", nil)
	if err != nil {
		return nil, fmt.Errorf("midtrans: build status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.serverKey, "")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("midtrans: status request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("midtrans: status returned %d", resp.StatusCode)
	}

	var n Notification
	if err := json.NewDecoder(resp.Body).Decode(&n); err != nil {
		return nil, fmt.Errorf("midtrans: decode status response: %w", err)
	}
	return &n, nil
}

// VerifySignature checks the webhook signature:
// sha512(order_id + status_code + gross_amount + serverKey). Nothing in the
// payload may be trusted before this passes.
func (c *Client) VerifySignature(orderID, statusCode, grossAmount, signatureKey string) bool {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + c.serverKey))
	expected := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signatureKey)) == 1
}

// Payment outcomes as seen by the application, collapsed from Midtrans's
// transaction_status + fraud_status pair.
const (
	OutcomePaid    = "paid"
	OutcomePending = "pending"
	OutcomeFailed  = "failed"
)

// MapStatus collapses a notification into one of the three outcomes.
// capture is only paid when fraud screening accepted it.
func MapStatus(transactionStatus, fraudStatus string) string {
	switch transactionStatus {
	case "capture":
		if fraudStatus == "accept" {
			return OutcomePaid
		}
		return OutcomePending
	case "settlement":
		return OutcomePaid
	case "deny", "expire", "cancel":
		return OutcomeFailed
	default:
		return OutcomePending
	}
}
