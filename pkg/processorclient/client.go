/**
 * @description
 * This package provides a client for the external payment processor's REST API.
 * It encapsulates the primitives the payments-service needs: customer identities,
 * held charges (payment intents), payout-capable connected accounts, onboarding
 * links, transfers to connected accounts, and refunds.
 *
 * Key features:
 * - All mutating money calls (transfers, refunds) accept an idempotency key which
 *   is forwarded in the Idempotency-Key header, so a retried call after a timeout
 *   cannot move money twice.
 * - Amounts cross the wire in minor units derived exactly from decimals; the
 *   conversion rejects sub-cent precision instead of rounding silently.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, io, net/http, time: Standard Go libraries.
 * - github.com/shopspring/decimal: Exact monetary amounts.
 */
package processorclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Client is a client for the payment processor API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new processor API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ErrorResponse represents an error returned by the processor API.
type ErrorResponse struct {
	ErrorBody struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *ErrorResponse) Error() string {
	if e.ErrorBody.Message != "" {
		return fmt.Sprintf("processor api error: %s - %s", e.ErrorBody.Code, e.ErrorBody.Message)
	}
	return "unknown processor api error"
}

// Customer is a funder identity registered with the processor.
type Customer struct {
	ID string `json:"id"`
}

// PaymentIntent is a held charge awaiting out-of-band confirmation by the funder's
// client using ClientSecret.
type PaymentIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

// ConnectedAccount is a payout-capable sub-account belonging to a creator.
type ConnectedAccount struct {
	ID               string `json:"id"`
	DetailsSubmitted bool   `json:"details_submitted"`
	PayoutsEnabled   bool   `json:"payouts_enabled"`
	ChargesEnabled   bool   `json:"charges_enabled"`
}

// AccountLink is a time-limited onboarding URL for a connected account.
type AccountLink struct {
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expires_at"`
}

// Transfer is a completed movement of funds to a connected account.
type Transfer struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Refund is a completed reversal of a held charge.
type Refund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// MinorUnits converts a decimal amount to the processor's integer minor units.
// Amounts with sub-cent precision are rejected rather than rounded; rounding is the
// fee calculator's job, not the wire layer's.
func MinorUnits(amount decimal.Decimal) (int64, error) {
	shifted := amount.Shift(2)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has sub-cent precision", amount.String())
	}
	return shifted.IntPart(), nil
}

// CreateCustomer registers a funder identity with the processor.
func (c *Client) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*Customer, error) {
	payload := map[string]interface{}{
		"email":    email,
		"name":     name,
		"metadata": metadata,
	}
	var customer Customer
	if err := c.do(ctx, http.MethodPost, "/v1/customers", "", payload, &customer); err != nil {
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}
	return &customer, nil
}

// CreatePaymentIntent creates a held charge for the escrow deposit.
func (c *Client) CreatePaymentIntent(ctx context.Context, amount decimal.Decimal, currency, customerID string, metadata map[string]string) (*PaymentIntent, error) {
	units, err := MinorUnits(amount)
	if err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"amount":   units,
		"currency": currency,
		"customer": customerID,
		"metadata": metadata,
	}
	var intent PaymentIntent
	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents", "", payload, &intent); err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}
	return &intent, nil
}

// CreateConnectedAccount creates a payout-capable sub-account for a creator.
func (c *Client) CreateConnectedAccount(ctx context.Context, email string) (*ConnectedAccount, error) {
	payload := map[string]interface{}{
		"type":  "express",
		"email": email,
		"capabilities": map[string]interface{}{
			"transfers": map[string]bool{"requested": true},
		},
	}
	var account ConnectedAccount
	if err := c.do(ctx, http.MethodPost, "/v1/accounts", "", payload, &account); err != nil {
		return nil, fmt.Errorf("failed to create connected account: %w", err)
	}
	return &account, nil
}

// CreateAccountLink requests a fresh time-limited onboarding URL.
func (c *Client) CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (*AccountLink, error) {
	payload := map[string]interface{}{
		"account":     accountID,
		"refresh_url": refreshURL,
		"return_url":  returnURL,
		"type":        "account_onboarding",
	}
	var link AccountLink
	if err := c.do(ctx, http.MethodPost, "/v1/account_links", "", payload, &link); err != nil {
		return nil, fmt.Errorf("failed to create account link: %w", err)
	}
	return &link, nil
}

// GetAccount fetches the live state of a connected account.
func (c *Client) GetAccount(ctx context.Context, accountID string) (*ConnectedAccount, error) {
	var account ConnectedAccount
	if err := c.do(ctx, http.MethodGet, "/v1/accounts/"+accountID, "", nil, &account); err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// CreateTransfer moves funds to a connected account. The idempotency key makes a
// retried call return the original transfer instead of creating a second one.
func (c *Client) CreateTransfer(ctx context.Context, amount decimal.Decimal, currency, destinationAccountID, idempotencyKey string, metadata map[string]string) (*Transfer, error) {
	units, err := MinorUnits(amount)
	if err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"amount":      units,
		"currency":    currency,
		"destination": destinationAccountID,
		"metadata":    metadata,
	}
	var transfer Transfer
	if err := c.do(ctx, http.MethodPost, "/v1/transfers", idempotencyKey, payload, &transfer); err != nil {
		return nil, fmt.Errorf("failed to create transfer: %w", err)
	}
	return &transfer, nil
}

// CreateRefund reverses (part of) a held charge back to the funder.
func (c *Client) CreateRefund(ctx context.Context, paymentIntentID string, amount decimal.Decimal, idempotencyKey string) (*Refund, error) {
	units, err := MinorUnits(amount)
	if err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"payment_intent": paymentIntentID,
		"amount":         units,
	}
	var refund Refund
	if err := c.do(ctx, http.MethodPost, "/v1/refunds", idempotencyKey, payload, &refund); err != nil {
		return nil, fmt.Errorf("failed to create refund: %w", err)
	}
	return &refund, nil
}

// do executes one request against the processor API and decodes the response into
// target. Non-2xx responses decode into ErrorResponse and are returned as errors.
func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, payload, target interface{}) error {
	var bodyReader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewBuffer(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=processor_client method=%s path=%s status=%d msg=\"non-2xx response (unparsable error body)\"", method, path, resp.StatusCode)
			return fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=processor_client method=%s path=%s status=%d code=%q detail=%q", method, path, resp.StatusCode, errResp.ErrorBody.Code, errResp.ErrorBody.Message)
		return &errResp
	}

	if target != nil {
		if err := json.Unmarshal(bodyBytes, target); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
