/**
 * @description
 * This package provides an HTTP client for the subscription service's
 * internal API. It implements the backend seam the client-side state
 * container depends on, authenticating requests with the shared internal API
 * key and mapping HTTP statuses back to the domain's sentinel errors.
 */
package subscriptionclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/veltra/subscription-service/internal/domain"
)

// ErrSubscriptionNotFound is returned by credit operations when the user has
// no subscription on record.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// Client calls the subscription service's internal API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a client for the subscription service at baseURL,
// authenticating with the given internal API key.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type subscribePayload struct {
	PlanID string `json:"plan_id"`
}

type consumeCreditsPayload struct {
	Amount int    `json:"amount"`
	Source string `json:"source"`
}

// FetchSubscription returns the user's subscription, or (nil, nil) when the
// user has none; absence is a valid state, not an error.
func (c *Client) FetchSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	resp, body, err := c.do(ctx, http.MethodGet, "/internal/subscriptions/"+userID, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp.StatusCode, body)
	}

	var sub domain.Subscription
	if err := json.Unmarshal(body, &sub); err != nil {
		return nil, fmt.Errorf("failed to decode subscription response: %w", err)
	}
	return &sub, nil
}

// CreateSubscription subscribes the user to the given plan, replacing any
// existing subscription with a fresh record.
func (c *Client) CreateSubscription(ctx context.Context, userID, planID string) (*domain.Subscription, error) {
	resp, body, err := c.do(ctx, http.MethodPost, "/internal/subscriptions/"+userID, subscribePayload{PlanID: planID})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", domain.ErrPlanNotFound, planID)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp.StatusCode, body)
	}

	var sub domain.Subscription
	if err := json.Unmarshal(body, &sub); err != nil {
		return nil, fmt.Errorf("failed to decode subscription response: %w", err)
	}
	return &sub, nil
}

// CancelSubscription marks the user's subscription cancelled and returns the
// updated record.
func (c *Client) CancelSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	resp, body, err := c.do(ctx, http.MethodPost, "/internal/subscriptions/"+userID+"/cancel", nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusConflict {
		return nil, domain.ErrNoActiveSubscription
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp.StatusCode, body)
	}

	var sub domain.Subscription
	if err := json.Unmarshal(body, &sub); err != nil {
		return nil, fmt.Errorf("failed to decode subscription response: %w", err)
	}
	return &sub, nil
}

// GetUsage fetches the user's credit usage snapshot. Users without a
// subscription get the zero-valued snapshot.
func (c *Client) GetUsage(ctx context.Context, userID string) (domain.CreditUsage, error) {
	resp, body, err := c.do(ctx, http.MethodGet, "/internal/subscriptions/"+userID+"/usage", nil)
	if err != nil {
		return domain.CreditUsage{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.CreditUsage{}, statusError(resp.StatusCode, body)
	}

	var usage domain.CreditUsage
	if err := json.Unmarshal(body, &usage); err != nil {
		return domain.CreditUsage{}, fmt.Errorf("failed to decode usage response: %w", err)
	}
	return usage, nil
}

// ConsumeCredits decrements the user's remaining credits and returns the
// updated record. The source labels the consumer for audit logs.
func (c *Client) ConsumeCredits(ctx context.Context, userID string, amount int, source string) (*domain.Subscription, error) {
	payload := consumeCreditsPayload{Amount: amount, Source: source}
	resp, body, err := c.do(ctx, http.MethodPost, "/internal/subscriptions/"+userID+"/credits/consume", payload)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrSubscriptionNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp.StatusCode, body)
	}

	var sub domain.Subscription
	if err := json.Unmarshal(body, &sub); err != nil {
		return nil, fmt.Errorf("failed to decode subscription response: %w", err)
	}
	return &sub, nil
}

// RunPastDueSweep triggers the past-due sweep and returns how many
// subscriptions were marked.
func (c *Client) RunPastDueSweep(ctx context.Context) (int, error) {
	resp, body, err := c.do(ctx, http.MethodPost, "/internal/subscriptions/sweep/run", nil)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, statusError(resp.StatusCode, body)
	}

	var result struct {
		Swept int `json:"swept"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, fmt.Errorf("failed to decode sweep response: %w", err)
	}
	return result.Swept, nil
}

// do executes an authenticated request against the service and returns the
// response alongside its fully read body.
func (c *Client) do(ctx context.Context, method, path string, payload interface{}) (*http.Response, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Internal-API-Key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp, body, nil
}

func statusError(code int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return fmt.Errorf("subscription service returned status %d", code)
	}
	return fmt.Errorf("subscription service returned status %d: %s", code, msg)
}
