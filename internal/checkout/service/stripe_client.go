package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/donorflow/internal/checkout/domain"
)

const defaultStripeBaseURL = "https://api.stripe.com"

type stripeCheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type stripeErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

type stripeClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func newStripeClient(apiKey, baseURL string, client *http.Client) *stripeClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultStripeBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 12 * time.Second}
	}
	return &stripeClient{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (c *stripeClient) createCheckoutSession(ctx context.Context, values url.Values, idempotencyKey string) (stripeCheckoutSession, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/checkout/sessions", values, idempotencyKey)
}

func (c *stripeClient) doRequest(
	ctx context.Context,
	method string,
	path string,
	values url.Values,
	idempotencyKey string,
) (stripeCheckoutSession, error) {
	if c.apiKey == "" {
		return stripeCheckoutSession{}, domain.ErrNotConfigured
	}
	body := strings.NewReader("")
	if values != nil {
		body = strings.NewReader(values.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return stripeCheckoutSession{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if values != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return stripeCheckoutSession{}, fmt.Errorf("%w: %v", domain.ErrProcessorFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var stripeErr stripeErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&stripeErr); err != nil {
			return stripeCheckoutSession{}, domain.ErrProcessorFailed
		}
		message := strings.TrimSpace(stripeErr.Error.Message)
		if message == "" {
			return stripeCheckoutSession{}, domain.ErrProcessorFailed
		}
		return stripeCheckoutSession{}, fmt.Errorf("%w: %s", domain.ErrProcessorFailed, message)
	}

	var session stripeCheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return stripeCheckoutSession{}, err
	}
	if session.ID == "" || session.URL == "" {
		return stripeCheckoutSession{}, errors.New("stripe_response_invalid")
	}
	return session, nil
}
