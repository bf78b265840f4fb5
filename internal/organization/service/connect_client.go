package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/donorflow/internal/config"
	"github.com/smallbiznis/donorflow/internal/organization/domain"
)

const (
	defaultConnectBaseURL = "https://connect.stripe.com"
	defaultAPIBaseURL     = "https://api.stripe.com"
)

type oauthTokenResponse struct {
	StripeUserID     string `json:"stripe_user_id"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type accountResponse struct {
	ID               string `json:"id"`
	ChargesEnabled   bool   `json:"charges_enabled"`
	PayoutsEnabled   bool   `json:"payouts_enabled"`
	DetailsSubmitted bool   `json:"details_submitted"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

type connectClient struct {
	secretKey  string
	clientID   string
	connectURL string
	apiURL     string
	client     *http.Client
}

// NewConnectGateway returns the Stripe OAuth gateway.
func NewConnectGateway(cfg config.Config) domain.ConnectGateway {
	return newConnectClient(cfg.Stripe, nil)
}

func newConnectClient(cfg config.StripeConfig, client *http.Client) *connectClient {
	connectURL := strings.TrimSpace(cfg.Connect.BaseURL)
	if connectURL == "" {
		connectURL = defaultConnectBaseURL
	}
	apiURL := strings.TrimSpace(cfg.APIBaseURL)
	if apiURL == "" {
		apiURL = defaultAPIBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 12 * time.Second}
	}
	return &connectClient{
		secretKey:  strings.TrimSpace(cfg.SecretKey),
		clientID:   strings.TrimSpace(cfg.Connect.ClientID),
		connectURL: strings.TrimRight(connectURL, "/"),
		apiURL:     strings.TrimRight(apiURL, "/"),
		client:     client,
	}
}

func (c *connectClient) ExchangeCode(ctx context.Context, code string) (string, error) {
	values := url.Values{}
	values.Set("grant_type", "authorization_code")
	values.Set("code", code)

	var resp oauthTokenResponse
	status, err := c.do(ctx, http.MethodPost, c.connectURL+"/oauth/token", values, &resp)
	if err != nil {
		return "", err
	}
	if status >= http.StatusBadRequest || resp.Error != "" {
		message := strings.TrimSpace(resp.ErrorDescription)
		if message == "" {
			message = resp.Error
		}
		if resp.Error == "invalid_grant" {
			return "", fmt.Errorf("%w: %s", domain.ErrInvalidConnectCode, message)
		}
		return "", fmt.Errorf("%w: %s", domain.ErrConnectFailed, message)
	}
	if strings.TrimSpace(resp.StripeUserID) == "" {
		return "", fmt.Errorf("%w: token response without account", domain.ErrConnectFailed)
	}
	return resp.StripeUserID, nil
}

func (c *connectClient) Account(ctx context.Context, accountID string) (domain.ConnectAccount, error) {
	var resp accountResponse
	status, err := c.do(ctx, http.MethodGet, c.apiURL+"/v1/accounts/"+url.PathEscape(accountID), nil, &resp)
	if err != nil {
		return domain.ConnectAccount{}, err
	}
	if status >= http.StatusBadRequest {
		return domain.ConnectAccount{}, fmt.Errorf("%w: account lookup returned %d", domain.ErrConnectFailed, status)
	}
	return domain.ConnectAccount{
		ID:               resp.ID,
		ChargesEnabled:   resp.ChargesEnabled,
		PayoutsEnabled:   resp.PayoutsEnabled,
		DetailsSubmitted: resp.DetailsSubmitted,
	}, nil
}

func (c *connectClient) Deauthorize(ctx context.Context, accountID string) error {
	values := url.Values{}
	values.Set("client_id", c.clientID)
	values.Set("stripe_user_id", accountID)

	var resp oauthTokenResponse
	status, err := c.do(ctx, http.MethodPost, c.connectURL+"/oauth/deauthorize", values, &resp)
	if err != nil {
		return err
	}
	if status >= http.StatusBadRequest {
		return fmt.Errorf("%w: deauthorize returned %d %s", domain.ErrConnectFailed, status, resp.Error)
	}
	return nil
}

// do decodes the body into out for both success and error statuses; the
// caller interprets the status.
func (c *connectClient) do(ctx context.Context, method, target string, values url.Values, out any) (int, error) {
	if c.secretKey == "" {
		return 0, domain.ErrConnectNotConfigured
	}
	var body io.Reader
	if values != nil {
		body = strings.NewReader(values.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if values != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrConnectFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("%w: %v", domain.ErrConnectFailed, err)
	}
	if len(raw) == 0 {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return resp.StatusCode, nil
		}
		return resp.StatusCode, fmt.Errorf("%w: %v", domain.ErrConnectFailed, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiErrorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return resp.StatusCode, fmt.Errorf("%w: %s", domain.ErrConnectFailed, apiErr.Error.Message)
		}
	}
	return resp.StatusCode, nil
}
