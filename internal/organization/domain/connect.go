package domain

import (
	"context"
	"errors"
)

const (
	ConnectStatusNotConnected = "not_connected"
	ConnectStatusPending      = "pending"
	ConnectStatusConnected    = "connected"
	ConnectStatusError        = "error"
)

// ConnectAccount is the processor's view of a linked account.
type ConnectAccount struct {
	ID               string
	ChargesEnabled   bool
	PayoutsEnabled   bool
	DetailsSubmitted bool
}

// Onboarded reports whether the account can take charges and receive payouts.
func (a ConnectAccount) Onboarded() bool {
	return a.ChargesEnabled && a.PayoutsEnabled && a.DetailsSubmitted
}

// ConnectGateway talks to the processor's OAuth and account endpoints.
type ConnectGateway interface {
	ExchangeCode(ctx context.Context, code string) (string, error)
	Account(ctx context.Context, accountID string) (ConnectAccount, error)
	Deauthorize(ctx context.Context, accountID string) error
}

type ConnectState struct {
	Status           string `json:"status"`
	Connected        bool   `json:"connected"`
	CanConnect       bool   `json:"can_connect"`
	AccountID        string `json:"account_id,omitempty"`
	ChargesEnabled   bool   `json:"charges_enabled"`
	PayoutsEnabled   bool   `json:"payouts_enabled"`
	DetailsSubmitted bool   `json:"details_submitted"`
	Error            string `json:"error,omitempty"`
}

type ConnectAuthorization struct {
	URL string `json:"url"`
}

// ConnectCallback carries the query of the processor's OAuth redirect.
type ConnectCallback struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

type ConnectResult struct {
	OrgID  string `json:"organization_id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

var (
	ErrConnectNotConfigured = errors.New("connect_not_configured")
	ErrConnectPlanRequired  = errors.New("connect_plan_required")
	ErrConnectNotLinked     = errors.New("connect_not_linked")
	ErrInvalidConnectState  = errors.New("invalid_connect_state")
	ErrInvalidConnectCode   = errors.New("invalid_connect_code")
	ErrConnectFailed        = errors.New("connect_failed")
)
