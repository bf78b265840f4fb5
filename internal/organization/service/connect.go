package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/donorflow/internal/organization/domain"
	"go.uber.org/zap"
)

const (
	connectVerifyFailed = "could not verify the connected account, reconnect to continue"
	connectDisconnected = "disconnected by staff"
)

func (s *Service) ConnectStatus(ctx context.Context, orgID string) (domain.ConnectState, error) {
	org, err := s.GetByID(ctx, orgID)
	if err != nil {
		return domain.ConnectState{}, err
	}

	state := s.connectState(org)
	if !org.CheckoutConnected() || !s.stripe.Configured() {
		return state, nil
	}

	account, err := s.gateway.Account(ctx, org.StripeAccountID)
	if err != nil {
		s.log.Warn("connect account lookup failed",
			zap.String("org_id", org.ID.String()),
			zap.Error(err),
		)
		if err := s.repo.UpdateConnect(ctx, s.db, org.ID, nil, domain.ConnectStatusError, connectVerifyFailed, s.clock.Now()); err != nil {
			return domain.ConnectState{}, err
		}
		state.Status = domain.ConnectStatusError
		state.Connected = false
		state.Error = connectVerifyFailed
		return state, nil
	}

	status := statusFor(account)
	if status != org.StripeConnectStatus || org.StripeConnectError != "" {
		if err := s.repo.UpdateConnect(ctx, s.db, org.ID, nil, status, "", s.clock.Now()); err != nil {
			return domain.ConnectState{}, err
		}
	}
	state.Status = status
	state.Connected = account.Onboarded()
	state.ChargesEnabled = account.ChargesEnabled
	state.PayoutsEnabled = account.PayoutsEnabled
	state.DetailsSubmitted = account.DetailsSubmitted
	state.Error = ""
	return state, nil
}

// AuthorizeConnect returns the processor URL staff is sent to. The state
// parameter is signed so the unauthenticated callback can trust it.
func (s *Service) AuthorizeConnect(ctx context.Context, orgID string) (domain.ConnectAuthorization, error) {
	if !s.stripe.ConnectConfigured() {
		return domain.ConnectAuthorization{}, domain.ErrConnectNotConfigured
	}
	org, err := s.GetByID(ctx, orgID)
	if err != nil {
		return domain.ConnectAuthorization{}, err
	}
	if !s.stripe.TierAllowed(org.PlanTier) {
		return domain.ConnectAuthorization{}, domain.ErrConnectPlanRequired
	}

	now := s.clock.Now()
	if err := s.repo.UpdateConnect(ctx, s.db, org.ID, nil, domain.ConnectStatusPending, "", now); err != nil {
		return domain.ConnectAuthorization{}, err
	}

	base := strings.TrimRight(s.stripe.Connect.BaseURL, "/")
	if base == "" {
		base = defaultConnectBaseURL
	}
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", s.stripe.Connect.ClientID)
	q.Set("scope", "read_write")
	q.Set("redirect_uri", s.stripe.Connect.RedirectURL)
	q.Set("state", s.signState(org.ID, now.Add(s.stateTTL())))
	q.Set("stripe_user[business_type]", "non_profit")

	s.log.Info("connect authorization started", zap.String("org_id", org.ID.String()))
	return domain.ConnectAuthorization{URL: base + "/oauth/authorize?" + q.Encode()}, nil
}

// CompleteConnect handles the OAuth redirect. A processor-side refusal is
// recorded on the organization and reported in the result, not as an error.
func (s *Service) CompleteConnect(ctx context.Context, cb domain.ConnectCallback) (domain.ConnectResult, error) {
	if !s.stripe.ConnectConfigured() {
		return domain.ConnectResult{}, domain.ErrConnectNotConfigured
	}
	now := s.clock.Now()
	orgID, err := s.verifyState(cb.State, now)
	if err != nil {
		return domain.ConnectResult{}, err
	}
	org, err := s.repo.FindByID(ctx, s.db, orgID)
	if err != nil {
		return domain.ConnectResult{}, err
	}
	if org == nil {
		return domain.ConnectResult{}, domain.ErrNotFound
	}
	result := domain.ConnectResult{OrgID: org.ID.String()}

	if refusal := strings.TrimSpace(cb.Error); refusal != "" {
		message := strings.TrimSpace(cb.ErrorDescription)
		if message == "" {
			message = refusal
		}
		if err := s.repo.UpdateConnect(ctx, s.db, org.ID, nil, domain.ConnectStatusError, message, now); err != nil {
			return domain.ConnectResult{}, err
		}
		s.log.Warn("connect authorization refused",
			zap.String("org_id", org.ID.String()),
			zap.String("reason", refusal),
		)
		result.Status = domain.ConnectStatusError
		result.Error = message
		return result, nil
	}

	code := strings.TrimSpace(cb.Code)
	if code == "" {
		return domain.ConnectResult{}, domain.ErrInvalidConnectCode
	}

	accountID, err := s.gateway.ExchangeCode(ctx, code)
	if err != nil {
		if updateErr := s.repo.UpdateConnect(ctx, s.db, org.ID, nil, domain.ConnectStatusError, "connection failed, try again", now); updateErr != nil {
			s.log.Error("record connect failure", zap.String("org_id", org.ID.String()), zap.Error(updateErr))
		}
		return domain.ConnectResult{}, err
	}

	var status, message string
	account, err := s.gateway.Account(ctx, accountID)
	if err != nil {
		s.log.Warn("connect account lookup failed",
			zap.String("org_id", org.ID.String()),
			zap.Error(err),
		)
		status = domain.ConnectStatusError
		message = connectVerifyFailed
	} else {
		status = statusFor(account)
	}

	if err := s.repo.UpdateConnect(ctx, s.db, org.ID, &accountID, status, message, now); err != nil {
		return domain.ConnectResult{}, err
	}
	s.log.Info("connect account linked",
		zap.String("org_id", org.ID.String()),
		zap.String("status", status),
	)
	result.Status = status
	result.Error = message
	return result, nil
}

// DisconnectConnect unlinks the account locally even when the processor
// call fails, since the account may already be gone on their side.
func (s *Service) DisconnectConnect(ctx context.Context, orgID string) (domain.ConnectState, error) {
	org, err := s.GetByID(ctx, orgID)
	if err != nil {
		return domain.ConnectState{}, err
	}
	if !org.CheckoutConnected() {
		return domain.ConnectState{}, domain.ErrConnectNotLinked
	}

	if s.stripe.Configured() {
		if err := s.gateway.Deauthorize(ctx, org.StripeAccountID); err != nil {
			s.log.Warn("connect deauthorize failed",
				zap.String("org_id", org.ID.String()),
				zap.Error(err),
			)
		}
	}

	cleared := ""
	if err := s.repo.UpdateConnect(ctx, s.db, org.ID, &cleared, domain.ConnectStatusNotConnected, connectDisconnected, s.clock.Now()); err != nil {
		return domain.ConnectState{}, err
	}
	s.log.Info("connect account disconnected", zap.String("org_id", org.ID.String()))

	org.StripeAccountID = ""
	org.StripeConnectStatus = domain.ConnectStatusNotConnected
	org.StripeConnectError = connectDisconnected
	return s.connectState(org), nil
}

func (s *Service) connectState(org domain.Organization) domain.ConnectState {
	status := org.StripeConnectStatus
	if status == "" {
		status = domain.ConnectStatusNotConnected
	}
	return domain.ConnectState{
		Status:     status,
		Connected:  org.CheckoutConnected() && status == domain.ConnectStatusConnected,
		CanConnect: s.stripe.TierAllowed(org.PlanTier),
		AccountID:  org.StripeAccountID,
		Error:      org.StripeConnectError,
	}
}

func statusFor(account domain.ConnectAccount) string {
	if account.Onboarded() {
		return domain.ConnectStatusConnected
	}
	return domain.ConnectStatusPending
}

func (s *Service) stateTTL() time.Duration {
	if s.stripe.Connect.StateTTL > 0 {
		return s.stripe.Connect.StateTTL
	}
	return 30 * time.Minute
}

// signState encodes "<org>.<expiry>.<mac>" keyed by the processor secret.
func (s *Service) signState(orgID snowflake.ID, expires time.Time) string {
	payload := orgID.String() + "." + strconv.FormatInt(expires.Unix(), 10)
	return payload + "." + s.stateMAC(payload)
}

func (s *Service) verifyState(raw string, now time.Time) (snowflake.ID, error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 3 {
		return 0, domain.ErrInvalidConnectState
	}
	payload := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(parts[2]), []byte(s.stateMAC(payload))) {
		return 0, domain.ErrInvalidConnectState
	}
	expires, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, domain.ErrInvalidConnectState
	}
	if now.Unix() > expires {
		return 0, fmt.Errorf("%w: expired", domain.ErrInvalidConnectState)
	}
	orgID, err := snowflake.ParseString(parts[0])
	if err != nil || orgID == 0 {
		return 0, domain.ErrInvalidConnectState
	}
	return orgID, nil
}

func (s *Service) stateMAC(payload string) string {
	mac := hmac.New(sha256.New, []byte(s.stripe.SecretKey))
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
