package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/donorflow/internal/captcha"
	checkoutdomain "github.com/smallbiznis/donorflow/internal/checkout/domain"
	contactdomain "github.com/smallbiznis/donorflow/internal/contact/domain"
	donationdomain "github.com/smallbiznis/donorflow/internal/donation/domain"
	fraud "github.com/smallbiznis/donorflow/internal/fraud/domain"
	"github.com/smallbiznis/donorflow/internal/idempotency"
	newsletterdomain "github.com/smallbiznis/donorflow/internal/newsletter/domain"
	orgdomain "github.com/smallbiznis/donorflow/internal/organization/domain"
	paymentdomain "github.com/smallbiznis/donorflow/internal/payment/domain"
	"github.com/smallbiznis/donorflow/internal/ratelimit"
	"github.com/smallbiznis/donorflow/pkg/db/pagination"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`

	// FraudScore is only ever set for staff callers.
	FraudScore *int     `json:"fraud_score,omitempty"`
	Flags      []string `json:"fraud_flags,omitempty"`
	RetryAfter *int64   `json:"retry_after,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrMissingOrg         = errors.New("missing_organization")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		var denied *ratelimit.DeniedError
		if errors.As(lastErr.Err, &denied) {
			setRateHeaders(c, &denied.Decision)
		}

		status, payload := mapError(lastErr.Err, c.GetBool(contextStaffKey))
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// mapError turns a domain error into a status and envelope. Risk details of
// a high-risk refusal are withheld unless staff is true.
func mapError(err error, staff bool) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var denied *ratelimit.DeniedError
	if errors.As(err, &denied) {
		retry := int64(denied.Decision.RetryAfter.Seconds())
		if retry < 1 {
			retry = 1
		}
		return http.StatusTooManyRequests, errorPayload{
			Type:       "rate_limited",
			Message:    "too many requests",
			RetryAfter: &retry,
		}
	}

	var highRisk *fraud.HighRiskError
	if errors.As(err, &highRisk) {
		payload := errorPayload{
			Type:    "high_risk",
			Message: "donation could not be accepted, please contact the organization",
		}
		if staff {
			score := highRisk.Assessment.Score
			payload.FraudScore = &score
			payload.Flags = highRisk.Assessment.Flags
		}
		return http.StatusForbidden, payload
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrMissingOrg),
		errors.Is(err, donationdomain.ErrInvalidOrganization),
		errors.Is(err, contactdomain.ErrInvalidOrganization),
		errors.Is(err, fraud.ErrInvalidOrganization):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, contactdomain.ErrCrossTenant),
		errors.Is(err, orgdomain.ErrCampaignClosed):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, checkoutdomain.ErrPlanNotPermitted):
		return http.StatusForbidden, errorPayload{
			Type:    "plan_not_permitted",
			Message: "online donations are not available on this plan",
		}
	case errors.Is(err, orgdomain.ErrConnectPlanRequired):
		return http.StatusForbidden, errorPayload{
			Type:    "plan_not_permitted",
			Message: "connecting a payment account requires a paid plan",
		}
	case errors.Is(err, checkoutdomain.ErrAccountNotConnected):
		return http.StatusForbidden, errorPayload{
			Type:    "account_not_connected",
			Message: "the organization has not connected a payment account",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, idempotency.ErrConflict):
		return http.StatusConflict, errorPayload{
			Type:    "idempotency_conflict",
			Message: "idempotency key was used for a different request",
		}
	case errors.Is(err, donationdomain.ErrDuplicateTransaction):
		return http.StatusConflict, errorPayload{
			Type:    "duplicate_transaction",
			Message: "transaction already recorded",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, checkoutdomain.ErrProcessorFailed),
		errors.Is(err, orgdomain.ErrConnectFailed):
		return http.StatusBadGateway, errorPayload{
			Type:    "processor_error",
			Message: "payment processor error",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, donationdomain.ErrCaptchaUnavailable),
		errors.Is(err, captcha.ErrNotConfigured),
		errors.Is(err, checkoutdomain.ErrNotConfigured),
		errors.Is(err, orgdomain.ErrConnectNotConfigured),
		errors.Is(err, paymentdomain.ErrProviderNotConfigured),
		errors.Is(err, ratelimit.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger. The code never carries
// request data.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err, false)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	if status >= http.StatusInternalServerError {
		return "server_error", code
	}
	return "client_error", code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return true
	case isDonationValidationError(err),
		isContactValidationError(err),
		isOrganizationValidationError(err),
		isNewsletterValidationError(err),
		isWebhookValidationError(err):
		return true
	case errors.Is(err, checkoutdomain.ErrInvalidInterval),
		errors.Is(err, fraud.ErrInvalidWindow),
		errors.Is(err, fraud.ErrInvalidReviewStatus),
		errors.Is(err, idempotency.ErrEmptyClientKey),
		errors.Is(err, idempotency.ErrClientKeyTooLong),
		errors.Is(err, pagination.ErrInvalidPageToken):
		return true
	default:
		return false
	}
}

func isDonationValidationError(err error) bool {
	switch {
	case errors.Is(err, donationdomain.ErrInvalidChannel),
		errors.Is(err, donationdomain.ErrInvalidAmount),
		errors.Is(err, donationdomain.ErrBelowMinimum),
		errors.Is(err, donationdomain.ErrInvalidCurrency),
		errors.Is(err, donationdomain.ErrInvalidMethod),
		errors.Is(err, donationdomain.ErrInvalidType),
		errors.Is(err, donationdomain.ErrInvalidStatus),
		errors.Is(err, donationdomain.ErrInvalidCampaign),
		errors.Is(err, donationdomain.ErrInvalidDonatedAt),
		errors.Is(err, donationdomain.ErrInvalidID),
		errors.Is(err, donationdomain.ErrMissingContact),
		errors.Is(err, donationdomain.ErrInvalidDonor),
		errors.Is(err, donationdomain.ErrInvalidTransaction),
		errors.Is(err, donationdomain.ErrFieldTooLong),
		errors.Is(err, donationdomain.ErrCaptchaRequired),
		errors.Is(err, donationdomain.ErrCaptchaFailed):
		return true
	default:
		return false
	}
}

func isContactValidationError(err error) bool {
	return errors.Is(err, contactdomain.ErrInvalidName) ||
		errors.Is(err, contactdomain.ErrInvalidEmail) ||
		errors.Is(err, contactdomain.ErrInvalidID)
}

func isOrganizationValidationError(err error) bool {
	return errors.Is(err, orgdomain.ErrInvalidName) ||
		errors.Is(err, orgdomain.ErrInvalidOrganization) ||
		errors.Is(err, orgdomain.ErrInvalidCampaign) ||
		errors.Is(err, orgdomain.ErrInvalidConnectState) ||
		errors.Is(err, orgdomain.ErrInvalidConnectCode) ||
		errors.Is(err, orgdomain.ErrConnectNotLinked)
}

func isNewsletterValidationError(err error) bool {
	return errors.Is(err, newsletterdomain.ErrInvalidEmail) ||
		errors.Is(err, newsletterdomain.ErrInvalidSource) ||
		errors.Is(err, newsletterdomain.ErrInvalidToken) ||
		errors.Is(err, newsletterdomain.ErrCaptchaFailed)
}

// Webhook rejections are 400 so the processor surfaces them instead of
// retrying forever.
func isWebhookValidationError(err error) bool {
	return errors.Is(err, paymentdomain.ErrInvalidProvider) ||
		errors.Is(err, paymentdomain.ErrInvalidPayload) ||
		errors.Is(err, paymentdomain.ErrInvalidSignature) ||
		errors.Is(err, paymentdomain.ErrInvalidEvent) ||
		errors.Is(err, paymentdomain.ErrInvalidAmount) ||
		errors.Is(err, paymentdomain.ErrInvalidCurrency)
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, donationdomain.ErrNotFound),
		errors.Is(err, contactdomain.ErrNotFound),
		errors.Is(err, orgdomain.ErrNotFound),
		errors.Is(err, orgdomain.ErrCampaignNotFound),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, ratelimit.ErrUnknownPolicy),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return rootCode(err)
	}
}

// rootCode strips wrapping context such as "invalid_signature: bad v1" down
// to the sentinel code.
func rootCode(err error) string {
	code, _, _ := strings.Cut(err.Error(), ":")
	return strings.TrimSpace(code)
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	switch code {
	case "amount_below_minimum":
		return "amount"
	case "missing_contact":
		return "contact_id"
	case "captcha_required", "captcha_failed":
		return "captcha_token"
	case "idempotency_key_empty", "idempotency_key_too_long":
		return "idempotency_key"
	case "connect_not_linked":
		return "stripe_account"
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "amount_below_minimum":
		return "amount is below the minimum donation"
	case "missing_contact":
		return "contact is required"
	case "captcha_required":
		return "captcha token is required"
	case "captcha_failed":
		return "captcha verification failed"
	case "connect_not_linked":
		return "no payment account is connected"
	default:
		return "invalid value"
	}
}
