package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/donorflow/internal/payment/domain"
	"go.uber.org/zap"
)

// Stripe caps event payloads well below this.
const maxWebhookBody = 1 << 20

// HandlePaymentWebhook verifies a processor event and hands it to the
// reconciler. Redelivered and ignored event types are acknowledged with 200 so
// the processor stops retrying them.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.ToLower(strings.TrimSpace(c.Param("provider")))
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil || len(payload) == 0 || len(payload) > maxWebhookBody {
		AbortWithError(c, invalidRequestError())
		return
	}

	err = s.paymentSvc.IngestWebhook(c.Request.Context(), provider, payload, c.Request.Header)
	switch {
	case err == nil:
	case errors.Is(err, paymentdomain.ErrEventAlreadyProcessed):
		s.log.Debug("webhook redelivered", zap.String("provider", provider))
	default:
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
