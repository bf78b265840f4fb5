package server

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	orgdomain "github.com/smallbiznis/donorflow/internal/organization/domain"
	"github.com/smallbiznis/donorflow/internal/orgcontext"
	"go.uber.org/zap"
)

func (s *Server) GetStripeConnectStatus(c *gin.Context) {
	ctx := c.Request.Context()
	orgID, _ := orgcontext.OrgIDFromContext(ctx)

	resp, err := s.orgSvc.ConnectStatus(ctx, orgID.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) AuthorizeStripeConnect(c *gin.Context) {
	ctx := c.Request.Context()
	orgID, _ := orgcontext.OrgIDFromContext(ctx)

	resp, err := s.orgSvc.AuthorizeConnect(ctx, orgID.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DisconnectStripeConnect(c *gin.Context) {
	ctx := c.Request.Context()
	orgID, _ := orgcontext.OrgIDFromContext(ctx)

	resp, err := s.orgSvc.DisconnectConnect(ctx, orgID.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// HandleStripeConnectCallback is the OAuth redirect target. It is reached by
// the staff member's browser, so it is authenticated by the signed state
// rather than the staff token. With a return URL configured every outcome
// redirects back to the dashboard.
func (s *Server) HandleStripeConnectCallback(c *gin.Context) {
	cb := orgdomain.ConnectCallback{
		Code:             strings.TrimSpace(c.Query("code")),
		State:            strings.TrimSpace(c.Query("state")),
		Error:            strings.TrimSpace(c.Query("error")),
		ErrorDescription: strings.TrimSpace(c.Query("error_description")),
	}

	res, err := s.orgSvc.CompleteConnect(c.Request.Context(), cb)
	returnURL := strings.TrimSpace(s.cfg.Stripe.Connect.ReturnURL)
	if returnURL == "" {
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": res})
		return
	}

	q := url.Values{}
	switch {
	case err != nil:
		if !errors.Is(err, orgdomain.ErrInvalidConnectState) {
			s.log.Warn("stripe connect callback failed", zap.Error(err))
		}
		q.Set("stripe_error", "Connection failed. Please try again.")
	case res.Status == orgdomain.ConnectStatusError:
		q.Set("stripe_error", res.Error)
	default:
		q.Set("stripe_connected", "true")
		if res.Status == orgdomain.ConnectStatusPending {
			q.Set("stripe_pending", "true")
		}
	}
	c.Redirect(http.StatusFound, appendQuery(returnURL, q))
}

func appendQuery(base string, q url.Values) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	merged := u.Query()
	for k, vs := range q {
		for _, v := range vs {
			merged.Set(k, v)
		}
	}
	u.RawQuery = merged.Encode()
	return u.String()
}
