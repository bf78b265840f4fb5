package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	newsletterdomain "github.com/smallbiznis/donorflow/internal/newsletter/domain"
	"github.com/smallbiznis/donorflow/internal/ratelimit"
)

type newsletterSubscribeRequest struct {
	Email          string `json:"email"`
	Source         string `json:"source"`
	TurnstileToken string `json:"turnstileToken"`
	CaptchaToken   string `json:"captcha_token"`
}

func (s *Server) SubscribeNewsletter(c *gin.Context) {
	var req newsletterSubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	token := req.CaptchaToken
	if token == "" {
		token = req.TurnstileToken
	}

	ip := ratelimit.ClientIP(c.Request)
	res, err := s.newsletter.Subscribe(c.Request.Context(), newsletterdomain.SubscribeRequest{
		Email:          req.Email,
		Source:         req.Source,
		CaptchaToken:   token,
		CallerIdentity: ratelimit.IPIdentity(ip),
		RemoteIP:       ip,
		UserAgent:      c.GetHeader("User-Agent"),
		Referrer:       c.GetHeader("Referer"),
	})
	setRateHeaders(c, res.Decision)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": res.Message})
}

func (s *Server) ConfirmNewsletter(c *gin.Context) {
	sub, err := s.newsletter.Confirm(c.Request.Context(), c.Query("token"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"status": sub.Status}})
}

func (s *Server) UnsubscribeNewsletter(c *gin.Context) {
	sub, err := s.newsletter.Unsubscribe(c.Request.Context(), c.Query("token"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"status": sub.Status}})
}
