package server

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"github.com/smallbiznis/donorflow/internal/config"
	obscontext "github.com/smallbiznis/donorflow/internal/observability/context"
	"github.com/smallbiznis/donorflow/internal/orgcontext"
	"github.com/smallbiznis/donorflow/internal/ratelimit"
)

const (
	HeaderOrg            = "X-Org-ID"
	HeaderIdempotencyKey = "Idempotency-Key"

	contextStaffKey = "staff"
)

// StaffAuth marks the request as a staff call. When STAFF_API_TOKEN is set
// the bearer token must match it.
func (s *Server) StaffAuth() gin.HandlerFunc {
	token := strings.TrimSpace(s.cfg.StaffAPIToken)
	return func(c *gin.Context) {
		if token != "" {
			got := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				AbortWithError(c, ErrUnauthorized)
				return
			}
		}
		c.Set(contextStaffKey, true)
		c.Next()
	}
}

// OrgContext resolves the active organization from X-Org-ID.
func OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, ok := orgcontext.ParseOrgID(c.GetHeader(HeaderOrg))
		if !ok {
			AbortWithError(c, ErrMissingOrg)
			return
		}
		ctx := orgcontext.WithOrgID(c.Request.Context(), orgID)
		ctx = obscontext.WithOrgID(ctx, orgID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// PublicOrgContext resolves the organization from the :org_id path segment.
// An unparseable id is a plain 404 so ids cannot be probed.
func PublicOrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, ok := orgcontext.ParseOrgID(c.Param("org_id"))
		if !ok {
			AbortWithError(c, ErrNotFound)
			return
		}
		ctx := orgcontext.WithOrgID(c.Request.Context(), orgID)
		ctx = obscontext.WithOrgID(ctx, orgID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// setRateHeaders is called on every response that went through a rate stage,
// success or not.
func setRateHeaders(c *gin.Context, d *ratelimit.Decision) {
	if d == nil || d.Policy == "" {
		return
	}
	c.Set("rate_policy", d.Policy)
	c.Header("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	if !d.ResetAt.IsZero() {
		c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
	if !d.Allowed {
		retry := int64(d.RetryAfter.Seconds())
		if retry < 1 {
			retry = 1
		}
		c.Header("Retry-After", strconv.FormatInt(retry, 10))
	}
}

// withPublicCORS lets embedded donation forms call /public from other
// origins. Staff routes never answer cross-origin preflights.
func withPublicCORS(cfg config.Config, next http.Handler) http.Handler {
	origins := cfg.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsed := cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", HeaderIdempotencyKey},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	})(next)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/public/") {
			corsed.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
