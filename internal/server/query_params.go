package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	donationdomain "github.com/smallbiznis/donorflow/internal/donation/domain"
)

// queryInt reads a non-negative integer query parameter. A missing value is
// zero and lets the service apply its default.
func queryInt(c *gin.Context, key string) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, newValidationError(key, "invalid_"+key, "invalid "+key)
	}
	return n, nil
}

// parseDonatedAt accepts RFC3339 or a bare date, which is read as midnight
// UTC. An empty value means the admission time.
func parseDonatedAt(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, raw, time.UTC); err == nil {
		return &t, nil
	}
	return nil, donationdomain.ErrInvalidDonatedAt
}
