package ratelimit

import (
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
)

func TestClientIPPrecedence(t *testing.T) {
	req := httptest.NewRequest("POST", "/public/orgs/1/donations", nil)
	req.RemoteAddr = "10.0.0.9:51234"
	assert.Equal(t, "10.0.0.9", ClientIP(req))

	req.Header.Set("X-Real-IP", "192.0.2.4")
	assert.Equal(t, "192.0.2.4", ClientIP(req))

	req.Header.Set("X-Forwarded-For", " 203.0.113.5 , 10.0.0.1")
	assert.Equal(t, "203.0.113.5", ClientIP(req))
}

func TestIdentityKeys(t *testing.T) {
	assert.Equal(t, "ip:203.0.113.5", IPIdentity("203.0.113.5"))
	assert.Equal(t, "org:42", OrgIdentity(snowflake.ID(42)))
	assert.Equal(t, "ratelimit:public_donation:ip:203.0.113.5", Key("public_donation", IPIdentity("203.0.113.5")))
}
