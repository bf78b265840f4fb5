package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRatePolicies(t *testing.T) {
	t.Setenv("RATE_LIMIT_FAIL_OPEN", "false")
	t.Setenv("RATE_LIMIT_PUBLIC_DONATION_MAX", "3")
	t.Setenv("RATE_LIMIT_PUBLIC_DONATION_WINDOW", "2m")
	t.Setenv("RATE_LIMIT_CHECKOUT_SESSION_FAIL_OPEN", "true")
	t.Setenv("DONATION_REJECTED_POLICY", "REFUSE")

	cfg := Load()

	public, ok := cfg.RateLimit.Policy(PolicyPublicDonation)
	require.True(t, ok)
	assert.Equal(t, int64(3), public.MaxRequests)
	assert.Equal(t, 2*time.Minute, public.Window)
	assert.False(t, public.FailOpen)

	checkout, ok := cfg.RateLimit.Policy(PolicyCheckoutSession)
	require.True(t, ok)
	assert.Equal(t, int64(5), checkout.MaxRequests)
	assert.Equal(t, 15*time.Minute, checkout.Window)
	assert.True(t, checkout.FailOpen)

	assert.Equal(t, RejectedPolicyRefuse, cfg.Donation.RejectedPolicy)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("RATE_LIMIT_STAFF_DONATION_MAX", "lots")
	t.Setenv("RATE_LIMIT_STAFF_DONATION_WINDOW", "-1s")
	t.Setenv("DONATION_REJECTED_POLICY", "whatever")

	cfg := Load()

	staff, _ := cfg.RateLimit.Policy(PolicyStaffDonation)
	assert.Equal(t, int64(100), staff.MaxRequests)
	assert.Equal(t, time.Minute, staff.Window)
	assert.Equal(t, RejectedPolicyAudit, cfg.Donation.RejectedPolicy)
}

func TestDecodeFraudPolicyOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fraud.yml")
	content := []byte(`fraud:
  reviewThreshold: 30
  velocity:
    contactWindow: 2m
  methods:
    wallet: 7
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	policy, err := decodeFraudPolicy(v, 0)
	require.NoError(t, err)

	assert.Equal(t, 30, policy.ReviewThreshold)
	assert.Equal(t, int64(500), policy.PlatformMinimum)
	assert.Equal(t, 70, policy.RejectThreshold)
	assert.Equal(t, 2*time.Minute, policy.Velocity.ContactWindow)
	assert.Equal(t, int64(5), policy.Velocity.ExtremeCount)
	assert.Equal(t, 7, policy.MethodPoints("wallet"))
	assert.Equal(t, 15, policy.MethodPoints("CRYPTO"))
}

func TestDecodeFraudPolicyRejectsInvertedThresholds(t *testing.T) {
	v := viper.New()
	v.Set("fraud.reviewThreshold", 80)
	v.Set("fraud.rejectThreshold", 60)

	_, err := decodeFraudPolicy(v, 500)
	assert.Error(t, err)
}

func TestFraudPolicyTracksDonationMinimum(t *testing.T) {
	v := viper.New()
	v.Set("fraud.amount.minimum", 200)
	v.Set("fraud.amount.minimumEpsilon", 50)

	policy, err := decodeFraudPolicy(v, 1000)
	require.NoError(t, err)

	assert.Equal(t, int64(1000), policy.PlatformMinimum)
	assert.Equal(t, int64(50), policy.Amount.MinimumEpsilon)
}
