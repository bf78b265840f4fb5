package scorer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/donorflow/internal/clock"
	"github.com/smallbiznis/donorflow/internal/config"
	"github.com/smallbiznis/donorflow/internal/fraud/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var scoredAt = time.Date(2025, 4, 10, 15, 0, 0, 0, time.UTC)

type fakeHistory struct {
	contactCount int64
	orgCount     int64
	prior        []domain.PriorDonation
	refunds      int64
	sameAmount   int64
	err          error

	since    []time.Time
	statuses []string
}

func (f *fakeHistory) CountContactSince(_ context.Context, _, _ snowflake.ID, since time.Time, statuses []string) (int64, error) {
	f.since = append(f.since, since)
	f.statuses = statuses
	return f.contactCount, f.err
}

func (f *fakeHistory) CountOrgSince(_ context.Context, _ snowflake.ID, since time.Time) (int64, error) {
	f.since = append(f.since, since)
	return f.orgCount, nil
}

func (f *fakeHistory) RecentCompleted(context.Context, snowflake.ID, snowflake.ID, int) ([]domain.PriorDonation, error) {
	return f.prior, nil
}

func (f *fakeHistory) CountRefunded(context.Context, snowflake.ID, snowflake.ID) (int64, error) {
	return f.refunds, nil
}

func (f *fakeHistory) CountSameAmountSince(_ context.Context, _, _ snowflake.ID, _ int64, since time.Time) (int64, error) {
	f.since = append(f.since, since)
	return f.sameAmount, nil
}

func donationContext(amount int64, method string) domain.Context {
	return domain.Context{
		OrgID:          snowflake.ID(10),
		ContactID:      snowflake.ID(20),
		Amount:         amount,
		Currency:       "USD",
		Method:         method,
		CallerIdentity: "ip:198.51.100.4",
		At:             scoredAt,
	}
}

func tags(signals []domain.Signal) []string {
	out := make([]string, 0, len(signals))
	for _, s := range signals {
		out = append(out, s.Tag)
	}
	return out
}

func newTestScorer(h domain.HistoryReader, policy config.FraudPolicy) *Scorer {
	return NewScorer(h, config.NewStaticFraudPolicy(policy), clock.NewFakeClock(scoredAt), zap.NewNop())
}

func TestVerdictBoundaries(t *testing.T) {
	policy := config.DefaultFraudPolicy()
	cases := map[int]domain.ReviewStatus{
		0:   domain.ReviewApproved,
		39:  domain.ReviewApproved,
		40:  domain.ReviewPendingReview,
		69:  domain.ReviewPendingReview,
		70:  domain.ReviewRejected,
		100: domain.ReviewRejected,
	}
	for score, want := range cases {
		assert.Equal(t, want, Verdict(policy, score), "score %d", score)
	}
}

func TestAssessCapsScoreAndKeepsEveryFlag(t *testing.T) {
	policy := config.DefaultFraudPolicy()
	signals := []domain.Signal{
		{Tag: domain.TagExtremeVelocity, Weight: 30},
		{Tag: domain.TagPreviousFraud, Weight: 20},
		{Tag: domain.TagRefundHistory, Weight: 15},
		{Tag: domain.TagLargeAmount, Weight: 15},
		{Tag: domain.TagCryptoMethod, Weight: 15},
		{Tag: domain.TagDuplicateAmount, Weight: 10},
	}
	a := Assess(policy, signals)
	assert.Equal(t, 100, a.Score)
	assert.Equal(t, domain.ReviewRejected, a.ReviewStatus)
	assert.Equal(t, tags(signals), a.Flags)
	assert.Equal(t, Recommendation(domain.ReviewRejected), a.Recommendation)

	empty := Assess(policy, nil)
	assert.Equal(t, 0, empty.Score)
	assert.Empty(t, empty.Flags)
	assert.NotNil(t, empty.Signals)
	assert.Equal(t, domain.ReviewApproved, empty.ReviewStatus)
}

func TestCheckVelocityTiersAreExclusive(t *testing.T) {
	policy := config.DefaultFraudPolicy()
	cases := []struct {
		count int64
		want  []string
	}{
		{0, []string{}},
		{1, []string{}},
		{2, []string{domain.TagModerateVelocity}},
		{3, []string{domain.TagHighVelocity}},
		{4, []string{domain.TagHighVelocity}},
		{5, []string{domain.TagExtremeVelocity}},
		{12, []string{domain.TagExtremeVelocity}},
	}
	for _, tc := range cases {
		h := &fakeHistory{contactCount: tc.count}
		signals, err := CheckVelocity(context.Background(), policy, donationContext(2500, "card"), h)
		require.NoError(t, err)
		assert.Equal(t, tc.want, tags(signals), "count %d", tc.count)
	}

	h := &fakeHistory{}
	_, err := CheckVelocity(context.Background(), policy, donationContext(2500, "card"), h)
	require.NoError(t, err)
	assert.Equal(t, []string{"pending", "completed"}, h.statuses)
	require.Len(t, h.since, 2)
	assert.Equal(t, scoredAt.Add(-5*time.Minute), h.since[0])
	assert.Equal(t, scoredAt.Add(-time.Hour), h.since[1])
}

func TestCheckVelocityOrgSpikeStacksWithDonorTier(t *testing.T) {
	policy := config.DefaultFraudPolicy()
	h := &fakeHistory{contactCount: 3, orgCount: 50}
	signals, err := CheckVelocity(context.Background(), policy, donationContext(2500, "card"), h)
	require.NoError(t, err)
	assert.Equal(t, []string{domain.TagHighVelocity, domain.TagOrgVelocitySpike}, tags(signals))

	h.orgCount = 49
	signals, err = CheckVelocity(context.Background(), policy, donationContext(2500, "card"), h)
	require.NoError(t, err)
	assert.Equal(t, []string{domain.TagHighVelocity}, tags(signals))
}

func TestCheckContactHistory(t *testing.T) {
	policy := config.DefaultFraudPolicy()
	steady := []domain.PriorDonation{{Amount: 1000}, {Amount: 1000}, {Amount: 1000}}

	cases := []struct {
		name   string
		h      fakeHistory
		amount int64
		want   []string
	}{
		{"new donor", fakeHistory{}, 2500, []string{domain.TagNewDonor}},
		{"prior score at threshold is ignored", fakeHistory{prior: []domain.PriorDonation{{Amount: 2500, FraudScore: 40}}}, 2500, []string{}},
		{"prior high risk", fakeHistory{prior: []domain.PriorDonation{{Amount: 2500, FraudScore: 41}}}, 2500, []string{domain.TagPreviousFraud}},
		{"one refund", fakeHistory{prior: steady, refunds: 1}, 1000, []string{domain.TagSingleRefund}},
		{"two refunds", fakeHistory{prior: steady, refunds: 2}, 1000, []string{domain.TagRefundHistory}},
		{"exactly five times the mean", fakeHistory{prior: steady}, 5000, []string{}},
		{"spike over five times the mean", fakeHistory{prior: steady}, 5001, []string{domain.TagAmountSpike}},
		{"spike needs three priors", fakeHistory{prior: steady[:2]}, 50000, []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := tc.h
			signals, err := CheckContactHistory(context.Background(), policy, donationContext(tc.amount, "card"), &h)
			require.NoError(t, err)
			assert.Equal(t, tc.want, tags(signals))
		})
	}
}

func TestCheckAmountAnomaly(t *testing.T) {
	policy := config.DefaultFraudPolicy()
	cases := []struct {
		amount int64
		want   []string
	}{
		{2550, []string{}},
		{10_000, []string{domain.TagRoundAmount}},
		{100_000, []string{domain.TagRoundAmount}},
		{200_000, []string{}},
		{600, []string{domain.TagMinimumAmount}},
		{601, []string{domain.TagPennyTest}},
		{505, []string{domain.TagMinimumAmount, domain.TagPennyTest}},
		{999, []string{}},
		{1_000_000, []string{domain.TagLargeAmount}},
	}
	for _, tc := range cases {
		signals, err := CheckAmountAnomaly(context.Background(), policy, donationContext(tc.amount, "card"), nil)
		require.NoError(t, err)
		assert.Equal(t, tc.want, tags(signals), "amount %d", tc.amount)
	}
}

func TestCheckAmountAnomalyFollowsPlatformMinimum(t *testing.T) {
	policy := config.DefaultFraudPolicy()
	policy.PlatformMinimum = 1000

	for amount, want := range map[int64][]string{
		1000: {domain.TagMinimumAmount},
		1100: {domain.TagMinimumAmount},
		1150: {},
	} {
		signals, err := CheckAmountAnomaly(context.Background(), policy, donationContext(amount, "bank_transfer"), nil)
		require.NoError(t, err)
		assert.Equal(t, want, tags(signals), "amount %d", amount)
	}
}

func TestCheckPaymentMethod(t *testing.T) {
	policy := config.DefaultFraudPolicy()
	cases := map[string][]string{
		"card":          {domain.TagCardMethod},
		"CRYPTO":        {domain.TagCryptoMethod},
		"other":         {domain.TagUnknownMethod},
		"bank_transfer": {},
		"cash":          {},
	}
	for method, want := range cases {
		signals, err := CheckPaymentMethod(context.Background(), policy, donationContext(2500, method), nil)
		require.NoError(t, err)
		assert.Equal(t, want, tags(signals), method)
	}

	signals, err := CheckPaymentMethod(context.Background(), policy, donationContext(2500, "crypto"), nil)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, 15, signals[0].Weight)
}

func TestCheckDuplicateSubmission(t *testing.T) {
	policy := config.DefaultFraudPolicy()

	h := &fakeHistory{sameAmount: 1}
	signals, err := CheckDuplicateSubmission(context.Background(), policy, donationContext(2000, "card"), h)
	require.NoError(t, err)
	assert.Empty(t, signals)
	assert.Equal(t, []time.Time{scoredAt.Add(-10 * time.Minute)}, h.since)

	h.sameAmount = 2
	signals, err = CheckDuplicateSubmission(context.Background(), policy, donationContext(2000, "card"), h)
	require.NoError(t, err)
	assert.Equal(t, []string{domain.TagDuplicateAmount}, tags(signals))
}

func TestScoreRunsEveryCheckPastRejection(t *testing.T) {
	h := &fakeHistory{
		contactCount: 6,
		orgCount:     80,
		prior:        []domain.PriorDonation{{Amount: 100, FraudScore: 75}, {Amount: 100}, {Amount: 100}},
		refunds:      3,
		sameAmount:   4,
	}
	s := newTestScorer(h, config.DefaultFraudPolicy())

	a, err := s.Score(context.Background(), donationContext(1_000_000, "crypto"))
	require.NoError(t, err)
	assert.Equal(t, 100, a.Score)
	assert.Equal(t, domain.ReviewRejected, a.ReviewStatus)
	assert.Equal(t, []string{
		domain.TagExtremeVelocity,
		domain.TagOrgVelocitySpike,
		domain.TagPreviousFraud,
		domain.TagRefundHistory,
		domain.TagAmountSpike,
		domain.TagLargeAmount,
		domain.TagCryptoMethod,
		domain.TagDuplicateAmount,
	}, a.Flags)
}

func TestScoreIsDeterministic(t *testing.T) {
	h := &fakeHistory{contactCount: 2, prior: []domain.PriorDonation{{Amount: 2000}}, sameAmount: 2}
	s := newTestScorer(h, config.DefaultFraudPolicy())
	c := donationContext(2000, "card")

	first, err := s.Score(context.Background(), c)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := s.Score(context.Background(), c)
		require.NoError(t, err)
		assert.Equal(t, first.Score, again.Score)
		assert.Equal(t, first.Flags, again.Flags)
	}
	assert.Equal(t, 25, first.Score)
	assert.Equal(t, domain.ReviewApproved, first.ReviewStatus)
}

func TestScoreDefaultsTimestampToClock(t *testing.T) {
	h := &fakeHistory{}
	s := newTestScorer(h, config.DefaultFraudPolicy())
	c := donationContext(2500, "card")
	c.At = time.Time{}

	_, err := s.Score(context.Background(), c)
	require.NoError(t, err)
	require.NotEmpty(t, h.since)
	assert.Equal(t, scoredAt.Add(-5*time.Minute), h.since[0])
}

func TestScoreFailsWhenHistoryIsUnavailable(t *testing.T) {
	boom := errors.New("connection refused")
	ran := map[string]bool{}
	record := func(name string) Check {
		return func(context.Context, config.FraudPolicy, domain.Context, domain.HistoryReader) ([]domain.Signal, error) {
			ran[name] = true
			return nil, nil
		}
	}
	h := &fakeHistory{err: boom}
	s := NewScorer(h, config.NewStaticFraudPolicy(config.DefaultFraudPolicy()), clock.NewFakeClock(scoredAt), zap.NewNop(),
		record("before"), CheckVelocity, record("after"))

	_, err := s.Score(context.Background(), donationContext(2500, "card"))
	require.ErrorIs(t, err, boom)
	assert.True(t, ran["before"])
	assert.True(t, ran["after"])
}

func TestProcessorCleared(t *testing.T) {
	a := ProcessorCleared()
	assert.Equal(t, 0, a.Score)
	assert.Equal(t, domain.ReviewApproved, a.ReviewStatus)
	assert.Equal(t, []string{domain.TagProcessorCleared}, a.Flags)
}
