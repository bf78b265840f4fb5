package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/donorflow/internal/fraud/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type historyReader struct {
	db *gorm.DB
}

// NewHistoryReader reads prior donations through db.
func NewHistoryReader(db *gorm.DB) domain.HistoryReader {
	return &historyReader{db: db}
}

func (r *historyReader) CountContactSince(ctx context.Context, orgID, contactID snowflake.ID, since time.Time, statuses []string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM donations
		 WHERE org_id = ? AND contact_id = ? AND created_at >= ? AND status IN ?`,
		orgID, contactID, since, statuses,
	).Scan(&count).Error
	return count, err
}

func (r *historyReader) CountOrgSince(ctx context.Context, orgID snowflake.ID, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM donations WHERE org_id = ? AND created_at >= ?`,
		orgID, since,
	).Scan(&count).Error
	return count, err
}

func (r *historyReader) RecentCompleted(ctx context.Context, orgID, contactID snowflake.ID, limit int) ([]domain.PriorDonation, error) {
	var rows []domain.PriorDonation
	err := r.db.WithContext(ctx).Raw(
		`SELECT amount, fraud_score FROM donations
		 WHERE org_id = ? AND contact_id = ? AND status = 'completed'
		 ORDER BY donated_at DESC, id DESC
		 LIMIT ?`,
		orgID, contactID, limit,
	).Scan(&rows).Error
	return rows, err
}

func (r *historyReader) CountRefunded(ctx context.Context, orgID, contactID snowflake.ID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM donations WHERE org_id = ? AND contact_id = ? AND status = 'refunded'`,
		orgID, contactID,
	).Scan(&count).Error
	return count, err
}

func (r *historyReader) CountSameAmountSince(ctx context.Context, orgID, contactID snowflake.ID, amount int64, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM donations
		 WHERE org_id = ? AND contact_id = ? AND amount = ? AND created_at >= ?`,
		orgID, contactID, amount, since,
	).Scan(&count).Error
	return count, err
}

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

type statsRow struct {
	Total         int64
	Flagged       int64
	PendingReview int64
	Rejected      int64
	AverageScore  *float64
}

func (r *repo) Stats(ctx context.Context, db *gorm.DB, orgID snowflake.ID, since time.Time) (domain.Stats, error) {
	var row statsRow
	err := db.WithContext(ctx).Raw(
		`SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN fraud_score > 0 THEN 1 ELSE 0 END), 0) AS flagged,
			COALESCE(SUM(CASE WHEN review_status = 'pending_review' THEN 1 ELSE 0 END), 0) AS pending_review,
			COALESCE(SUM(CASE WHEN review_status = 'rejected' THEN 1 ELSE 0 END), 0) AS rejected,
			AVG(fraud_score * 1.0) AS average_score
		 FROM donations
		 WHERE org_id = ? AND created_at >= ?`,
		orgID, since,
	).Scan(&row).Error
	if err != nil {
		return domain.Stats{}, err
	}

	stats := domain.Stats{
		TotalDonations:   row.Total,
		FlaggedDonations: row.Flagged,
		PendingReview:    row.PendingReview,
		Rejected:         row.Rejected,
	}
	if row.AverageScore != nil {
		stats.AverageScore = *row.AverageScore
	}
	if row.Total > 0 {
		stats.FlaggedPercent = float64(row.Flagged) / float64(row.Total) * 100
	}
	return stats, nil
}

type flaggedRow struct {
	ID           snowflake.ID
	ContactID    snowflake.ID
	Amount       int64
	Currency     string
	FraudScore   int
	FraudFlags   datatypes.JSONSlice[string]
	ReviewStatus string
	CreatedAt    time.Time
}

func (r *repo) HighRisk(ctx context.Context, db *gorm.DB, orgID snowflake.ID, minScore, limit int) ([]domain.FlaggedDonation, error) {
	var rows []flaggedRow
	err := db.WithContext(ctx).Raw(
		`SELECT id, contact_id, amount, currency, fraud_score, fraud_flags, review_status, created_at
		 FROM donations
		 WHERE org_id = ? AND review_status IN ('pending_review', 'rejected') AND fraud_score >= ?
		 ORDER BY fraud_score DESC, created_at DESC, id DESC
		 LIMIT ?`,
		orgID, minScore, limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]domain.FlaggedDonation, 0, len(rows))
	for _, row := range rows {
		flags := []string(row.FraudFlags)
		if flags == nil {
			flags = []string{}
		}
		out = append(out, domain.FlaggedDonation{
			ID:           row.ID,
			ContactID:    row.ContactID,
			Amount:       row.Amount,
			Currency:     row.Currency,
			FraudScore:   row.FraudScore,
			FraudFlags:   flags,
			ReviewStatus: domain.ReviewStatus(row.ReviewStatus),
			CreatedAt:    row.CreatedAt,
		})
	}
	return out, nil
}
