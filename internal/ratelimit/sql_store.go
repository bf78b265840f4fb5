package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/donorflow/internal/clock"
	"gorm.io/gorm"
)

// RateWindowCounter is one fixed window persisted in the relational store.
// Expiry is kept as unix milliseconds so every dialect compares integers.
type RateWindowCounter struct {
	CounterKey  string `gorm:"column:counter_key;primaryKey;size:255"`
	Count       int64  `gorm:"column:count;not null"`
	ExpiresAtMs int64  `gorm:"column:expires_at_ms;not null;index:idx_rate_window_counters_expiry"`
}

func (RateWindowCounter) TableName() string { return "rate_window_counters" }

// SQLStore keeps counters in a shared table. Rows past their expiry are
// treated as absent and removed by the Sweeper.
type SQLStore struct {
	db      *gorm.DB
	clock   clock.Clock
	dialect string
}

func NewSQLStore(db *gorm.DB, clk clock.Clock) *SQLStore {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &SQLStore{db: db, clock: clk, dialect: db.Dialector.Name()}
}

const upsertCounterSQL = `
INSERT INTO rate_window_counters (counter_key, count, expires_at_ms)
VALUES (?, 1, ?)
ON CONFLICT (counter_key) DO UPDATE SET
	count = CASE WHEN rate_window_counters.expires_at_ms <= ? THEN 1 ELSE rate_window_counters.count + 1 END,
	expires_at_ms = CASE WHEN rate_window_counters.expires_at_ms <= ? THEN excluded.expires_at_ms ELSE rate_window_counters.expires_at_ms END
RETURNING count, expires_at_ms`

const upsertCounterMySQL = `
INSERT INTO rate_window_counters (counter_key, count, expires_at_ms)
VALUES (?, 1, ?)
ON DUPLICATE KEY UPDATE
	count = IF(expires_at_ms <= ?, 1, count + 1),
	expires_at_ms = IF(expires_at_ms <= ?, VALUES(expires_at_ms), expires_at_ms)`

type counterRow struct {
	Count       int64
	ExpiresAtMs int64
}

func (s *SQLStore) Increment(ctx context.Context, key string, window time.Duration) (Counter, error) {
	if err := validateArgs(key, window); err != nil {
		return Counter{}, err
	}

	now := s.clock.Now()
	nowMs := now.UnixMilli()
	expiresAt := now.Add(window).UnixMilli()

	var row counterRow
	if s.dialect == "mysql" {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec(upsertCounterMySQL, key, expiresAt, nowMs, nowMs).Error; err != nil {
				return err
			}
			return tx.Raw(
				`SELECT count, expires_at_ms FROM rate_window_counters WHERE counter_key = ?`,
				key,
			).Scan(&row).Error
		})
		if err != nil {
			return Counter{}, err
		}
	} else {
		if err := s.db.WithContext(ctx).Raw(upsertCounterSQL, key, expiresAt, nowMs, nowMs).Scan(&row).Error; err != nil {
			return Counter{}, err
		}
	}

	if row.Count == 0 {
		return Counter{}, errors.New("rate window upsert returned no row")
	}
	return Counter{Count: row.Count, TTL: remaining(row.ExpiresAtMs, nowMs)}, nil
}

func (s *SQLStore) Peek(ctx context.Context, key string) (Counter, error) {
	if key == "" {
		return Counter{}, ErrEmptyKey
	}
	nowMs := s.clock.Now().UnixMilli()

	var row counterRow
	err := s.db.WithContext(ctx).Raw(
		`SELECT count, expires_at_ms FROM rate_window_counters WHERE counter_key = ? AND expires_at_ms > ?`,
		key, nowMs,
	).Scan(&row).Error
	if err != nil {
		return Counter{}, err
	}
	if row.Count == 0 {
		return Counter{}, nil
	}
	return Counter{Count: row.Count, TTL: remaining(row.ExpiresAtMs, nowMs)}, nil
}

func (s *SQLStore) Reset(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return s.db.WithContext(ctx).Exec(
		`DELETE FROM rate_window_counters WHERE counter_key = ?`, key,
	).Error
}

// DeleteExpired removes windows that ended before now and reports how many
// rows were dropped.
func (s *SQLStore) DeleteExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Exec(
		`DELETE FROM rate_window_counters WHERE expires_at_ms <= ?`,
		s.clock.Now().UnixMilli(),
	)
	return res.RowsAffected, res.Error
}

func remaining(expiresAtMs, nowMs int64) time.Duration {
	if expiresAtMs <= nowMs {
		return 0
	}
	return time.Duration(expiresAtMs-nowMs) * time.Millisecond
}
