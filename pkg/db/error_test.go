package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

func TestIsUniqueViolation(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "gorm", err: fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), want: true},
		{name: "pgx", err: &pgconn.PgError{Code: "23505"}, want: true},
		{name: "pgx_other", err: &pgconn.PgError{Code: "23503"}, want: false},
		{name: "pq", err: &pq.Error{Code: "23505"}, want: true},
		{name: "mysql", err: &mysql.MySQLError{Number: 1062}, want: true},
		{name: "sqlite", err: errors.New("constraint failed: UNIQUE constraint failed: donations.idempotency_key (2067)"), want: true},
		{name: "other", err: errors.New("connection refused"), want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsUniqueViolation(tc.err); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestViolatesConstraint(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_donations_idempotency_key"}
	if !ViolatesConstraint(pgErr, "idempotency_key") {
		t.Fatalf("expected idempotency_key constraint match")
	}
	if ViolatesConstraint(pgErr, "transaction_id") {
		t.Fatalf("expected no transaction_id match")
	}

	sqliteErr := errors.New("UNIQUE constraint failed: donations.transaction_id")
	if !ViolatesConstraint(sqliteErr, "transaction_id") {
		t.Fatalf("expected sqlite column match")
	}
}

func TestGormConfigKeepsDriverErrors(t *testing.T) {
	// Translated errors lose the constraint name ViolatesConstraint needs.
	if GormConfig(nil).TranslateError {
		t.Fatalf("expected driver errors to be left untranslated")
	}

	myErr := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'k1' for key 'donations.ux_donations_idempotency_key'"}
	if !ViolatesConstraint(fmt.Errorf("create: %w", myErr), "idempotency_key") {
		t.Fatalf("expected mysql key match")
	}
}
