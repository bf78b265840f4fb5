package idempotency

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/smallbiznis/donorflow/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrConflict is returned when a key is reused for a different payload.
var ErrConflict = errors.New("idempotency_conflict")

// Reservation reports whether the insert claimed the key.
type Reservation struct {
	Reserved bool
}

// Reserver claims a key by inserting the row that carries it. The unique
// index on the key column is the only arbiter; a lookup beforehand is an
// optimisation for the common replay case.
type Reserver struct {
	Column string
}

func NewReserver(column string) *Reserver {
	return &Reserver{Column: column}
}

// Reserve inserts record inside a savepoint so a lost race leaves the
// surrounding transaction usable. Unique violations on other columns are
// returned unchanged.
func (r *Reserver) Reserve(ctx context.Context, tx *gorm.DB, record any) (Reservation, error) {
	err := tx.WithContext(ctx).Transaction(func(sp *gorm.DB) error {
		return sp.Create(record).Error
	})
	if err == nil {
		return Reservation{Reserved: true}, nil
	}
	if !db.IsUniqueViolation(err) {
		return Reservation{}, err
	}
	if db.ViolatesConstraint(err, r.Column) {
		return Reservation{Reserved: false}, nil
	}

	// The error does not say which index fired; ask the table.
	taken, lookupErr := r.taken(ctx, tx, record)
	if lookupErr != nil {
		return Reservation{}, errors.Join(err, lookupErr)
	}
	if taken {
		return Reservation{Reserved: false}, nil
	}
	return Reservation{}, err
}

func (r *Reserver) taken(ctx context.Context, tx *gorm.DB, record any) (bool, error) {
	stmt := &gorm.Statement{DB: tx}
	if err := stmt.Parse(record); err != nil {
		return false, err
	}
	field := stmt.Schema.LookUpField(r.Column)
	if field == nil {
		return false, fmt.Errorf("idempotency: %s has no column %q", stmt.Schema.Name, r.Column)
	}
	value, zero := field.ValueOf(ctx, reflect.Indirect(reflect.ValueOf(record)))
	if zero {
		return false, nil
	}

	var n int64
	err := tx.WithContext(ctx).
		Table(stmt.Schema.Table).
		Where(clause.Eq{Column: clause.Column{Name: field.DBName}, Value: value}).
		Count(&n).Error
	return n > 0, err
}
