package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	contactdomain "github.com/smallbiznis/donorflow/internal/contact/domain"
	donationdomain "github.com/smallbiznis/donorflow/internal/donation/domain"
	newsletterdomain "github.com/smallbiznis/donorflow/internal/newsletter/domain"
	orgdomain "github.com/smallbiznis/donorflow/internal/organization/domain"
	paymentdomain "github.com/smallbiznis/donorflow/internal/payment/domain"
	"github.com/smallbiznis/donorflow/internal/ratelimit"
	"gorm.io/gorm"
)

const migrationsDir = "sql"

//go:embed sql/*.sql
var embeddedMigrations embed.FS

// Models lists every persisted type in dependency order.
func Models() []any {
	return []any{
		&orgdomain.Organization{},
		&orgdomain.Campaign{},
		&contactdomain.Contact{},
		&donationdomain.RecurringDonation{},
		&donationdomain.Donation{},
		&paymentdomain.EventRecord{},
		&ratelimit.RateWindowCounter{},
		&newsletterdomain.Subscriber{},
	}
}

// Apply migrates the schema of conn. Postgres runs the embedded SQL
// migrations; other dialects fall back to gorm AutoMigrate over the same
// models.
func Apply(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if conn.Dialector.Name() != "postgres" {
		if err := conn.AutoMigrate(Models()...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

// RunMigrations applies the embedded Postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}
