package infrastructure

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

const (
	connectAttempts = 5
	connectBackoff  = 5 * time.Second
)

// OpenDatabase connects to Postgres through lib/pq, retrying while the
// database container comes up, and wraps the pool in gorm.
func OpenDatabase(ctx context.Context, cfg Config, log *zap.Logger) (*gorm.DB, error) {
	log = log.Named("database")

	var (
		sqlDB *sql.DB
		err   error
	)
	for i := 1; i <= connectAttempts; i++ {
		sqlDB, err = sql.Open("postgres", cfg.PostgresDSN())
		if err == nil {
			err = sqlDB.PingContext(ctx)
			if err == nil {
				break
			}
			_ = sqlDB.Close()
		}
		log.Warn("database not reachable, retrying",
			zap.Int("attempt", i),
			zap.Int("max_attempts", connectAttempts),
			zap.Error(err),
		)
		if i == connectAttempts {
			return nil, fmt.Errorf("connect to postgres after %d attempts: %w", connectAttempts, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(connectBackoff):
		}
	}
	log.Info("connected to postgres", zap.String("host", cfg.DBHost), zap.String("database", cfg.DBName))

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("open gorm: %w", err)
	}
	return db, nil
}

// RunMigrations applies the embedded schema. The migrator is not closed
// because that would close the shared pool.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// PingDatabase is used by the health endpoint.
func PingDatabase(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
