package database

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// DB is the global database instance
var DB *gorm.DB

// Connect establishes the connection used by the Persistence Store
func Connect(dsn string, logLevel logger.LogLevel) error {
	db, err := Open(dsn, logLevel)
	if err != nil {
		return err
	}
	DB = db

	log.Println("Database connection established")
	return nil
}

// Open opens a gorm connection, choosing the dialect from the DSN.
// postgres:// and key=value DSNs use PostgreSQL; sqlite://, file: and :memory: use SQLite.
func Open(dsn string, logLevel logger.LogLevel) (*gorm.DB, error) {
	dialector, isSQLite, err := dialectorFor(dsn)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  logger.Default.LogMode(logLevel),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if isSQLite {
		// SQLite allows a single writer; one connection serializes transactions
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sqlite pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return db, nil
}

func dialectorFor(dsn string) (gorm.Dialector, bool, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"), strings.Contains(dsn, "host="):
		return postgres.Open(dsn), false, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return sqlite.Open(strings.TrimPrefix(dsn, "sqlite://")), true, nil
	case dsn == ":memory:", strings.HasPrefix(dsn, "file:"), strings.HasSuffix(dsn, ".db"), strings.HasSuffix(dsn, ".sqlite"):
		return sqlite.Open(dsn), true, nil
	default:
		return nil, false, fmt.Errorf("unsupported database DSN (expected postgres:// or sqlite://)")
	}
}

// AutoMigrate runs database migrations
func AutoMigrate(db *gorm.DB) error {
	log.Println("Running database migrations...")

	err := db.AutoMigrate(
		&CheckResultRecord{},
		&ViolationRecord{},
		&SLAStatus{},
		&DailyAggregate{},
		&AlertDedupState{},
		&AlertRateState{},
		&RegisteredContractRecord{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Println("Database migrations completed successfully")
	return nil
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}

// Close closes the database connection
func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Store is the Persistence Store. All methods are safe for concurrent use;
// single-row-per-key tables are only written inside transactions.
type Store struct {
	db *gorm.DB
}

// NewStore creates a store over db.
// Accepts the db explicitly for dependency injection and testing.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Ping reports whether the backend is reachable
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// forUpdate locks the selected row on backends that support row locks.
// SQLite serializes writers through its single connection instead.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}
