package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/gurukul/internal/courses"
	"github.com/MarcoPoloResearchLab/gurukul/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	// DriverSQLite selects the embedded pure-Go SQLite driver.
	DriverSQLite = "sqlite"
	// DriverPostgres selects PostgreSQL through pgx.
	DriverPostgres = "postgres"
)

var (
	errMissingPath = errors.New("database path is required")
	errMissingDSN  = errors.New("database dsn is required")
)

// Options selects and locates the backing database.
type Options struct {
	Driver string
	Path   string
	DSN    string
}

// Open connects to the configured database, migrates the schema and applies pending
// named migrations.
func Open(options Options, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dialector, err := dialectorFor(options)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         newGormLogger(logger),
	})
	if err != nil {
		return nil, err
	}

	if driverName(options.Driver) == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := migrateSchema(db); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	logger.Info("database initialized", zap.String("driver", driverName(options.Driver)))
	return db, nil
}

func migrateSchema(db *gorm.DB) error {
	return db.AutoMigrate(&users.Identity{}, &courses.Course{}, &migrationRecord{})
}

func dialectorFor(options Options) (gorm.Dialector, error) {
	switch driverName(options.Driver) {
	case DriverSQLite:
		path := strings.TrimSpace(options.Path)
		if path == "" {
			return nil, errMissingPath
		}
		return sqlite.Open(sqliteDSN(path)), nil
	case DriverPostgres:
		dsn := strings.TrimSpace(options.DSN)
		if dsn == "" {
			return nil, errMissingDSN
		}
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", options.Driver)
	}
}

func driverName(raw string) string {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return DriverSQLite
	}
	return normalized
}

// sqliteDSN enables foreign key enforcement so course rows cascade with their instructor.
func sqliteDSN(path string) string {
	if strings.Contains(path, "_pragma=foreign_keys") {
		return path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return path + separator + "_pragma=foreign_keys(1)"
}
