package database

import (
	"context"
	"fmt"
	"time"

	"github.com/netscope/scancollab/internal/slogging"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DatabaseType represents the type of SQL database behind the scan store
type DatabaseType string

const (
	DatabaseTypePostgres  DatabaseType = "postgres"
	DatabaseTypeMySQL     DatabaseType = "mysql"
	DatabaseTypeSQLServer DatabaseType = "sqlserver"
	DatabaseTypeSQLite    DatabaseType = "sqlite"
)

// GormConfig holds the configuration for a GORM connection
type GormConfig struct {
	Type            DatabaseType
	DSN             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	// TracerProvider enables otelgorm spans when set
	TracerProvider trace.TracerProvider
}

// Dialector returns the GORM dialector for cfg
func Dialector(cfg GormConfig) (gorm.Dialector, error) {
	switch cfg.Type {
	case DatabaseTypePostgres:
		return postgres.Open(cfg.DSN), nil
	case DatabaseTypeMySQL:
		// parseTime=true is required for time.Time scanning
		return mysql.Open(cfg.DSN), nil
	case DatabaseTypeSQLServer:
		return sqlserver.Open(cfg.DSN), nil
	case DatabaseTypeSQLite:
		return sqlite.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}

// OpenGorm opens, tunes and pings a GORM connection
func OpenGorm(ctx context.Context, cfg GormConfig) (*gorm.DB, error) {
	log := slogging.Get()
	log.Debug("Initializing GORM connection for database type: %s", cfg.Type)

	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, NewGormConfig(log))
	if err != nil {
		log.Error("Failed to open GORM connection: %v", err)
		return nil, fmt.Errorf("failed to open gorm connection: %w", err)
	}

	if cfg.TracerProvider != nil {
		if err := db.Use(otelgorm.NewPlugin(
			otelgorm.WithTracerProvider(cfg.TracerProvider),
			otelgorm.WithoutQueryVariables(),
		)); err != nil {
			return nil, fmt.Errorf("failed to install otelgorm plugin: %w", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 4 * time.Minute
	}
	idleTime := 30 * time.Second
	// sqlite in-memory databases live and die with their single connection
	if cfg.Type == DatabaseTypeSQLite {
		maxOpen = 1
		lifetime = 0
		idleTime = 0
	}
	log.Debug("Setting GORM connection pool parameters: maxOpen=%d, maxLifetime=%s", maxOpen, lifetime)
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(lifetime)
	sqlDB.SetConnMaxIdleTime(idleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		log.Error("Failed to ping database: %v", err)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Debug("GORM connection established successfully")
	return db, nil
}

// NewGormConfig returns the gorm.Config shared by every dialector
func NewGormConfig(log *slogging.Logger) *gorm.Config {
	return &gorm.Config{
		Logger: newGormLogger(log),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// CloseGorm closes the pool behind db
func CloseGorm(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("error closing database connection: %w", err)
	}
	return nil
}

// gormLogger adapts slogging to GORM's logger interface
type gormLogger struct {
	log *slogging.Logger
}

func newGormLogger(log *slogging.Logger) logger.Interface {
	return &gormLogger{log: log}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	return l
}

func (l *gormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.log.Info(msg, data...)
}

func (l *gormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.log.Warn(msg, data...)
}

func (l *gormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.log.Error(msg, data...)
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if err == nil && !l.log.IsDebugEnabled() {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()

	if err != nil && err != gorm.ErrRecordNotFound {
		l.log.Error("GORM query error: %v [%s] (%d rows, %s)", err, sql, rows, elapsed)
	} else {
		l.log.Debug("GORM query: %s (%d rows, %s)", sql, rows, elapsed)
	}
}
