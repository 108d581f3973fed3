// Package gorm opens GORM database connections. Dialects register themselves
// from their subpackages; import the ones the binary should support.
package gorm

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/tigerroll/cirrusbatch/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/cirrusbatch/pkg/batch/adapter/database/config"
	config "github.com/tigerroll/cirrusbatch/pkg/batch/core/config"
	logger "github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
)

// DialectorFactory generates a gorm.Dialector from a dbconfig.DatabaseConfig.
type DialectorFactory func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error)

var (
	dialectorRegistry = make(map[string]DialectorFactory)
	dialectorMutex    sync.RWMutex
)

// RegisterDialector registers a DialectorFactory for the given database type.
func RegisterDialector(dbType string, factory DialectorFactory) {
	dialectorMutex.Lock()
	defer dialectorMutex.Unlock()
	if _, exists := dialectorRegistry[dbType]; exists {
		logger.Warnf("Dialector for type '%s' already registered. Overwriting.", dbType)
	}
	dialectorRegistry[dbType] = factory
}

// GetDialectorFactory retrieves the DialectorFactory corresponding to the specified DB type.
func GetDialectorFactory(dbType string) (DialectorFactory, error) {
	dialectorMutex.RLock()
	defer dialectorMutex.RUnlock()
	factory, ok := dialectorRegistry[dbType]
	if !ok {
		return nil, fmt.Errorf("no dialector registered for database type: %s", dbType)
	}
	return factory, nil
}

// Open establishes a connection called name from cfg and applies its pool settings.
func Open(name string, cfg dbconfig.DatabaseConfig) (database.DBConnection, error) {
	factory, err := GetDialectorFactory(cfg.Type)
	if err != nil {
		return nil, err
	}
	dialector, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create dialector for %s: %w", cfg.Type, err)
	}
	return OpenDialector(name, cfg, dialector)
}

// OpenDialector establishes a connection over an existing dialector.
func OpenDialector(name string, cfg dbconfig.DatabaseConfig, dialector gorm.Dialector) (database.DBConnection, error) {
	db, err := gorm.Open(dialector, &gorm.Config{Logger: NewGormLogger(logger.GetLogLevel().String())})
	if err != nil {
		return nil, fmt.Errorf("failed to open GORM connection '%s': %w", name, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if cfg.Pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.Pool.MaxOpenConns)
	}
	if cfg.Pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.Pool.MaxIdleConns)
	}
	if cfg.Pool.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.Pool.ConnMaxLifetimeMinutes) * time.Minute)
	}
	logger.Infof("Established new DB connection: %s (%s)", name, cfg.Type)
	return &gormConnection{db: db, cfg: cfg, name: name}, nil
}

type gormConnection struct {
	db   *gorm.DB
	cfg  dbconfig.DatabaseConfig
	name string
}

var _ database.DBConnection = (*gormConnection)(nil)

func (c *gormConnection) DB() *gorm.DB { return c.db }

func (c *gormConnection) GetSQLDB() (*sql.DB, error) { return c.db.DB() }

func (c *gormConnection) Config() dbconfig.DatabaseConfig { return c.cfg }

func (c *gormConnection) Type() string { return c.cfg.Type }

func (c *gormConnection) Name() string { return c.name }

func (c *gormConnection) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// NewGormLogger creates a gorm logger at the level matching the application logger.
// Statements are logged at DEBUG only.
func NewGormLogger(level string) gorm_logger.Interface {
	var gormLevel gorm_logger.LogLevel
	switch config.LogLevel(strings.ToUpper(level)) {
	case config.LogLevelDebug:
		gormLevel = gorm_logger.Info
	case config.LogLevelInfo, config.LogLevelWarn:
		gormLevel = gorm_logger.Warn
	case config.LogLevelError, config.LogLevelFatal:
		gormLevel = gorm_logger.Error
	default:
		gormLevel = gorm_logger.Silent
	}
	return gorm_logger.New(
		NewGormWriter(),
		gorm_logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// GormWriter redirects GORM log output to the application logger.
type GormWriter struct{}

// NewGormWriter creates a new instance of GormWriter.
func NewGormWriter() *GormWriter {
	return &GormWriter{}
}

// Printf implements the gorm logger Writer interface. SQL traces go to
// DEBUG, everything else to WARN.
func (w *GormWriter) Printf(format string, v ...interface{}) {
	msg := strings.TrimSpace(fmt.Sprintf(format, v...))
	if isStatement(msg) {
		logger.Debugf("[GORM] %s", msg)
		return
	}
	logger.Warnf("[GORM] %s", msg)
}

func isStatement(msg string) bool {
	if !strings.Contains(msg, "[") || !strings.Contains(msg, "]") {
		return false
	}
	for _, verb := range []string{"SELECT", "INSERT", "UPDATE", "DELETE"} {
		if strings.Contains(msg, verb) {
			return true
		}
	}
	return false
}
