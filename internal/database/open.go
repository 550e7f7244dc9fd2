package database

import (
	"fmt"
	"strings"

	"github.com/D10S0VSkY-OSS/kiboserve/config"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	sqlite3 "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// =============================================================================
// 🔌 方言选择
// =============================================================================

// Dialector 根据驱动类型返回 GORM 方言
//
//	sqlite   纯 Go SQLite（默认，无需 cgo）
//	sqlite3  cgo SQLite（mattn/go-sqlite3，与 golang-migrate 共用驱动）
//	postgres PostgreSQL
//	mysql    MySQL
func Dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	dsn := cfg.DSN()
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return sqlite.Open(sqliteDSN(dsn, "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")), nil
	case "sqlite3":
		return sqlite3.Open(sqliteDSN(dsn, "_foreign_keys=on&_busy_timeout=5000")), nil
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: sqlite, sqlite3, postgres, mysql)", cfg.Driver)
	}
}

// sqliteDSN 为文件数据库追加驱动参数，内存库与已带参数的 DSN 保持原样
func sqliteDSN(name, params string) string {
	if name == "" || name == ":memory:" || strings.Contains(name, "?") {
		return name
	}
	return name + "?" + params
}

// Open 打开数据库并按配置初始化连接池
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Driver == "" {
		return nil, fmt.Errorf("database driver not configured")
	}

	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	logger.Info("database connected",
		zap.String("driver", cfg.Driver),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
	)
	return db, nil
}
