package database

import (
	"fmt"

	"github.com/Aidin1998/amlwatch/internal/config"
	"github.com/Aidin1998/amlwatch/pkg/metrics"
	"gorm.io/gorm"
)

// Open connects to the configured driver
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgresDB(cfg.DSN, cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLife)
	case "sqlite":
		return NewSQLiteDB(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// RecordPoolStats publishes connection pool gauges under the given label
func RecordPoolStats(db *gorm.DB, label string) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	stats := sqlDB.Stats()
	metrics.DBOpenConns.WithLabelValues(label).Set(float64(stats.OpenConnections))
	metrics.DBIdleConns.WithLabelValues(label).Set(float64(stats.Idle))
	metrics.DBInUseConns.WithLabelValues(label).Set(float64(stats.InUse))
}
