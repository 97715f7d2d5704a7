package store

import (
	"fmt"
	"path/filepath"

	"gorm.io/gorm"

	"cosyvoice-gateway/internal/platform/config"
)

// Driver identifiers supported by the voice domain.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Dependencies captures external handles required by certain drivers.
type Dependencies struct {
	SQLiteDB *gorm.DB
	// VoicesDir anchors the file driver's manifest location.
	VoicesDir string
}

// New creates a voice store based on the provided configuration.
func New(cfg config.StoreConfig, deps Dependencies) (Store, error) {
	driver := cfg.Type
	if driver == "" {
		driver = DriverFile
	}

	switch driver {
	case DriverMemory:
		return NewMemory(), nil
	case DriverFile:
		return NewFile(filepath.Join(deps.VoicesDir, "voices.json"))
	case DriverSQLite:
		if deps.SQLiteDB == nil {
			return nil, fmt.Errorf("sqlite driver requires database handle")
		}
		return NewSQLite(deps.SQLiteDB)
	case DriverRedis:
		return NewRedis(RedisOptions{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
	default:
		return nil, fmt.Errorf("unsupported voice store driver: %s", driver)
	}
}
