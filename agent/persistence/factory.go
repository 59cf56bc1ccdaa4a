package persistence

import (
	"fmt"

	"gorm.io/gorm"
)

// NewSessionStore creates a SessionStore based on the configuration.
// db is only required for StoreTypeDatabase.
func NewSessionStore(config StoreConfig, db *gorm.DB) (SessionStore, error) {
	switch config.Type {
	case StoreTypeMemory, "":
		return NewMemorySessionStore(), nil
	case StoreTypeFile:
		return NewFileSessionStore(config)
	case StoreTypeRedis:
		return NewRedisSessionStore(config)
	case StoreTypeDatabase:
		return NewGormSessionStore(db)
	default:
		return nil, fmt.Errorf("unsupported session store type: %s", config.Type)
	}
}
