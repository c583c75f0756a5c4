// Package db persists nexus snapshots in SQLite through gorm.
package db

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pysugar/account-nexus/internal/db/models"
)

const apiKeyKey = "api_key"

// InitDB initializes the SQLite database connection and runs migrations.
func InitDB(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", dbPath, err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	if _, err := ensureAPIKey(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates every table.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Account{},
		&models.Group{},
		&models.Tag{},
		&models.Config{},
		&models.IdentityBinding{},
		&models.IdentityHistory{},
	)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// ensureAPIKey generates the admin API key on first run.
func ensureAPIKey(db *gorm.DB) (string, error) {
	key, err := GetAPIKey(db)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}
	key = newAPIKey()
	if err := db.Create(&models.Config{Key: apiKeyKey, Value: key}).Error; err != nil {
		return "", fmt.Errorf("store api key: %w", err)
	}
	log.Info().Str("api_key", key).Msg("🔑 Generated new admin API key")
	return key, nil
}

// GetAPIKey retrieves the admin API key.
func GetAPIKey(db *gorm.DB) (string, error) {
	var cfg models.Config
	if err := db.Where("key = ?", apiKeyKey).First(&cfg).Error; err != nil {
		return "", err
	}
	return cfg.Value, nil
}

// RegenerateAPIKey replaces the admin API key.
func RegenerateAPIKey(db *gorm.DB) (string, error) {
	key := newAPIKey()
	if err := putConfig(db, apiKeyKey, key); err != nil {
		return "", err
	}
	log.Info().Msg("🔑 Regenerated admin API key")
	return key, nil
}

// newAPIKey returns nx-<32 hex chars>.
func newAPIKey() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return "nx-" + hex.EncodeToString(b)
}
