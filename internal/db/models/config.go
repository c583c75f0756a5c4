package models

import "time"

// Config stores scalar application state like the API key, the active
// account id and runtime settings
type Config struct {
	Key       string `gorm:"primaryKey"` // Config key name
	Value     string // Config value
	CreatedAt time.Time
	UpdatedAt time.Time
}
