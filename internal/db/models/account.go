package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/pysugar/account-nexus/internal/account"
)

// Account stores one managed account with its credentials and last known
// usage. SortIndex preserves registry order.
type Account struct {
	ID        string `gorm:"primaryKey"` // UUID
	SortIndex int    `gorm:"index"`
	Email     string `gorm:"uniqueIndex"`
	Nickname  string
	Provider  string // BuilderId, Enterprise, Google, Github
	UserID    string

	AuthMethod   string // IdC or social
	AccessToken  string
	RefreshToken string
	ClientID     string
	ClientSecret string
	Region       string
	ProfileARN   string
	ExpiresAt    time.Time

	Subscription datatypes.JSONType[account.Subscription]
	Usage        datatypes.JSONType[account.Usage]

	Status        string
	LastError     string
	ErrorCategory string
	LastCheckedAt time.Time

	GroupID string
	TagIDs  datatypes.JSONSlice[string]

	IsActive   bool `gorm:"default:false"`
	CreatedAt  time.Time
	LastUsedAt time.Time
	UpdatedAt  time.Time
}

// Group is a named account bucket.
type Group struct {
	ID        string `gorm:"primaryKey"`
	Name      string
	Color     string
	SortOrder int
	CreatedAt time.Time
}

// Tag is an account label. SortIndex preserves creation order.
type Tag struct {
	ID        string `gorm:"primaryKey"`
	SortIndex int
	Name      string
	Color     string
}
