package models

import "time"

// IdentityBinding maps an account to the machine identity bound to it.
type IdentityBinding struct {
	AccountID string `gorm:"primaryKey"`
	Identity  string
}

// IdentityHistory is one entry of the append-only identity log. Seq keeps
// insertion order when timestamps tie.
type IdentityHistory struct {
	ID        string `gorm:"primaryKey"`
	Seq       int    `gorm:"index"`
	Identity  string
	Timestamp time.Time
	Action    string
	AccountID string
	Email     string
}
