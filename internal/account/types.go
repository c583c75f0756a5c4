// Package account holds the in-memory source of truth for managed service
// accounts, their groups and tags, and which account is currently active.
package account

import (
	"slices"
	"time"
)

// RefreshThreshold is how close to expiry an access token must be before the
// scheduler refreshes it.
const RefreshThreshold = 5 * time.Minute

// IdentityProvider names the identity provider an account signed in with.
type IdentityProvider string

const (
	ProviderBuilderID  IdentityProvider = "BuilderId"
	ProviderEnterprise IdentityProvider = "Enterprise"
	ProviderGoogle     IdentityProvider = "Google"
	ProviderGithub     IdentityProvider = "Github"
)

// Valid reports whether p is one of the known providers.
func (p IdentityProvider) Valid() bool {
	switch p {
	case ProviderBuilderID, ProviderEnterprise, ProviderGoogle, ProviderGithub:
		return true
	}
	return false
}

// Status is the health state of an account.
type Status string

const (
	StatusActive     Status = "active"
	StatusExpired    Status = "expired"
	StatusError      Status = "error"
	StatusRefreshing Status = "refreshing"
	StatusUnknown    Status = "unknown"
)

// PlanType is the subscription tier reported by the service.
type PlanType string

const (
	PlanFree    PlanType = "Free"
	PlanPro     PlanType = "Pro"
	PlanProPlus PlanType = "ProPlus"
	PlanPower   PlanType = "Power"
	PlanUnknown PlanType = "Unknown"
)

// Subscription describes the plan an account is on.
type Subscription struct {
	Plan          PlanType   `json:"plan"`
	Title         string     `json:"title,omitempty"`
	RawType       string     `json:"raw_type,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	DaysRemaining *int       `json:"days_remaining,omitempty"`
}

// Quota is a current/limit pair.
type Quota struct {
	Current float64 `json:"current"`
	Limit   float64 `json:"limit"`
}

// TrialQuota is a quota with its own expiry.
type TrialQuota struct {
	Quota
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// BonusGrant is a named, separately expiring quota grant.
type BonusGrant struct {
	Name string `json:"name"`
	Quota
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Usage is the last known quota snapshot of an account.
type Usage struct {
	Current     float64      `json:"current"`
	Limit       float64      `json:"limit"`
	PercentUsed float64      `json:"percent_used"`
	Base        *Quota       `json:"base,omitempty"`
	Trial       *TrialQuota  `json:"trial,omitempty"`
	Bonuses     []BonusGrant `json:"bonuses,omitempty"`
	NextResetAt *time.Time   `json:"next_reset_at,omitempty"`
}

// Remaining is limit minus current usage.
func (u Usage) Remaining() float64 {
	return u.Limit - u.Current
}

// Account is one managed service account.
type Account struct {
	ID       string
	Email    string
	Nickname string
	Provider IdentityProvider
	UserID   string

	Credentials Credentials

	Subscription Subscription
	Usage        Usage

	Status        Status
	LastError     string
	ErrorCategory ErrorCategory
	LastCheckedAt time.Time

	GroupID string
	TagIDs  []string

	IsActive   bool
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// Clone returns a copy that shares no mutable state with a.
func (a Account) Clone() Account {
	a.TagIDs = slices.Clone(a.TagIDs)
	a.Usage.Bonuses = slices.Clone(a.Usage.Bonuses)
	return a
}

// ExpiresAt returns the access token expiry, zero when unknown.
func (a Account) ExpiresAt() time.Time {
	if a.Credentials == nil {
		return time.Time{}
	}
	return a.Credentials.Tokens().ExpiresAt
}

// NeedsRefresh reports whether the access token expires within RefreshThreshold.
// An unknown expiry never needs a refresh.
func (a Account) NeedsRefresh(now time.Time) bool {
	exp := a.ExpiresAt()
	if exp.IsZero() {
		return false
	}
	return exp.Sub(now) <= RefreshThreshold
}

// CanRefresh reports whether the account holds a refresh token.
func (a Account) CanRefresh() bool {
	return a.Credentials != nil && a.Credentials.Tokens().RefreshToken != ""
}

// Banned reports whether the last recorded failure was a ban or suspension.
func (a Account) Banned() bool {
	return a.ErrorCategory == CategoryBanned
}

// Remaining is the quota still available on the account.
func (a Account) Remaining() float64 {
	return a.Usage.Remaining()
}

// DisplayName prefers the nickname over the email.
func (a Account) DisplayName() string {
	if a.Nickname != "" {
		return a.Nickname
	}
	return a.Email
}

func (a Account) hasTag(tagID string) bool {
	return slices.Contains(a.TagIDs, tagID)
}

// Group is a named bucket accounts can belong to.
type Group struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color,omitempty"`
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"created_at"`
}

// Tag is a label accounts can carry.
type Tag struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// BatchResult counts outcomes of a multi-account operation.
type BatchResult struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}
