package credential

import (
	"math"
	"strings"
	"time"

	"github.com/pysugar/account-nexus/internal/account"
)

// usageResponse is the wire shape of the usage-limits endpoint. Timestamps
// are epoch seconds.
type usageResponse struct {
	UsageBreakdownList []usageBreakdown `json:"usageBreakdownList"`
	NextDateReset      float64          `json:"nextDateReset"`
	SubscriptionInfo   struct {
		SubscriptionTitle string  `json:"subscriptionTitle"`
		Type              string  `json:"type"`
		ExpiresAt         float64 `json:"expiresAt"`
	} `json:"subscriptionInfo"`
	UserInfo struct {
		Email  string `json:"email"`
		UserID string `json:"userId"`
	} `json:"userInfo"`
}

type usageBreakdown struct {
	ResourceType  string  `json:"resourceType"`
	CurrentUsage  float64 `json:"currentUsageWithPrecision"`
	UsageLimit    float64 `json:"usageLimitWithPrecision"`
	FreeTrialInfo *struct {
		CurrentUsage    float64 `json:"currentUsageWithPrecision"`
		UsageLimit      float64 `json:"usageLimitWithPrecision"`
		FreeTrialExpiry float64 `json:"freeTrialExpiry"`
		FreeTrialStatus string  `json:"freeTrialStatus"`
	} `json:"freeTrialInfo"`
	Bonuses []struct {
		BonusCode    string  `json:"bonusCode"`
		DisplayName  string  `json:"displayName"`
		CurrentUsage float64 `json:"currentUsage"`
		UsageLimit   float64 `json:"usageLimit"`
		ExpiresAt    float64 `json:"expiresAt"`
	} `json:"bonuses"`
}

func epoch(v float64) *time.Time {
	if v <= 0 {
		return nil
	}
	sec, frac := math.Modf(v)
	t := time.Unix(int64(sec), int64(frac*1e9)).UTC()
	return &t
}

func (r usageResponse) toProbe() *ProbeResult {
	res := &ProbeResult{
		Status: account.StatusActive,
		UserInfo: UserInfo{
			Email:  r.UserInfo.Email,
			UserID: r.UserInfo.UserID,
		},
		Subscription: account.Subscription{
			Plan:      planOf(r.SubscriptionInfo.Type, r.SubscriptionInfo.SubscriptionTitle),
			Title:     r.SubscriptionInfo.SubscriptionTitle,
			RawType:   r.SubscriptionInfo.Type,
			ExpiresAt: epoch(r.SubscriptionInfo.ExpiresAt),
		},
	}
	if exp := res.Subscription.ExpiresAt; exp != nil {
		days := int(math.Ceil(time.Until(*exp).Hours() / 24))
		res.Subscription.DaysRemaining = &days
	}

	var u account.Usage
	for _, b := range r.UsageBreakdownList {
		base := account.Quota{Current: b.CurrentUsage, Limit: b.UsageLimit}
		if u.Base == nil {
			u.Base = &base
		} else {
			u.Base.Current += base.Current
			u.Base.Limit += base.Limit
		}
		u.Current += base.Current
		u.Limit += base.Limit

		if ft := b.FreeTrialInfo; ft != nil && !strings.EqualFold(ft.FreeTrialStatus, "EXPIRED") {
			u.Trial = &account.TrialQuota{
				Quota:     account.Quota{Current: ft.CurrentUsage, Limit: ft.UsageLimit},
				ExpiresAt: epoch(ft.FreeTrialExpiry),
			}
			u.Current += ft.CurrentUsage
			u.Limit += ft.UsageLimit
		}
		for _, bonus := range b.Bonuses {
			name := bonus.DisplayName
			if name == "" {
				name = bonus.BonusCode
			}
			u.Bonuses = append(u.Bonuses, account.BonusGrant{
				Name:      name,
				Quota:     account.Quota{Current: bonus.CurrentUsage, Limit: bonus.UsageLimit},
				ExpiresAt: epoch(bonus.ExpiresAt),
			})
			u.Current += bonus.CurrentUsage
			u.Limit += bonus.UsageLimit
		}
	}
	if u.Limit > 0 {
		u.PercentUsed = math.Round(u.Current/u.Limit*10000) / 100
	}
	u.NextResetAt = epoch(r.NextDateReset)
	res.Usage = u
	return res
}

func planOf(rawType, title string) account.PlanType {
	s := strings.ToUpper(rawType + " " + title)
	switch {
	case strings.Contains(s, "POWER"):
		return account.PlanPower
	case strings.Contains(s, "PRO_PLUS"), strings.Contains(s, "PRO+"), strings.Contains(s, "PROPLUS"), strings.Contains(s, "PRO PLUS"):
		return account.PlanProPlus
	case strings.Contains(s, "PRO"):
		return account.PlanPro
	case strings.Contains(s, "FREE"):
		return account.PlanFree
	default:
		return account.PlanUnknown
	}
}
